// Package registry implements the Connector Registry (C6): backend
// detection from a URI or port, active TCP discovery, and construction
// dispatch across the internal/connector/{postgres,mysql,mongo,sqlite}
// drivers. Grounded on the teacher's factory-style construction in
// internal/database/postgres/config.go, generalized to multiple backends.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/connector/mongo"
	"github.com/dafelhub/dataplatform/internal/connector/mysql"
	"github.com/dafelhub/dataplatform/internal/connector/postgres"
	"github.com/dafelhub/dataplatform/internal/connector/sqlite"
)

// Detection is the outcome of URI or port sniffing: a backend tag with a
// confidence score capped at 1.0, per spec §4.2.
type Detection struct {
	Backend    connector.Backend
	Confidence float64
}

// wellKnownPorts maps a default port to its backend tag for port detection
// and active discovery.
var wellKnownPorts = map[int]connector.Backend{
	5432:  connector.BackendPostgres,
	3306:  connector.BackendMySQL,
	27017: connector.BackendMongo,
}

// schemePrefixes maps a URI scheme to a backend tag and confidence.
// DetectURI returns the first entry whose prefix matches.
var schemePrefixes = []struct {
	prefix     string
	backend    connector.Backend
	confidence float64
}{
	{"postgresql://", connector.BackendPostgres, 1.0},
	{"postgres://", connector.BackendPostgres, 1.0},
	{"mysql://", connector.BackendMySQL, 1.0},
	{"mysql+", connector.BackendMySQL, 0.9},
	{"mongodb+srv://", connector.BackendMongo, 1.0},
	{"mongodb://", connector.BackendMongo, 1.0},
	{"sqlite://", connector.BackendSQLite, 1.0},
}

// substringRules fire when no scheme prefix matches, e.g. a bare path or a
// malformed URI that still carries a recognizable token.
var substringRules = []struct {
	token      string
	backend    connector.Backend
	confidence float64
}{
	{"postgres", connector.BackendPostgres, 0.6},
	{"mysql", connector.BackendMySQL, 0.6},
	{"mongo", connector.BackendMongo, 0.6},
	{"sqlite", connector.BackendSQLite, 0.6},
	{".db", connector.BackendSQLite, 0.4},
}

// DetectURI implements spec §4.2's scheme-prefix-then-substring detection.
// It never returns a confidence above 1.0 and returns an empty Backend ("")
// with zero confidence when nothing matches.
func DetectURI(uri string) Detection {
	lower := strings.ToLower(uri)
	for _, rule := range schemePrefixes {
		if strings.HasPrefix(lower, rule.prefix) {
			return Detection{Backend: rule.backend, Confidence: rule.confidence}
		}
	}
	best := Detection{}
	for _, rule := range substringRules {
		if strings.Contains(lower, rule.token) && rule.confidence > best.Confidence {
			best = Detection{Backend: rule.backend, Confidence: rule.confidence}
		}
	}
	return best
}

// DetectPort looks up a fixed well-known-port map; ok is false for an
// unrecognized port.
func DetectPort(port int) (connector.Backend, bool) {
	b, ok := wellKnownPorts[port]
	return b, ok
}

// DiscoverCandidate is one open port found during active discovery.
type DiscoverCandidate struct {
	Port    int
	Backend connector.Backend
}

// Discover attempts a TCP dial to every well-known port on host in
// parallel, bounded by timeout, per spec §4.2. Ports that refuse or time
// out are silently excluded; this is best-effort reconnaissance, not a
// health check.
func Discover(ctx context.Context, host string, timeout time.Duration) []DiscoverCandidate {
	var (
		mu    sync.Mutex
		found []DiscoverCandidate
		wg    sync.WaitGroup
	)
	for port, backend := range wellKnownPorts {
		wg.Add(1)
		go func(port int, backend connector.Backend) {
			defer wg.Done()
			d := net.Dialer{Timeout: timeout}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return
			}
			conn.Close()
			mu.Lock()
			found = append(found, DiscoverCandidate{Port: port, Backend: backend})
			mu.Unlock()
		}(port, backend)
	}
	wg.Wait()
	return found
}

// ParseURI extracts a ConnectionConfig from a connection URI matching
// spec §10's accepted grammar. Unrecognized schemes are still parsed
// structurally and passed through with an empty Backend for the caller to
// set, since the registry's job here is field extraction, not validation.
func ParseURI(raw string) (connector.ConnectionConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return connector.ConnectionConfig{}, apperrors.New(apperrors.KindInvalidConfig, "registry.ParseURI", err)
	}
	cfg := connector.ConnectionConfig{
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Options:  map[string]string{},
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, perr := strconv.Atoi(p)
		if perr != nil {
			return connector.ConnectionConfig{}, apperrors.New(apperrors.KindInvalidConfig, "registry.ParseURI", perr)
		}
		cfg.Port = port
	}
	for k, v := range u.Query() {
		if len(v) > 0 {
			cfg.Options[k] = v[0]
		}
	}
	det := DetectURI(raw)
	cfg.Backend = det.Backend
	return cfg, nil
}

// OptimizationDefaults are additive config patches applied per backend
// before construction, per spec §4.2's optimization hook. Disabled by
// passing applyDefaults=false to New.
var OptimizationDefaults = map[connector.Backend]map[string]string{
	connector.BackendPostgres: {"statement_cache_size": "256", "sslmode": "prefer"},
	connector.BackendMySQL:    {"charset": "utf8mb4", "parseTime": "true"},
	connector.BackendMongo:    {"compressors": "zstd"},
	connector.BackendSQLite:   {"journal_mode": "WAL"},
}

// applyOptimizationDefaults patches cfg.Options additively: it never
// overwrites a key the caller already set.
func applyOptimizationDefaults(cfg *connector.ConnectionConfig) {
	defaults, ok := OptimizationDefaults[cfg.Backend]
	if !ok {
		return
	}
	if cfg.Options == nil {
		cfg.Options = map[string]string{}
	}
	for k, v := range defaults {
		if _, exists := cfg.Options[k]; !exists {
			cfg.Options[k] = v
		}
	}
}

// New constructs a connector.Connector dispatched by cfg.Backend, per
// spec §4.2. An unrecognized backend tag is InvalidConfiguration.
func New(cfg connector.ConnectionConfig, logger *slog.Logger, applyDefaults bool) (connector.Connector, error) {
	cfg = cfg.Clone()
	if applyDefaults {
		applyOptimizationDefaults(&cfg)
	}
	switch cfg.Backend {
	case connector.BackendPostgres:
		return postgres.New(cfg, logger)
	case connector.BackendMySQL:
		return mysql.New(cfg, logger)
	case connector.BackendMongo:
		return mongo.New(cfg, logger)
	case connector.BackendSQLite:
		return sqlite.New(cfg, logger)
	default:
		return nil, apperrors.New(apperrors.KindInvalidConfig, "registry.New", fmt.Errorf("unsupported backend tag %q", cfg.Backend))
	}
}

// NewFromURI parses raw, detects its backend, and constructs a connector in
// one call, applying optimization defaults.
func NewFromURI(raw string, logger *slog.Logger) (connector.Connector, error) {
	cfg, err := ParseURI(raw)
	if err != nil {
		return nil, err
	}
	return New(cfg, logger, true)
}
