//go:build k8s

// This file is built only with -tags k8s, since in-cluster secret discovery
// is an optional deployment mode: most callers supply ConnectionConfig
// directly or through config-backup snapshots. Grounded on the teacher's
// internal/infrastructure/k8s/client.go, generalized from publishing-target
// secrets to connector credential secrets.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

// SecretDiscovery finds ConnectionConfig material stashed in Kubernetes
// Secrets labeled for this platform, for clusters that prefer managing
// connector credentials as native Secret objects instead of through the
// vault's own credential store.
type SecretDiscovery struct {
	clientset kubernetes.Interface
	logger    *slog.Logger
	timeout   time.Duration
}

// NewSecretDiscovery loads in-cluster config and builds a clientset. It
// fails fast if not running inside a cluster.
func NewSecretDiscovery(logger *slog.Logger, timeout time.Duration) (*SecretDiscovery, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, apperrors.New(apperrors.KindConnectionFailed, "registry.NewSecretDiscovery", err)
	}
	cfg.Timeout = timeout
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, apperrors.New(apperrors.KindConnectionFailed, "registry.NewSecretDiscovery", err)
	}
	return &SecretDiscovery{clientset: clientset, logger: logger, timeout: timeout}, nil
}

// defaultLabelSelector matches Secrets this platform's operator annotates
// for connector credential discovery.
const defaultLabelSelector = "dataplatform.dafelhub.io/connector=true"

// ListConnectionConfigs lists Secrets in namespace matching the connector
// label and decodes each into a ConnectionConfig. A Secret missing a
// required key is skipped with a warning rather than failing the whole
// listing.
func (d *SecretDiscovery) ListConnectionConfigs(ctx context.Context, namespace string) ([]connector.ConnectionConfig, error) {
	listCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	secrets, err := d.clientset.CoreV1().Secrets(namespace).List(listCtx, metav1.ListOptions{
		LabelSelector: defaultLabelSelector,
		Limit:         1000,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindConnectionFailed, "registry.ListConnectionConfigs", err)
	}

	var out []connector.ConnectionConfig
	for _, secret := range secrets.Items {
		cfg, err := decodeSecret(secret)
		if err != nil {
			d.logger.Warn("skipping malformed connector secret", "secret", secret.Name, "error", err)
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func decodeSecret(secret corev1.Secret) (connector.ConnectionConfig, error) {
	get := func(key string) string { return string(secret.Data[key]) }

	backend := connector.Backend(get("backend"))
	if backend == "" {
		return connector.ConnectionConfig{}, fmt.Errorf("secret %s missing backend key", secret.Name)
	}
	host := get("host")
	if host == "" {
		return connector.ConnectionConfig{}, fmt.Errorf("secret %s missing host key", secret.Name)
	}
	port, _ := strconv.Atoi(get("port"))

	cfg := connector.ConnectionConfig{
		ID:       secret.Name,
		Backend:  backend,
		Host:     host,
		Port:     port,
		Database: get("database"),
		Username: get("username"),
		Password: get("password"),
		Options:  map[string]string{},
	}
	return cfg, nil
}

// Health verifies the K8s API is reachable.
func (d *SecretDiscovery) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := d.clientset.Discovery().ServerVersion()
	if err != nil {
		return apperrors.New(apperrors.KindHealthCheckFailed, "registry.SecretDiscovery.Health", err)
	}
	if healthCtx.Err() != nil {
		return apperrors.New(apperrors.KindTimeout, "registry.SecretDiscovery.Health", healthCtx.Err())
	}
	return nil
}
