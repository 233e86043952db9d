package configbackup

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExcludePatterns mirrors the original's _initialize_exclude_patterns
// default list: secrets, build artifacts, and this module's own backup
// output directories are never scanned.
var DefaultExcludePatterns = []string{
	"*.log", "*.tmp", "*.cache",
	".git/*", "node_modules/*",
	"*.secret", "*.key", "*.pem", "*.p12", "*.pfx",
	"*password*", "*secret*",
	"audit_backup/*", "config_backup/*",
}

var sensitiveIndicators = []string{
	"password", "secret", "key", "token", "credential",
	"private", "auth", "cert", "database_url", "connection_string",
}

// DetectContentType classifies a file by extension/name, mirroring the
// original's _detect_content_type.
func DetectContentType(path string) string {
	name := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".json":
		return "json"
	case ext == ".yaml" || ext == ".yml":
		return "yaml"
	case ext == ".ini" || ext == ".cfg" || ext == ".conf":
		return "ini"
	case strings.HasPrefix(name, ".env"):
		return "env"
	case ext == ".toml":
		return "toml"
	case name == "dockerfile":
		return "dockerfile"
	default:
		return "text"
	}
}

// isSensitive reports whether a path or its content sample contains a
// secret indicator, mirroring the original's _is_sensitive_config.
func isSensitive(path string, sample []byte) bool {
	lowerPath := strings.ToLower(path)
	for _, ind := range sensitiveIndicators {
		if strings.Contains(lowerPath, ind) {
			return true
		}
	}
	lowerSample := strings.ToLower(string(sample))
	if len(lowerSample) > 1000 {
		lowerSample = lowerSample[:1000]
	}
	for _, ind := range sensitiveIndicators {
		if strings.Contains(lowerSample, ind) {
			return true
		}
	}
	return false
}

func shouldExclude(relPath string, excludes []string) bool {
	for _, pattern := range excludes {
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}

// Scan walks every path in roots (files are taken as-is, directories are
// walked recursively), skipping anything matching excludes, and returns
// one Item plus the raw file content per scanned file.
func Scan(roots []string, excludes []string) ([]Item, map[string][]byte, error) {
	items := []Item{}
	contents := map[string][]byte{}

	visit := func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			// A directory named by a "name/*" pattern is skipped along
			// with everything beneath it.
			if shouldExclude(filepath.Join(d.Name(), "_"), excludes) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldExclude(path, excludes) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		sum := sha256.Sum256(raw)
		items = append(items, Item{
			Path:         path,
			ContentType:  DetectContentType(path),
			ContentHash:  hex.EncodeToString(sum[:]),
			LastModified: info.ModTime(),
			SizeBytes:    info.Size(),
			Sensitive:    isSensitive(path, raw),
		})
		contents[path] = raw
		return nil
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			continue // non-existent configured path is skipped, not an error
		}
		if !info.IsDir() {
			if err := visit(root, fs.FileInfoToDirEntry(info)); err != nil {
				return nil, nil, err
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			return visit(path, d)
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return items, contents, nil
}
