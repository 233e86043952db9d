package configbackup

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// ValidateContent runs a syntactic check appropriate to contentType,
// mirroring the original's _validate_single_config dispatch. Unknown
// content types are always valid, since there is no grammar to check.
func ValidateContent(contentType string, content []byte) []string {
	var errs []string
	switch contentType {
	case "json":
		var v any
		if err := json.Unmarshal(content, &v); err != nil {
			errs = append(errs, fmt.Sprintf("invalid JSON: %v", err))
		}
	case "yaml":
		var v any
		if err := yaml.Unmarshal(content, &v); err != nil {
			errs = append(errs, fmt.Sprintf("invalid YAML: %v", err))
		}
	case "toml":
		var v map[string]any
		if err := toml.Unmarshal(content, &v); err != nil {
			errs = append(errs, fmt.Sprintf("invalid TOML: %v", err))
		}
	case "ini":
		if _, err := ini.Load(content); err != nil {
			errs = append(errs, fmt.Sprintf("invalid INI: %v", err))
		}
	}
	return errs
}

// Validate runs ValidateContent over every item, given its raw content,
// and aggregates into a ValidationSummary, mirroring the original's
// _validate_configurations.
func Validate(items []Item, contents map[string][]byte) ValidationSummary {
	summary := ValidationSummary{TotalFiles: len(items)}
	for _, item := range items {
		errs := ValidateContent(item.ContentType, contents[item.Path])
		result := ValidationResult{Path: item.Path, Valid: len(errs) == 0, Errors: errs}
		summary.Results = append(summary.Results, result)
		if result.Valid {
			summary.ValidFiles++
		} else {
			summary.InvalidFiles++
		}
	}
	return summary
}
