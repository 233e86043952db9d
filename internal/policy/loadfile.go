package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileRule mirrors Policy in a YAML-friendly shape: permitted ops as a
// string list rather than a map, and timestamps as RFC3339 strings.
type fileRule struct {
	ID            string   `yaml:"id"`
	DatabaseGlobs []string `yaml:"database_globs"`
	PermittedOps  []string `yaml:"permitted_ops"`
	AccessLevel   string   `yaml:"access_level"`
	SubjectRoles  []string `yaml:"subject_roles"`
	SubjectIDs    []string `yaml:"subject_ids"`
	IPAllowList   []string `yaml:"ip_allow_list"`
	ValidFrom     string   `yaml:"valid_from"`
	ValidUntil    string   `yaml:"valid_until"`
	Resource      string   `yaml:"resource"`
}

type fileDocument struct {
	Policies []fileRule `yaml:"policies"`
}

// LoadSetFromFile reads a YAML policy document (a top-level "policies"
// list) and returns the equivalent Set, for operators who manage the
// Policy Set (C9) as a checked-in file rather than building it in code.
func LoadSetFromFile(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("policy: parsing %s: %w", path, err)
	}
	set := NewSet()
	for _, r := range doc.Policies {
		p, err := r.toPolicy()
		if err != nil {
			return nil, fmt.Errorf("policy: rule %q: %w", r.ID, err)
		}
		set.Add(p)
	}
	return set, nil
}

func (r fileRule) toPolicy() (Policy, error) {
	validFrom, err := parseOptionalTime(r.ValidFrom)
	if err != nil {
		return Policy{}, fmt.Errorf("valid_from: %w", err)
	}
	validUntil, err := parseOptionalTime(r.ValidUntil)
	if err != nil {
		return Policy{}, fmt.Errorf("valid_until: %w", err)
	}
	ops := make(map[Permission]bool, len(r.PermittedOps))
	for _, op := range r.PermittedOps {
		ops[Permission(op)] = true
	}
	return Policy{
		ID:            r.ID,
		DatabaseGlobs: r.DatabaseGlobs,
		PermittedOps:  ops,
		AccessLevel:   r.AccessLevel,
		SubjectRoles:  r.SubjectRoles,
		SubjectIDs:    r.SubjectIDs,
		IPAllowList:   r.IPAllowList,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		Resource:      r.Resource,
	}, nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
