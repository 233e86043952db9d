// Package policy implements the Policy Set (C9): a union-evaluated,
// default-deny access-control set over subjects, databases, operations, and
// network origin. Grounded on original_source/security/rbac.py's permission
// vocabulary, collapsed to spec §4.6's coarse 5-value enum per Open
// Question #1 (see DESIGN.md).
package policy

import (
	"net"
	"path/filepath"
	"strings"
	"time"
)

// Permission is the coarse operation-permission enum spec §4.6 classifies
// every op-kind into.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
	PermissionSchema Permission = "schema"
	PermissionAdmin  Permission = "admin"
)

// Subject identifies the caller a policy is evaluated against.
type Subject struct {
	ID    string
	Roles []string
	IP    string
}

// Policy is one access-control rule, per spec §3's data model.
type Policy struct {
	ID              string
	DatabaseGlobs   []string
	PermittedOps    map[Permission]bool
	AccessLevel     string
	SubjectRoles    []string
	SubjectIDs      []string
	IPAllowList     []string
	ValidFrom       time.Time
	ValidUntil      time.Time
	// Resource scopes a policy to a specific object (table/collection) name
	// beyond the database glob. Unused by Allows today; reserved for future
	// scoping per Open Question #1.
	Resource string
}

// expired reports whether now falls outside [ValidFrom, ValidUntil]. A zero
// ValidUntil means "no expiry".
func (p Policy) expired(now time.Time) bool {
	if !p.ValidFrom.IsZero() && now.Before(p.ValidFrom) {
		return true
	}
	if !p.ValidUntil.IsZero() && now.After(p.ValidUntil) {
		return true
	}
	return false
}

func (p Policy) subjectMatches(s Subject) bool {
	if len(p.SubjectIDs) == 0 && len(p.SubjectRoles) == 0 {
		return true
	}
	for _, id := range p.SubjectIDs {
		if id == s.ID {
			return true
		}
	}
	for _, role := range p.SubjectRoles {
		for _, sr := range s.Roles {
			if role == sr {
				return true
			}
		}
	}
	return false
}

func (p Policy) databaseMatches(database string) bool {
	if len(p.DatabaseGlobs) == 0 {
		return true
	}
	for _, glob := range p.DatabaseGlobs {
		if ok, err := filepath.Match(glob, database); err == nil && ok {
			return true
		}
	}
	return false
}

func (p Policy) opPermitted(op Permission) bool {
	if len(p.PermittedOps) == 0 {
		return false
	}
	return p.PermittedOps[op]
}

func (p Policy) ipAllowed(ip string) bool {
	if len(p.IPAllowList) == 0 {
		return true
	}
	if ip == "" {
		return false
	}
	addr := net.ParseIP(ip)
	for _, allowed := range p.IPAllowList {
		if strings.Contains(allowed, "/") {
			_, cidr, err := net.ParseCIDR(allowed)
			if err == nil && addr != nil && cidr.Contains(addr) {
				return true
			}
			continue
		}
		if allowed == ip {
			return true
		}
	}
	return false
}

// Allows evaluates a single policy per spec §4.5: unexpired, subject
// matches, database matches at least one glob, op is permitted, and the
// subject's ip is allow-listed (or the allow-list is empty).
func (p Policy) Allows(subject Subject, database string, op Permission, now time.Time) bool {
	if p.expired(now) {
		return false
	}
	if !p.subjectMatches(subject) {
		return false
	}
	if !p.databaseMatches(database) {
		return false
	}
	if !p.opPermitted(op) {
		return false
	}
	if !p.ipAllowed(subject.IP) {
		return false
	}
	return true
}

// Set is a collection of policies evaluated by union, with implicit
// default deny, per spec §4.5.
type Set struct {
	policies []Policy
}

// NewSet builds a policy set from a slice of policies.
func NewSet(policies ...Policy) *Set {
	return &Set{policies: append([]Policy(nil), policies...)}
}

// Add appends a policy to the set.
func (s *Set) Add(p Policy) {
	s.policies = append(s.policies, p)
}

// Allows grants access iff any policy in the set allows it.
func (s *Set) Allows(subject Subject, database string, op Permission, now time.Time) bool {
	for _, p := range s.policies {
		if p.Allows(subject, database, op, now) {
			return true
		}
	}
	return false
}

// Policies returns a copy of the underlying policy slice, for introspection
// by the monitor or an admin CLI.
func (s *Set) Policies() []Policy {
	return append([]Policy(nil), s.policies...)
}
