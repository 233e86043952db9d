package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Allows_Basic(t *testing.T) {
	p := Policy{
		DatabaseGlobs: []string{"prod_*"},
		PermittedOps:  map[Permission]bool{PermissionRead: true},
		SubjectRoles:  []string{"analyst"},
	}
	now := time.Now()

	assert.True(t, p.Allows(Subject{Roles: []string{"analyst"}}, "prod_orders", PermissionRead, now))
	assert.False(t, p.Allows(Subject{Roles: []string{"guest"}}, "prod_orders", PermissionRead, now), "subject role mismatch")
	assert.False(t, p.Allows(Subject{Roles: []string{"analyst"}}, "staging_orders", PermissionRead, now), "database glob mismatch")
	assert.False(t, p.Allows(Subject{Roles: []string{"analyst"}}, "prod_orders", PermissionWrite, now), "op not permitted")
}

func TestPolicy_Expiry(t *testing.T) {
	now := time.Now()
	p := Policy{
		PermittedOps: map[Permission]bool{PermissionRead: true},
		ValidUntil:   now.Add(-time.Hour),
	}
	assert.False(t, p.Allows(Subject{}, "anydb", PermissionRead, now))
}

func TestPolicy_IPAllowList(t *testing.T) {
	p := Policy{
		PermittedOps: map[Permission]bool{PermissionRead: true},
		IPAllowList:  []string{"10.0.0.0/8"},
	}
	now := time.Now()
	assert.True(t, p.Allows(Subject{IP: "10.1.2.3"}, "db", PermissionRead, now))
	assert.False(t, p.Allows(Subject{IP: "192.168.1.1"}, "db", PermissionRead, now))
	assert.False(t, p.Allows(Subject{IP: ""}, "db", PermissionRead, now), "missing ip with a non-empty allow-list denies")
}

func TestPolicy_EmptyAllowListPermitsAnyIP(t *testing.T) {
	p := Policy{PermittedOps: map[Permission]bool{PermissionRead: true}}
	assert.True(t, p.Allows(Subject{IP: "203.0.113.9"}, "db", PermissionRead, time.Now()))
}

func TestSet_UnionEvaluation(t *testing.T) {
	s := NewSet(
		Policy{DatabaseGlobs: []string{"billing"}, PermittedOps: map[Permission]bool{PermissionRead: true}},
		Policy{DatabaseGlobs: []string{"inventory"}, PermittedOps: map[Permission]bool{PermissionWrite: true}},
	)
	now := time.Now()
	assert.True(t, s.Allows(Subject{}, "billing", PermissionRead, now))
	assert.True(t, s.Allows(Subject{}, "inventory", PermissionWrite, now))
	assert.False(t, s.Allows(Subject{}, "billing", PermissionWrite, now))
}

func TestSet_DefaultDeny(t *testing.T) {
	s := NewSet()
	assert.False(t, s.Allows(Subject{ID: "anyone"}, "anydb", PermissionRead, time.Now()))
}
