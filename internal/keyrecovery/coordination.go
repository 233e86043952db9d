package keyrecovery

import (
	"context"
	"fmt"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/infrastructure/cache"
)

// shareLocationsKey namespaces the Redis SET tracking which directories
// currently hold a fresh share for a given key, so a multi-node deployment
// can tell whether a BackupKey call actually reached every location before
// declaring the backup complete.
func shareLocationsKey(keyID string) string {
	return fmt.Sprintf("dataplatform:keyrecovery:locations:%s", keyID)
}

// Coordinator records and checks share-location membership across a
// cluster of dataplatformd instances sharing one Redis-backed cache,
// using the Redis sets that SPEC_FULL.md's domain-stack table names for
// tracking Shamir share locations.
// A nil Coordinator is valid and turns every method into a no-op, for the
// single-node Lite profile where no Redis is configured.
type Coordinator struct {
	cache cache.Cache
}

// NewCoordinator wraps an existing cache client. Pass nil to get a
// no-op Coordinator.
func NewCoordinator(c cache.Cache) *Coordinator {
	return &Coordinator{cache: c}
}

// RecordLocations announces that this node's BackupKey call wrote shares to
// every path in locations, so other nodes sharing the cache can tell the
// key has been replicated to all of them.
func (co *Coordinator) RecordLocations(ctx context.Context, keyID string, locations []string) error {
	if co == nil || co.cache == nil || len(locations) == 0 {
		return nil
	}
	members := make([]interface{}, len(locations))
	for i, l := range locations {
		members[i] = l
	}
	if err := co.cache.SAdd(ctx, shareLocationsKey(keyID), members...); err != nil {
		return apperrors.New(apperrors.KindUnknown, "keyrecovery.Coordinator.RecordLocations", err)
	}
	return nil
}

// KnownLocations returns every location any node has recorded for keyID.
// Returns an empty slice, not an error, when no Coordinator cache is
// configured.
func (co *Coordinator) KnownLocations(ctx context.Context, keyID string) ([]string, error) {
	if co == nil || co.cache == nil {
		return nil, nil
	}
	members, err := co.cache.SMembers(ctx, shareLocationsKey(keyID))
	if err != nil {
		return nil, apperrors.New(apperrors.KindUnknown, "keyrecovery.Coordinator.KnownLocations", err)
	}
	return members, nil
}

// FullyReplicated reports whether the number of known locations for keyID
// has reached want, i.e. every expected replica has confirmed its share.
func (co *Coordinator) FullyReplicated(ctx context.Context, keyID string, want int) (bool, error) {
	if co == nil || co.cache == nil {
		return true, nil
	}
	count, err := co.cache.SCard(ctx, shareLocationsKey(keyID))
	if err != nil {
		return false, apperrors.New(apperrors.KindUnknown, "keyrecovery.Coordinator.FullyReplicated", err)
	}
	return int(count) >= want, nil
}
