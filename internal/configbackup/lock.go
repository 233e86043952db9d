package configbackup

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/infrastructure/lock"
)

const snapshotLockKey = "dataplatform:configbackup:snapshot"

// WithSnapshotLock runs fn while holding a cluster-wide lock over snapshot
// creation, so two dataplatformd instances never write the same snapshot
// id concurrently, using the redis-backed internal/infrastructure/lock.DistributedLock.
func WithSnapshotLock(ctx context.Context, client *redis.Client, logger *slog.Logger, fn func() error) error {
	l := lock.NewDistributedLock(client, snapshotLockKey, nil, logger)
	acquired, err := l.Acquire(ctx)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "configbackup.WithSnapshotLock", err)
	}
	if !acquired {
		return apperrors.New(apperrors.KindConnectionFailed, "configbackup.WithSnapshotLock", errLockHeld)
	}
	defer l.Release(ctx)
	return fn()
}

type lockHeldError struct{}

func (lockHeldError) Error() string { return "snapshot lock is already held" }

var errLockHeld = lockHeldError{}
