package coordinator

import (
	"context"

	"github.com/google/uuid"
	"github.com/limbo/routinesync/pkg/entity"
)

// LocalCacheI is the device-local store the coordinator reads first and
// mirrors confirmed remote state into. Satisfied by *localcache.Cache.
type LocalCacheI interface {
	GetAll(ctx context.Context) ([]entity.Routine, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Routine, error)
	Save(ctx context.Context, r *entity.Routine) error
	Delete(ctx context.Context, id uuid.UUID) error
	Clear(ctx context.Context) error
	SyncQueue(ctx context.Context) ([]entity.SyncIntent, error)
	ClearSyncQueue(ctx context.Context) error
}

// SubscriptionI is a live remote change channel with idempotent teardown.
type SubscriptionI interface {
	Events() <-chan entity.ChangeEvent
	Close()
}

type SubscriberI interface {
	Subscribe(ctx context.Context, ownerID uuid.UUID) (SubscriptionI, error)
}

// Snapshot is the consumer-facing read result: the current cached list plus
// the two progress flags the presentation layer may rely on.
type Snapshot struct {
	Routines []entity.Routine `json:"routines"`
	// Loading is true until the local cache has been read once.
	Loading bool `json:"loading"`
	// Syncing is true while a background remote fetch is in flight.
	Syncing bool `json:"syncing"`
}

type CoordinatorI interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Create(ctx context.Context, input *entity.RoutineInput) (*entity.Routine, error)
	Update(ctx context.Context, patch *entity.RoutinePatch) (*entity.Routine, error)
	ToggleComplete(ctx context.Context, id uuid.UUID, completed bool) (*entity.Routine, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
