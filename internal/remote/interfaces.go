package remote

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/limbo/routinesync/pkg/entity"
)

type RoutinesRepositoryI interface {
	// Fetches all active routines of the owner, ordered by time-of-day
	GetAll(ctx context.Context, ownerID uuid.UUID) ([]entity.Routine, error)
	// Point lookup; absence is reported as errorvalues.ErrRoutineNotFound
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Routine, error)
	// Creates a routine; the server assigns id, created_at and updated_at
	Create(ctx context.Context, ownerID uuid.UUID, input *entity.RoutineInput) (*entity.Routine, error)
	// Partial update by id; the server recomputes updated_at
	Update(ctx context.Context, patch *entity.RoutinePatch) (*entity.Routine, error)
	// Removes the routine
	Delete(ctx context.Context, id uuid.UUID) error
	// Sets or clears completed_at; convenience wrapper over Update semantics
	ToggleComplete(ctx context.Context, id uuid.UUID, completed bool) (*entity.Routine, error)
}

type SubscriberI interface {
	// Opens a live change channel scoped to the owner. The returned
	// subscription keeps itself alive across connection drops.
	Subscribe(ctx context.Context, ownerID uuid.UUID) (*Subscription, error)
}

type DBConfig interface {
	ConnString() string
}

type PgConnection interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGCfg struct {
	Address  string
	Username string
	Password string
	DB       string
}

func (pgcfg *PGCfg) ConnString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s/%s", pgcfg.Username, pgcfg.Password, pgcfg.Address, pgcfg.DB)
}
