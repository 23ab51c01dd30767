package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	errorvalues "github.com/limbo/routinesync/internal/error_values"
	"github.com/limbo/routinesync/pkg/cleanup"
	"github.com/limbo/routinesync/pkg/entity"
)

const routineColumns = `id, owner_id, title, description, icon, time, frequency, custom_days,
	active, completed_at, created_at, updated_at`

// RoutinesRepository is the client of the authoritative store. It never
// retries on its own; every failure propagates to the caller so the
// coordinator can decide whether stale local data is acceptable.
type RoutinesRepository struct {
	conn PgConnection
}

func NewRoutinesRepo(cfg DBConfig) *RoutinesRepository {
	pool, err := pgxpool.New(context.Background(), cfg.ConnString())
	if err != nil {
		log.Fatal("creating connection for routinesRepo error: " + err.Error())
	}
	err = pool.Ping(context.Background())
	if err != nil {
		log.Fatal("error while pinging connection for routinesRepo: " + err.Error())
	}
	cleanup.Register(&cleanup.Job{
		Name: "closing pgxpool",
		F: func() error {
			pool.Close()
			return nil
		},
	})
	return &RoutinesRepository{
		conn: pool,
	}
}

func NewRoutinesRepoWithConn(conn PgConnection) *RoutinesRepository {
	err := conn.Ping(context.Background())
	if err != nil {
		log.Fatal("error while pinging connection for routinesRepo: " + err.Error())
	}
	return &RoutinesRepository{
		conn: conn,
	}
}

func (rr *RoutinesRepository) GetAll(ctx context.Context, ownerID uuid.UUID) ([]entity.Routine, error) {
	rows, err := rr.conn.Query(ctx, `SELECT `+routineColumns+`
		FROM routines WHERE owner_id = $1 AND active ORDER BY time ASC, id ASC;`, ownerID)
	if err != nil {
		return nil, errors.New("getting routines by owner error: " + err.Error())
	}
	defer rows.Close()
	routines := make([]entity.Routine, 0)
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, errors.New("unmarshalling routine error: " + err.Error())
		}
		routines = append(routines, r)
	}
	if rows.Err() != nil {
		return nil, errors.New("unexpected error after scanning: " + rows.Err().Error())
	}
	return routines, nil
}

func (rr *RoutinesRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Routine, error) {
	row := rr.conn.QueryRow(ctx, `SELECT `+routineColumns+` FROM routines WHERE id = $1;`, id)
	r, err := scanRoutine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrRoutineNotFound
		}
		return nil, errors.New("getting routine by id error: " + err.Error())
	}
	return &r, nil
}

func (rr *RoutinesRepository) Create(ctx context.Context, ownerID uuid.UUID, input *entity.RoutineInput) (*entity.Routine, error) {
	row := rr.conn.QueryRow(ctx, `INSERT INTO routines (owner_id, title, description, icon, time, frequency, custom_days, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING `+routineColumns+`;`,
		ownerID, input.Title, input.Description, string(input.Icon), input.Time, string(input.Frequency), input.CustomDays,
	)
	r, err := scanRoutine(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			// FK violation: the owner row is gone
			case "23503":
				return nil, errorvalues.ErrOwnerNotFound
			}
		}
		return nil, errors.New("creating routine db error: " + err.Error())
	}
	return &r, nil
}

func (rr *RoutinesRepository) Update(ctx context.Context, patch *entity.RoutinePatch) (*entity.Routine, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Icon != nil {
		add("icon", string(*patch.Icon))
	}
	if patch.Time != nil {
		add("time", *patch.Time)
	}
	if patch.Frequency != nil {
		add("frequency", string(*patch.Frequency))
	}
	if patch.CustomDays != nil {
		add("custom_days", patch.CustomDays)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if len(sets) == 0 {
		return nil, errorvalues.ErrEmptyPatch
	}

	args = append(args, patch.ID)
	query := "UPDATE routines SET "
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += fmt.Sprintf(", updated_at = NOW() WHERE id = $%d RETURNING %s;", len(args), routineColumns)

	row := rr.conn.QueryRow(ctx, query, args...)
	r, err := scanRoutine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrRoutineNotFound
		}
		return nil, errors.New("error updating routine: " + err.Error())
	}
	return &r, nil
}

func (rr *RoutinesRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := rr.conn.Exec(ctx, `DELETE FROM routines WHERE id = $1;`, id)
	if err != nil {
		return errors.New("error deleting routine: " + err.Error())
	}
	if ct.RowsAffected() == 0 {
		return errorvalues.ErrRoutineNotFound
	}
	return nil
}

func (rr *RoutinesRepository) ToggleComplete(ctx context.Context, id uuid.UUID, completed bool) (*entity.Routine, error) {
	row := rr.conn.QueryRow(ctx, `UPDATE routines
		SET completed_at = CASE WHEN $2::bool THEN NOW() ELSE NULL END, updated_at = NOW()
		WHERE id = $1 RETURNING `+routineColumns+`;`, id, completed)
	r, err := scanRoutine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorvalues.ErrRoutineNotFound
		}
		return nil, errors.New("error toggling completion: " + err.Error())
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (entity.Routine, error) {
	var (
		r               entity.Routine
		icon, frequency string
		completedAt     *time.Time
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Description, &icon, &r.Time,
		&frequency, &r.CustomDays, &r.Active, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return entity.Routine{}, err
	}
	r.Icon = entity.Icon(icon)
	r.Frequency = entity.Frequency(frequency)
	r.CompletedAt = completedAt
	return r, nil
}
