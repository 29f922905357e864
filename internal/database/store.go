package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/relaybot/internal/logger"
)

// Store defines the persistence operations used by relaybot.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// LoadDispatchState returns the persisted dispatch state, or nil, nil
	// when no dispatch has ever been recorded.
	LoadDispatchState(ctx context.Context) (*DispatchState, error)

	// SaveDispatchState inserts or replaces the single dispatch state row.
	SaveDispatchState(ctx context.Context, state *DispatchState) error

	// RecordDelivery appends a row to the delivery log.
	RecordDelivery(ctx context.Context, d *Delivery) error

	// RecentDeliveries returns up to limit log rows, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)

	// PruneDeliveries deletes log rows created before the cutoff.
	PruneDeliveries(ctx context.Context, before time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore implements Store on top of sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by a connected sqlx.DB.
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	return &sqlxStore{
		db:     db,
		logger: logger.OrDefault(log).With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) LoadDispatchState(ctx context.Context) (*DispatchState, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var state DispatchState
	query := `
        SELECT id, last_dispatch_at, last_dispatch_date, updated_at
        FROM dispatch_state
        WHERE id = 1;
    `
	err := s.db.GetContext(ctx, &state, query)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.DebugContext(ctx, "No dispatch state recorded yet")
		return nil, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error loading dispatch state", "error", err)
		return nil, fmt.Errorf("failed to load dispatch state: %w", err)
	}
	return &state, nil
}

func (s *sqlxStore) SaveDispatchState(ctx context.Context, state *DispatchState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil dispatch state")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	state.ID = 1
	state.UpdatedAt = time.Now().UTC()
	if state.LastDispatchAt.Valid {
		state.LastDispatchAt.Time = state.LastDispatchAt.Time.UTC()
	}

	query := `
        INSERT INTO dispatch_state (id, last_dispatch_at, last_dispatch_date, updated_at)
        VALUES (:id, :last_dispatch_at, :last_dispatch_date, :updated_at)
        ON CONFLICT(id) DO UPDATE SET
            last_dispatch_at = excluded.last_dispatch_at,
            last_dispatch_date = excluded.last_dispatch_date,
            updated_at = excluded.updated_at;
    `
	if _, err := s.db.NamedExecContext(ctx, query, state); err != nil {
		s.logger.ErrorContext(ctx, "Error saving dispatch state", "date", state.LastDispatchDate, "error", err)
		return fmt.Errorf("failed to save dispatch state: %w", err)
	}

	s.logger.DebugContext(ctx, "Dispatch state saved", "date", state.LastDispatchDate)
	return nil
}

func (s *sqlxStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d == nil {
		return fmt.Errorf("cannot record nil delivery")
	}
	if d.Kind == "" || d.Outcome == "" {
		return fmt.Errorf("delivery must have kind and outcome")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	query := `
        INSERT INTO deliveries (kind, source, outcome, attempts, created_at)
        VALUES (:kind, :source, :outcome, :attempts, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, d)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recording delivery", "kind", d.Kind, "outcome", d.Outcome, "error", err)
		return fmt.Errorf("failed to record %s delivery: %w", d.Kind, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}

func (s *sqlxStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	} else if limit > 500 {
		limit = 500
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var rows []Delivery
	query := `
        SELECT id, kind, source, outcome, attempts, created_at
        FROM deliveries
        ORDER BY id DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing deliveries", "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return rows, nil
}

func (s *sqlxStore) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?;`, before.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning deliveries", "before", before, "error", err)
		return 0, fmt.Errorf("failed to prune deliveries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned deliveries: %w", err)
	}
	s.logger.InfoContext(ctx, "Pruned delivery log", "before", before, "deleted", n)
	return n, nil
}

// RunSQLMaintenance executes VACUUM, which SQLite requires outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)")

	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
