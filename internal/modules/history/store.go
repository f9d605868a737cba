// README: Presence history backed by PostgreSQL (append-only snapshots).
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleetloc/internal/modules/location"
	"fleetloc/internal/types"
)

// DefaultTrailLimit caps Trail when the caller passes no limit.
const DefaultTrailLimit = 500

var ErrInvalidInput = errors.New("invalid history query")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RecordPresence appends one snapshot. It satisfies location.HistoryRecorder.
func (s *Store) RecordPresence(ctx context.Context, snap location.Snapshot) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO presence_snapshots (worker_id, status, lat, lng, recorded_at)
        VALUES ($1, $2, $3, $4, $5)`,
		string(snap.WorkerID),
		string(snap.Status),
		snap.Position.Lat, snap.Position.Lng,
		snap.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert presence snapshot: %w", err)
	}
	return nil
}

// Trail returns a worker's snapshots recorded at or after since, newest first.
func (s *Store) Trail(ctx context.Context, workerID types.ID, since time.Time, limit int) ([]location.Snapshot, error) {
	if workerID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > DefaultTrailLimit {
		limit = DefaultTrailLimit
	}
	rows, err := s.db.Query(ctx, `
        SELECT worker_id, status, lat, lng, recorded_at
        FROM presence_snapshots
        WHERE worker_id = $1 AND recorded_at >= $2
        ORDER BY recorded_at DESC, id DESC
        LIMIT $3`,
		string(workerID), since.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query presence trail: %w", err)
	}
	defer rows.Close()

	var out []location.Snapshot
	for rows.Next() {
		var snap location.Snapshot
		var id, status string
		if err := rows.Scan(&id, &status, &snap.Position.Lat, &snap.Position.Lng, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.WorkerID = types.ID(id)
		snap.Status = location.Status(status)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Prune deletes snapshots recorded before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM presence_snapshots WHERE recorded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune presence snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
