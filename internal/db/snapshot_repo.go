package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crosswatch/internal/types"
)

// SnapshotArchive provides data access for the traffic_snapshots table, the
// per-assembly summary log written by the intelligence service. Rows are
// summaries only: camera frames and the full VLM output never touch the
// database.
type SnapshotArchive struct {
	db DBTX
}

// NewSnapshotArchive creates a new SnapshotArchive backed by the given
// database connection (pool or transaction).
func NewSnapshotArchive(db DBTX) *SnapshotArchive {
	return &SnapshotArchive{db: db}
}

// Insert persists one snapshot summary row. A missing ID is assigned here so
// callers never deal in row identity.
func (r *SnapshotArchive) Insert(ctx context.Context, rec types.SnapshotRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO traffic_snapshots (
			id, assembled_at, total_density, total_pedestrians,
			intersection_status, short_forecast, alert_count, vlm_degraded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.AssembledAt,
		rec.TotalDensity,
		rec.TotalPedestrians,
		rec.Status,
		rec.ShortForecast,
		rec.AlertCount,
		rec.VLMDegraded,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert snapshot record", err)
	}
	return nil
}

// Recent returns up to limit snapshot summaries, newest first. A non-zero
// before bound restricts results to rows assembled strictly before it, which
// is how callers page backward through the archive.
//
// Uses limit+1 fetch strategy to determine HasMore without a separate COUNT
// query. NextCursor is the assembled_at of the last returned row.
func (r *SnapshotArchive) Recent(ctx context.Context, limit int, before time.Time) ([]types.SnapshotRecord, types.PageInfo, error) {
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}
	if limit > types.MaxHistoryLimit {
		limit = types.MaxHistoryLimit
	}

	query := `
		SELECT id, assembled_at, total_density, total_pedestrians,
		       intersection_status, short_forecast, alert_count, vlm_degraded
		FROM traffic_snapshots`

	var args []any
	if !before.IsZero() {
		query += `
		WHERE assembled_at < $1`
		args = append(args, before)
	}
	query += fmt.Sprintf(`
		ORDER BY assembled_at DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to query snapshot records", err)
	}
	defer rows.Close()

	var records []types.SnapshotRecord
	for rows.Next() {
		var rec types.SnapshotRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.AssembledAt,
			&rec.TotalDensity,
			&rec.TotalPedestrians,
			&rec.Status,
			&rec.ShortForecast,
			&rec.AlertCount,
			&rec.VLMDegraded,
		); err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan snapshot record row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating snapshot record rows", err)
	}

	// Determine pagination info using limit+1 strategy.
	pageInfo := types.PageInfo{}
	if len(records) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = records[limit-1].AssembledAt.Format(time.RFC3339Nano)
		records = records[:limit]
	}

	return records, pageInfo, nil
}
