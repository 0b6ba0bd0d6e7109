package indexdb

import (
	"context"
	"database/sql"
	"errors"
)

type TransitionRow struct {
	Tick     uint64 `json:"tick"`
	Task     uint64 `json:"task"`
	Kind     string `json:"kind"`
	Employee uint64 `json:"employee,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason,omitempty"`
}

type SnapshotRef struct {
	Tick uint64
	Path string
}

// TaskHistory returns every recorded transition of task in tick order.
func (s *SQLiteIndex) TaskHistory(ctx context.Context, task uint64) ([]TransitionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,task,kind,employee,from_status,to_status,COALESCE(reason,'')
		 FROM task_transitions WHERE task=? ORDER BY tick,seq`, int64(task))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransitionRow
	for rows.Next() {
		var r TransitionRow
		if err := rows.Scan(&r.Tick, &r.Task, &r.Kind, &r.Employee, &r.From, &r.To, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TickDigest returns the digest recorded for tick.
func (s *SQLiteIndex) TickDigest(ctx context.Context, tick uint64) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM ticks WHERE tick=?`, int64(tick)).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

// LatestSnapshot returns the newest recorded snapshot file.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRef, bool, error) {
	var ref SnapshotRef
	err := s.db.QueryRowContext(ctx, `SELECT tick,path FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&ref.Tick, &ref.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRef{}, false, nil
	}
	if err != nil {
		return SnapshotRef{}, false, err
	}
	return ref, true, nil
}

// AuditCount returns how many audit rows carry action.
func (s *SQLiteIndex) AuditCount(ctx context.Context, action string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audits WHERE action=?`, action).Scan(&n)
	return n, err
}
