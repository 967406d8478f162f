package sql

import (
	"context"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

type jobStore Store

func (j *jobStore) PutJob(ctx context.Context, rec storage.JobRecord) error {
	s := (*Store)(j)
	q := "INSERT INTO jobs (id, scheduled_at, props) VALUES (" + s.phs(1, 3) + ") " +
		s.dialect.UpsertSuffix([]string{"id"}, []string{"scheduled_at", "props"})
	_, err := s.db.ExecContext(ctx, q, rec.ID.String(), rec.ScheduledAt, rec.Props)
	return err
}

func (j *jobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s := (*Store)(j)
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = "+s.ph(1), id.String())
	return err
}

func (j *jobStore) ListJobs(ctx context.Context) ([]storage.JobRecord, error) {
	s := (*Store)(j)
	rows, err := s.db.QueryContext(ctx, "SELECT id, scheduled_at, props FROM jobs ORDER BY scheduled_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.JobRecord
	for rows.Next() {
		var idStr string
		var rec storage.JobRecord
		if err := rows.Scan(&idStr, &rec.ScheduledAt, &rec.Props); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		rec.ID = id
		out = append(out, rec)
	}
	return out, rows.Err()
}
