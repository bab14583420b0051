package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PostgresStore keeps audit records in the audit_log table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert writes an audit entry to the database
func (s *PostgresStore) Insert(ctx context.Context, entry Entry, expiresAt time.Time) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, created_at, user_id, github_username, action, success, details, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.Timestamp, entry.UserID, nullable(entry.Username), entry.Action, entry.Success,
		detailsJSON, nullable(entry.IPAddress), nullable(entry.UserAgent), expiresAt)
	return err
}

// PurgeExpired deletes records whose retention ended before now.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Purger removes expired records.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// StartRetentionJob schedules purger on the cron spec. The caller stops the
// returned scheduler on shutdown.
func StartRetentionJob(schedule string, purger Purger, log logrus.FieldLogger) (*cron.Cron, error) {
	log = log.WithField("component", "audit-retention")
	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		runPurge(purger, log)
	})
	if err != nil {
		return nil, err
	}
	scheduler.Start()
	log.WithField("schedule", schedule).Info("audit retention job scheduled")
	return scheduler, nil
}

func runPurge(purger Purger, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := purger.PurgeExpired(ctx, time.Now())
	if err != nil {
		log.WithError(err).Error("audit purge failed")
		return
	}
	if n > 0 {
		log.WithField("deleted", n).Info("expired audit records purged")
	}
}
