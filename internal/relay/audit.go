package relay

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
)

type AuditAction string

const (
	AuditJoin   AuditAction = "join"
	AuditLeave  AuditAction = "leave"
	AuditMute   AuditAction = "mute"
	AuditRemove AuditAction = "remove"
)

const auditQueueSize = 256

type AuditEntry struct {
	Session     core.SessionID     `db:"session_id"`
	Participant core.ParticipantID `db:"participant_id"`
	Action      AuditAction        `db:"action"`
	Target      core.ParticipantID `db:"target_id"`
	CreatedAt   time.Time          `db:"created_at"`
}

// Auditor records membership and moderation events. Record must not block the hub.
type Auditor interface {
	Record(entry AuditEntry)
}

type NopAuditor struct{}

func (NopAuditor) Record(AuditEntry) {}

const auditSchema = `CREATE TABLE IF NOT EXISTS session_audit (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`

// OpenDB connects to postgres through the pgx stdlib driver
func OpenDB(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", url)
	if err != nil {
		return nil, err
	}
	return db, nil
}

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, auditSchema)
	return err
}

func (r *AuditRepository) Save(ctx context.Context, entry AuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_audit (session_id, participant_id, action, target_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.Session,
		entry.Participant,
		entry.Action,
		entry.Target,
		entry.CreatedAt,
	)
	return err
}

// Recent returns the latest entries of a session, newest first
func (r *AuditRepository) Recent(ctx context.Context, session core.SessionID, limit int) ([]AuditEntry, error) {
	entries := []AuditEntry{}
	err := r.db.SelectContext(ctx, &entries,
		`SELECT session_id, participant_id, action, target_id, created_at FROM session_audit WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		session, limit,
	)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// AuditLog queues entries and writes them from a single goroutine.
// Entries are dropped when the queue is full.
type AuditLog struct {
	repo    *AuditRepository
	entries chan AuditEntry
}

func NewAuditLog(repo *AuditRepository) *AuditLog {
	return &AuditLog{
		repo:    repo,
		entries: make(chan AuditEntry, auditQueueSize),
	}
}

func (a *AuditLog) Record(entry AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case a.entries <- entry:
	default:
		log.Warn().Str("service", "audit").Str("action", string(entry.Action)).Msg("audit queue full, entry dropped")
	}
}

// Run writes queued entries until ctx is done
func (a *AuditLog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-a.entries:
			if err := a.repo.Save(ctx, entry); err != nil {
				log.Error().Err(err).Str("service", "audit").Msg("save audit entry")
			}
		}
	}
}
