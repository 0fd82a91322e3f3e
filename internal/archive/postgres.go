package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/renewtech/livechat/backend/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id  TEXT PRIMARY KEY,
	visitor_id  TEXT NOT NULL,
	staff_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS chat_messages (
	message_id    TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES chat_sessions(session_id),
	sender_id     TEXT NOT NULL,
	sender_name   TEXT NOT NULL,
	content       TEXT NOT NULL,
	message_type  TEXT NOT NULL,
	is_from_staff BOOLEAN NOT NULL,
	sent_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, sent_at);
`

// PostgresStore implements Store using a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects to Postgres and ensures the archive schema exists
func NewPostgresStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	// Retry connection (Postgres may not be ready yet in Docker)
	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				break
			} else {
				pool.Close()
				pool = nil
				err = pingErr
			}
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("postgres connect failed, retrying")
		time.Sleep(2 * time.Second)
	}
	if pool == nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	logger.Info().Msg("Postgres archive store initialized")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) ArchiveSession(sess types.ChatSession, transcript []types.ChatMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_sessions (session_id, visitor_id, staff_id, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE
		SET staff_id = EXCLUDED.staff_id, status = EXCLUDED.status, ended_at = EXCLUDED.ended_at`,
		sess.SessionID, sess.VisitorID, sess.StaffID, string(sess.Status), sess.StartTime, sess.EndTime)
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", sess.SessionID, err)
	}

	for _, msg := range transcript {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_messages (message_id, session_id, sender_id, sender_name, content, message_type, is_from_staff, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (message_id) DO NOTHING`,
			msg.MessageID, msg.SessionID, msg.SenderID, msg.SenderName, msg.Content, string(msg.Type), msg.IsFromStaff, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to archive message %s: %w", msg.MessageID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	s.logger.Debug().
		Str("session_id", sess.SessionID).
		Int("messages", len(transcript)).
		Msg("session archived")
	return nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, session_id, sender_id, sender_name, content, message_type, is_from_staff, sent_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY sent_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var msgs []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var msgType string
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.SenderID, &msg.SenderName,
			&msg.Content, &msgType, &msg.IsFromStaff, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Type = types.MessageType(msgType)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
