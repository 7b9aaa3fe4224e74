package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencode-ai/agentd/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	description   TEXT NOT NULL DEFAULT '',
	working_dir   TEXT NOT NULL DEFAULT '',
	schedule_id   TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	usage         JSONB NOT NULL DEFAULT '{}'::jsonb,
	created       BIGINT NOT NULL,
	updated       BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	body       JSONB NOT NULL,
	PRIMARY KEY (session_id, seq)
);`

const selectMetadata = `
SELECT id, description, working_dir, schedule_id, provider, model, message_count, usage::text, created, updated
FROM sessions`

// PostgresStore keeps sessions in Postgres. Messages are keyed by their
// position in the transcript, so persisting the same transcript twice is a
// no-op.
type PostgresStore struct {
	DB *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.DB.Close()
}

func (s *PostgresStore) Persist(ctx context.Context, meta Metadata, messages []types.Message) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		var prior *Metadata
		row := tx.QueryRow(ctx, selectMetadata+` WHERE id = $1 FOR UPDATE`, meta.ID)
		if existing, err := scanMetadata(row); err == nil {
			prior = &existing
		} else if !errors.Is(err, ErrSessionNotFound) {
			return err
		}
		meta = prepare(meta, prior, messages)

		usage, err := json.Marshal(meta.Usage)
		if err != nil {
			return fmt.Errorf("marshal usage: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO sessions (id, description, working_dir, schedule_id, provider, model, message_count, usage, created, updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				description = EXCLUDED.description,
				working_dir = EXCLUDED.working_dir,
				schedule_id = EXCLUDED.schedule_id,
				provider = EXCLUDED.provider,
				model = EXCLUDED.model,
				message_count = EXCLUDED.message_count,
				usage = EXCLUDED.usage,
				updated = EXCLUDED.updated`,
			meta.ID, meta.Description, meta.WorkingDir, meta.ScheduleID, meta.Provider, meta.Model,
			meta.MessageCount, string(usage), meta.Created, meta.Updated)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM session_messages WHERE session_id = $1 AND seq >= $2`, meta.ID, len(messages)); err != nil {
			return fmt.Errorf("trim transcript: %w", err)
		}

		batch := &pgx.Batch{}
		for i, m := range messages {
			body, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal message %d: %w", i, err)
			}
			batch.Queue(`INSERT INTO session_messages (session_id, seq, body) VALUES ($1, $2, $3::jsonb)
				ON CONFLICT (session_id, seq) DO UPDATE SET body = EXCLUDED.body
				WHERE session_messages.body IS DISTINCT FROM EXCLUDED.body`, meta.ID, i, string(body))
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Load(ctx context.Context, id string) ([]types.Message, error) {
	if _, err := s.Metadata(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `SELECT body::text FROM session_messages WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m types.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", len(messages)+1, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) Metadata(ctx context.Context, id string) (Metadata, error) {
	if err := ValidateID(id); err != nil {
		return Metadata{}, err
	}
	return scanMetadata(s.DB.QueryRow(ctx, selectMetadata+` WHERE id = $1`, id))
}

func (s *PostgresStore) List(ctx context.Context) ([]Metadata, error) {
	rows, err := s.DB.Query(ctx, selectMetadata+` ORDER BY updated DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Metadata{}
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanMetadata(row pgx.Row) (Metadata, error) {
	var meta Metadata
	var usage string
	err := row.Scan(&meta.ID, &meta.Description, &meta.WorkingDir, &meta.ScheduleID, &meta.Provider,
		&meta.Model, &meta.MessageCount, &usage, &meta.Created, &meta.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Metadata{}, ErrSessionNotFound
	}
	if err != nil {
		return Metadata{}, err
	}
	if len(usage) > 0 {
		if err := json.Unmarshal([]byte(usage), &meta.Usage); err != nil {
			return Metadata{}, fmt.Errorf("decode usage: %w", err)
		}
	}
	return meta, nil
}
