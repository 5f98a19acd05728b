package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists demo state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := waitForDB(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func waitForDB(ctx context.Context, pool *pgxpool.Pool) error {
	deadline := time.Now().Add(60 * time.Second)
	attempt := 0
	for {
		attempt++
		err := pool.Ping(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not ready after %d attempts: %w", attempt, err)
		}
		delay := time.Duration(200+attempt*200) * time.Millisecond
		if delay > 2*time.Second {
			delay = 2 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS demo_trainers (
			token TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			company_name TEXT,
			contact_name TEXT,
			avatar_key TEXT NOT NULL DEFAULT 'female_friendly',
			training_language TEXT NOT NULL DEFAULT 'uk',
			opening_text TEXT NOT NULL,
			criteria JSONB NOT NULL,
			model TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS demo_sessions (
			id TEXT PRIMARY KEY,
			demo_token TEXT NOT NULL REFERENCES demo_trainers(token) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_name TEXT,
			state JSONB NOT NULL DEFAULT '{}'::jsonb,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb
		);`,
		`CREATE INDEX IF NOT EXISTS demo_sessions_demo_token_idx ON demo_sessions(demo_token);`,
		`CREATE TABLE IF NOT EXISTS transcript_segments (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES demo_sessions(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			type TEXT NOT NULL CHECK (type IN ('user', 'assistant')),
			text TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_segments_session_id_idx ON transcript_segments(session_id);`,
		`CREATE INDEX IF NOT EXISTS transcript_segments_created_at_idx ON transcript_segments(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// criteriaDoc is the JSONB shape of the criteria column: the lesson title
// rides along with the criteria list.
type criteriaDoc struct {
	Title    string              `json:"title"`
	Criteria []TrainingCriterion `json:"criteria"`
}

func (s *PostgresStore) CreateTrainer(ctx context.Context, t Trainer) error {
	doc, err := json.Marshal(criteriaDoc{Title: t.Title, Criteria: t.Criteria})
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO demo_trainers (token, company_name, contact_name, avatar_key, training_language, opening_text, criteria, model)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		t.Token, t.CompanyName, t.ContactName, t.AvatarKey, t.TrainingLanguage, t.OpeningTextTemplate, doc, t.Model,
	)
	if err != nil {
		return fmt.Errorf("insert trainer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrainer(ctx context.Context, token string) (Trainer, error) {
	var (
		t           Trainer
		company     *string
		contact     *string
		criteriaRaw []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT token, company_name, contact_name, avatar_key, training_language, opening_text, criteria, model
		 FROM demo_trainers WHERE token = $1`, token,
	).Scan(&t.Token, &company, &contact, &t.AvatarKey, &t.TrainingLanguage, &t.OpeningTextTemplate, &criteriaRaw, &t.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trainer{}, ErrNotFound
	}
	if err != nil {
		return Trainer{}, fmt.Errorf("select trainer: %w", err)
	}
	if company != nil {
		t.CompanyName = *company
	}
	if contact != nil {
		t.ContactName = *contact
	}
	var doc criteriaDoc
	if err := json.Unmarshal(criteriaRaw, &doc); err != nil {
		return Trainer{}, fmt.Errorf("decode criteria: %w", err)
	}
	t.Title = doc.Title
	t.Criteria = doc.Criteria
	return t, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) error {
	state, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	if sess.Messages == nil {
		messages = []byte("[]")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO demo_sessions (id, demo_token, user_name, state, messages)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.DemoToken, sess.UserName, state, messages,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess        Session
		userName    *string
		stateRaw    []byte
		messagesRaw []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, demo_token, user_name, state, messages FROM demo_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.DemoToken, &userName, &stateRaw, &messagesRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("select session: %w", err)
	}
	if userName != nil {
		sess.UserName = *userName
	}
	if err := json.Unmarshal(stateRaw, &sess.State); err != nil {
		return Session{}, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal(messagesRaw, &sess.Messages); err != nil {
		return Session{}, fmt.Errorf("decode messages: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) UpdateSessionState(ctx context.Context, id string, state SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE demo_sessions SET updated_at = now(), state = $2 WHERE id = $1`, id, raw,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, id string, state SessionState, messages []Message) error {
	stateRaw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	messagesRaw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE demo_sessions SET updated_at = now(), state = $2, messages = $3 WHERE id = $1`,
		id, stateRaw, messagesRaw,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveTranscriptSegment(ctx context.Context, seg TranscriptSegment) error {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_segments (id, session_id, created_at, type, text)
		 VALUES ($1, $2, $3, $4, $5)`,
		seg.ID, seg.SessionID, seg.CreatedAt, seg.Role, seg.Text,
	)
	if err != nil {
		return fmt.Errorf("insert transcript segment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTranscriptSegments(ctx context.Context, sessionID string) ([]TranscriptSegment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, created_at, type, text
		 FROM transcript_segments WHERE session_id = $1 ORDER BY created_at`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transcript segments: %w", err)
	}
	defer rows.Close()

	var out []TranscriptSegment
	for rows.Next() {
		var seg TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.CreatedAt, &seg.Role, &seg.Text); err != nil {
			return nil, fmt.Errorf("scan transcript segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
