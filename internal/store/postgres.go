package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/db"
	"github.com/sells-group/mailfinder/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"get_cache":   `SELECT value FROM kv_cache WHERE namespace = $1 AND key = $2`,
	"set_cache":   setCacheSQL,
	"upsert_sugg": upsertSuggestionSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool, shared with the advisory lock.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id          BIGSERIAL PRIMARY KEY,
	firstname   TEXT NOT NULL,
	lastname    TEXT NOT NULL,
	company     TEXT NOT NULL,
	company_key TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	company     TEXT NOT NULL,
	company_key TEXT NOT NULL,
	subject     TEXT NOT NULL,
	body_text   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS email_suggestions (
	prospect_id      BIGINT PRIMARY KEY REFERENCES prospects(id) ON DELETE CASCADE,
	domain           TEXT NOT NULL DEFAULT '',
	pattern          TEXT NOT NULL DEFAULT '',
	suggested_email  TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	debug_notes      TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outbox (
	id            BIGSERIAL PRIMARY KEY,
	company       TEXT NOT NULL DEFAULT '',
	company_key   TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	firstname     TEXT NOT NULL DEFAULT '',
	lastname      TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	body_text     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'READY',
	error_message TEXT NOT NULL DEFAULT '',
	sent_at       TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS kv_cache (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_prospects_company_key ON prospects(company_key);
CREATE INDEX IF NOT EXISTS idx_messages_company_key ON messages(company_key);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status);
CREATE INDEX IF NOT EXISTS idx_outbox_email ON outbox(email);
`

const setCacheSQL = `INSERT INTO kv_cache (namespace, key, value, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

const upsertSuggestionSQL = `INSERT INTO email_suggestions
	(prospect_id, domain, pattern, suggested_email, confidence_score, status, debug_notes, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (prospect_id) DO UPDATE SET
	domain = EXCLUDED.domain,
	pattern = EXCLUDED.pattern,
	suggested_email = EXCLUDED.suggested_email,
	confidence_score = EXCLUDED.confidence_score,
	status = EXCLUDED.status,
	debug_notes = EXCLUDED.debug_notes,
	updated_at = EXCLUDED.updated_at`

var outboxColumns = []string{
	"company", "company_key", "email", "firstname", "lastname",
	"subject", "body_text", "status", "error_message", "updated_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+t+" CASCADE"); err != nil {
			return eris.Wrapf(err, "postgres: drop %s", t)
		}
	}
	return s.Migrate(ctx)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InsertProspect(ctx context.Context, p *model.Prospect) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO prospects (firstname, lastname, company, company_key, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.Firstname, p.Lastname, p.Company, p.CompanyKey, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert prospect")
	}
	p.ID = id
	p.CreatedAt = now
	return id, nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id int64) (*model.Prospect, error) {
	var p model.Prospect
	err := s.pool.QueryRow(ctx,
		`SELECT id, firstname, lastname, company, company_key, created_at FROM prospects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Firstname, &p.Lastname, &p.Company, &p.CompanyKey, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect %d", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT p.id, p.firstname, p.lastname, p.company, p.company_key, p.created_at FROM prospects p`
	if filter.WithoutSuggestion {
		query += ` LEFT JOIN email_suggestions es ON es.prospect_id = p.id WHERE es.prospect_id IS NULL`
	}
	query += ` ORDER BY p.id`
	var args []any
	if filter.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		var p model.Prospect
		if err := rows.Scan(&p.ID, &p.Firstname, &p.Lastname, &p.Company, &p.CompanyKey, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prospect")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list prospects iterate")
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *model.Message) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (company, company_key, subject, body_text, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.Company, m.CompanyKey, m.Subject, m.BodyText, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert message")
	}
	m.ID = id
	m.CreatedAt = now
	return id, nil
}

func (s *PostgresStore) LatestMessages(ctx context.Context) (map[string]model.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ON (company_key) id, company, company_key, subject, body_text, created_at
		FROM messages ORDER BY company_key, id DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest messages")
	}
	defer rows.Close()

	out := make(map[string]model.Message)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Company, &m.CompanyKey, &m.Subject, &m.BodyText, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		out[m.CompanyKey] = m
	}
	return out, eris.Wrap(rows.Err(), "postgres: latest messages iterate")
}

func (s *PostgresStore) UpsertSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin suggestions")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, sg := range suggestions {
		_, err := tx.Exec(ctx, upsertSuggestionSQL,
			sg.ProspectID, sg.Domain, sg.Pattern, sg.Email, sg.Confidence, string(sg.Status), sg.DebugNotes, now)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert suggestion %d", sg.ProspectID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit suggestions")
}

func (s *PostgresStore) ListSuggestionRows(ctx context.Context) ([]model.SuggestionRow, error) {
	rows, err := s.pool.Query(ctx, suggestionRowsQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suggestions")
	}
	defer rows.Close()

	var out []model.SuggestionRow
	for rows.Next() {
		var r model.SuggestionRow
		var status string
		if err := rows.Scan(&r.ProspectID, &r.Domain, &r.Pattern, &r.Email, &r.Confidence, &status,
			&r.DebugNotes, &r.UpdatedAt, &r.Firstname, &r.Lastname, &r.Company, &r.CompanyKey); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion")
		}
		r.Status = model.SuggestionStatus(status)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list suggestions iterate")
}

func (s *PostgresStore) CountSuggestionsByStatus(ctx context.Context) (map[model.SuggestionStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM email_suggestions GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count suggestions")
	}
	defer rows.Close()

	out := make(map[model.SuggestionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan suggestion count")
		}
		out[model.SuggestionStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count suggestions iterate")
}

func (s *PostgresStore) GetCache(ctx context.Context, namespace, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_cache WHERE namespace = $1 AND key = $2`, namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get cache %s/%s", namespace, key)
	}
	return json.RawMessage(value), true, nil
}

func (s *PostgresStore) SetCache(ctx context.Context, namespace, key string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	_, err := s.pool.Exec(ctx, setCacheSQL, namespace, key, []byte(value), time.Now().UTC())
	return eris.Wrapf(err, "postgres: set cache %s/%s", namespace, key)
}

func (s *PostgresStore) ReplaceOutbox(ctx context.Context, entries []model.OutboxEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin outbox")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM outbox`); err != nil {
		return eris.Wrap(err, "postgres: clear outbox")
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			e.Company, e.CompanyKey, e.Email, e.Firstname, e.Lastname,
			e.Subject, e.BodyText, string(e.Status), e.ErrorMessage, now,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "outbox", outboxColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert outbox")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit outbox")
}

func (s *PostgresStore) ListOutbox(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error) {
	query, args := outboxQuery(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	query = likeToILike(query)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outbox")
	}
	defer rows.Close()

	var out []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		var status string
		if err := rows.Scan(&e.ID, &e.Company, &e.CompanyKey, &e.Email, &e.Firstname, &e.Lastname,
			&e.Subject, &e.BodyText, &status, &e.ErrorMessage, &e.SentAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outbox")
		}
		e.Status = model.OutboxStatus(status)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outbox iterate")
}

func (s *PostgresStore) UpdateOutboxStatus(ctx context.Context, id int64, status model.OutboxStatus, errMsg string, sentAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = $1, error_message = $2, sent_at = $3, updated_at = $4 WHERE id = $5`,
		string(status), errMsg, sentAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update outbox %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("outbox entry not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) UpdateOutboxByEmail(ctx context.Context, email string, status model.OutboxStatus, errMsg string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = $1, error_message = $2, updated_at = $3
		WHERE email = $4 AND status IN ('SENT', 'READY')`,
		string(status), errMsg, time.Now().UTC(), email,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update outbox by email %s", email)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountOutboxByStatus(ctx context.Context) (map[model.OutboxStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count outbox")
	}
	defer rows.Close()

	out := make(map[model.OutboxStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outbox count")
		}
		out[model.OutboxStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count outbox iterate")
}

// likeToILike makes outbox search case-insensitive like SQLite's LIKE.
func likeToILike(query string) string {
	return strings.ReplaceAll(query, " LIKE ", " ILIKE ")
}
