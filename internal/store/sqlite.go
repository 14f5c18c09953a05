package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mailfinder/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prospects (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	firstname   TEXT NOT NULL,
	lastname    TEXT NOT NULL,
	company     TEXT NOT NULL,
	company_key TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company     TEXT NOT NULL,
	company_key TEXT NOT NULL,
	subject     TEXT NOT NULL,
	body_text   TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS email_suggestions (
	prospect_id      INTEGER PRIMARY KEY REFERENCES prospects(id) ON DELETE CASCADE,
	domain           TEXT NOT NULL DEFAULT '',
	pattern          TEXT NOT NULL DEFAULT '',
	suggested_email  TEXT NOT NULL DEFAULT '',
	confidence_score REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	debug_notes      TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS outbox (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	company       TEXT NOT NULL DEFAULT '',
	company_key   TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	firstname     TEXT NOT NULL DEFAULT '',
	lastname      TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	body_text     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'READY',
	error_message TEXT NOT NULL DEFAULT '',
	sent_at       DATETIME,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS kv_cache (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_prospects_company_key ON prospects(company_key);
CREATE INDEX IF NOT EXISTS idx_messages_company_key ON messages(company_key);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status);
CREATE INDEX IF NOT EXISTS idx_outbox_email ON outbox(email);
`

// Tables in drop order.
var tables = []string{"outbox", "email_suggestions", "messages", "prospects", "kv_cache"}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return eris.Wrapf(err, "sqlite: drop %s", t)
		}
	}
	return s.Migrate(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertProspect(ctx context.Context, p *model.Prospect) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prospects (firstname, lastname, company, company_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.Firstname, p.Lastname, p.Company, p.CompanyKey, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert prospect")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prospect id")
	}
	p.ID = id
	p.CreatedAt = now
	return id, nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id int64) (*model.Prospect, error) {
	var p model.Prospect
	err := s.db.QueryRowContext(ctx,
		`SELECT id, firstname, lastname, company, company_key, created_at FROM prospects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Firstname, &p.Lastname, &p.Company, &p.CompanyKey, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect %d", id)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error) {
	query := `SELECT p.id, p.firstname, p.lastname, p.company, p.company_key, p.created_at FROM prospects p`
	if filter.WithoutSuggestion {
		query += ` LEFT JOIN email_suggestions es ON es.prospect_id = p.id WHERE es.prospect_id IS NULL`
	}
	query += ` ORDER BY p.id`
	var args []any
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prospects")
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		var p model.Prospect
		if err := rows.Scan(&p.ID, &p.Firstname, &p.Lastname, &p.Company, &p.CompanyKey, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prospect")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list prospects iterate")
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, m *model.Message) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (company, company_key, subject, body_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.Company, m.CompanyKey, m.Subject, m.BodyText, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: message id")
	}
	m.ID = id
	m.CreatedAt = now
	return id, nil
}

func (s *SQLiteStore) LatestMessages(ctx context.Context) (map[string]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, latestMessagesQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest messages")
	}
	defer rows.Close()

	out := make(map[string]model.Message)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Company, &m.CompanyKey, &m.Subject, &m.BodyText, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		out[m.CompanyKey] = m
	}
	return out, eris.Wrap(rows.Err(), "sqlite: latest messages iterate")
}

const latestMessagesQuery = `SELECT m.id, m.company, m.company_key, m.subject, m.body_text, m.created_at
FROM messages m
WHERE m.id = (SELECT MAX(id) FROM messages WHERE company_key = m.company_key)`

func (s *SQLiteStore) UpsertSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin suggestions")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, sg := range suggestions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO email_suggestions
				(prospect_id, domain, pattern, suggested_email, confidence_score, status, debug_notes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (prospect_id) DO UPDATE SET
				domain = excluded.domain,
				pattern = excluded.pattern,
				suggested_email = excluded.suggested_email,
				confidence_score = excluded.confidence_score,
				status = excluded.status,
				debug_notes = excluded.debug_notes,
				updated_at = excluded.updated_at`,
			sg.ProspectID, sg.Domain, sg.Pattern, sg.Email, sg.Confidence, string(sg.Status), sg.DebugNotes, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert suggestion %d", sg.ProspectID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit suggestions")
}

func (s *SQLiteStore) ListSuggestionRows(ctx context.Context) ([]model.SuggestionRow, error) {
	rows, err := s.db.QueryContext(ctx, suggestionRowsQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suggestions")
	}
	defer rows.Close()

	var out []model.SuggestionRow
	for rows.Next() {
		var r model.SuggestionRow
		var status string
		if err := rows.Scan(&r.ProspectID, &r.Domain, &r.Pattern, &r.Email, &r.Confidence, &status,
			&r.DebugNotes, &r.UpdatedAt, &r.Firstname, &r.Lastname, &r.Company, &r.CompanyKey); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion")
		}
		r.Status = model.SuggestionStatus(status)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list suggestions iterate")
}

const suggestionRowsQuery = `SELECT es.prospect_id, es.domain, es.pattern, es.suggested_email, es.confidence_score,
	es.status, es.debug_notes, es.updated_at, p.firstname, p.lastname, p.company, p.company_key
FROM email_suggestions es
JOIN prospects p ON p.id = es.prospect_id
ORDER BY es.confidence_score DESC, es.prospect_id`

func (s *SQLiteStore) CountSuggestionsByStatus(ctx context.Context) (map[model.SuggestionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM email_suggestions GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count suggestions")
	}
	defer rows.Close()

	out := make(map[model.SuggestionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan suggestion count")
		}
		out[model.SuggestionStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count suggestions iterate")
}

func (s *SQLiteStore) GetCache(ctx context.Context, namespace, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_cache WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get cache %s/%s", namespace, key)
	}
	return json.RawMessage(value), true, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, namespace, key string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_cache (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, string(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set cache %s/%s", namespace, key)
}

func (s *SQLiteStore) ReplaceOutbox(ctx context.Context, entries []model.OutboxEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin outbox")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox`); err != nil {
		return eris.Wrap(err, "sqlite: clear outbox")
	}
	now := time.Now().UTC()
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox (company, company_key, email, firstname, lastname, subject, body_text, status, error_message, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Company, e.CompanyKey, e.Email, e.Firstname, e.Lastname, e.Subject, e.BodyText,
			string(e.Status), e.ErrorMessage, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert outbox %s", e.Email)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit outbox")
}

func (s *SQLiteStore) ListOutbox(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error) {
	query, args := outboxQuery(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outbox")
	}
	defer rows.Close()

	var out []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		var status string
		var sentAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Company, &e.CompanyKey, &e.Email, &e.Firstname, &e.Lastname,
			&e.Subject, &e.BodyText, &status, &e.ErrorMessage, &sentAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outbox")
		}
		e.Status = model.OutboxStatus(status)
		if sentAt.Valid {
			t := sentAt.Time
			e.SentAt = &t
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outbox iterate")
}

// outboxQuery builds the listing query; ph renders the n-th placeholder.
func outboxQuery(filter model.OutboxFilter, ph func(n int) string) (string, []any) {
	query := `SELECT id, company, company_key, email, firstname, lastname, subject, body_text,
	status, error_message, sent_at, updated_at FROM outbox WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = ` + ph(len(args))
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		args = append(args, like, like, like)
		query += fmt.Sprintf(` AND (company LIKE %s OR email LIKE %s OR subject LIKE %s)`,
			ph(len(args)-2), ph(len(args)-1), ph(len(args)))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT ` + ph(len(args))
	}
	return query, args
}

func (s *SQLiteStore) UpdateOutboxStatus(ctx context.Context, id int64, status model.OutboxStatus, errMsg string, sentAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, error_message = ?, sent_at = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, nullTime(sentAt), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update outbox %d", id)
	}
	return checkRowsAffected(res, "outbox entry", strconv.FormatInt(id, 10))
}

func (s *SQLiteStore) UpdateOutboxByEmail(ctx context.Context, email string, status model.OutboxStatus, errMsg string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, error_message = ?, updated_at = ?
		WHERE email = ? AND status IN ('SENT', 'READY')`,
		string(status), errMsg, time.Now().UTC(), email,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update outbox by email %s", email)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CountOutboxByStatus(ctx context.Context) (map[model.OutboxStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count outbox")
	}
	defer rows.Close()

	out := make(map[model.OutboxStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outbox count")
		}
		out[model.OutboxStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count outbox iterate")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
