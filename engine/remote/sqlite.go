package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is an embedded Remote Store for single-operator and development
// deployments. Same contract as Postgres, including the authoritative
// UNIQUE(url) duplicate gate.
type SQLite struct {
	db      *sql.DB
	adminID string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS import_posts (
	id               TEXT PRIMARY KEY,
	admin_id         TEXT NOT NULL,
	url              TEXT NOT NULL UNIQUE,
	source           TEXT NOT NULL DEFAULT '',
	note             TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	rejection_reason TEXT NOT NULL DEFAULT '',
	raw_content      TEXT NOT NULL DEFAULT '',
	parsed_json      TEXT,
	images           TEXT NOT NULL DEFAULT '[]',
	pricing          TEXT,
	workflow_step    TEXT NOT NULL DEFAULT 'raw',
	step_completed   TEXT NOT NULL DEFAULT '{}',
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_import_posts_admin  ON import_posts(admin_id);
CREATE INDEX IF NOT EXISTS idx_import_posts_status ON import_posts(status);
`

// NewSQLite opens (or creates) the database file and ensures the schema.
func NewSQLite(path, adminID string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent actions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &SQLite{db: db, adminID: adminID}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicateURL, err)
	}
	return err
}

func (s *SQLite) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO import_posts
			(id, admin_id, url, source, note, status, rejection_reason,
			 raw_content, parsed_json, images, pricing, workflow_step,
			 step_completed, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	for _, r := range records {
		_, err := tx.ExecContext(ctx, q,
			r.ID, s.adminID, r.URL, r.Source, r.Note, r.Status,
			r.RejectionReason, r.RawContent, nullableText(r.ParsedJSON),
			string(orEmptyJSON(r.Images, "[]")), nullableText(r.Pricing),
			r.WorkflowStep, string(orEmptyJSON(r.StepCompleted, "{}")),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return mapSQLiteError(err)
		}
	}
	return mapSQLiteError(tx.Commit())
}

func (s *SQLite) Update(ctx context.Context, id string, patch Patch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.RejectionReason != nil {
		add("rejection_reason", *patch.RejectionReason)
	}
	if patch.RawContent != nil {
		add("raw_content", *patch.RawContent)
	}
	if patch.ParsedJSON != nil {
		add("parsed_json", nullableText(*patch.ParsedJSON))
	}
	if patch.Images != nil {
		add("images", string(orEmptyJSON(*patch.Images, "[]")))
	}
	if patch.Pricing != nil {
		add("pricing", nullableText(*patch.Pricing))
	}
	if patch.WorkflowStep != nil {
		add("workflow_step", *patch.WorkflowStep)
	}
	if patch.StepCompleted != nil {
		add("step_completed", string(orEmptyJSON(*patch.StepCompleted, "{}")))
	}

	args = append(args, id, s.adminID)
	q := fmt.Sprintf("UPDATE import_posts SET %s WHERE id = ? AND admin_id = ?",
		strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, admin_id, url, source, note, status, rejection_reason,
		       raw_content, COALESCE(parsed_json, 'null'), images,
		       COALESCE(pricing, 'null'), workflow_step, step_completed,
		       updated_at
		FROM import_posts
		WHERE id = ? AND admin_id = ?`, id, s.adminID)

	var r Record
	var parsed, images, pricing, steps, updatedAt string
	err := row.Scan(&r.ID, &r.AdminID, &r.URL, &r.Source, &r.Note,
		&r.Status, &r.RejectionReason, &r.RawContent, &parsed, &images,
		&pricing, &r.WorkflowStep, &steps, &updatedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	r.ParsedJSON = denull([]byte(parsed))
	r.Images = []byte(images)
	r.Pricing = denull([]byte(pricing))
	r.StepCompleted = []byte(steps)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	return r, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM import_posts WHERE id = ? AND admin_id = ?", id, s.adminID)
	return err
}

func (s *SQLite) DeleteOwned(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM import_posts WHERE admin_id = ?", s.adminID)
	return err
}

func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, url, source, note, status, rejection_reason,
		       raw_content, COALESCE(parsed_json, 'null'), images,
		       COALESCE(pricing, 'null'), workflow_step, step_completed,
		       updated_at
		FROM import_posts
		WHERE admin_id = ?
		ORDER BY updated_at DESC`, s.adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var parsed, images, pricing, steps, updatedAt string
		if err := rows.Scan(&r.ID, &r.AdminID, &r.URL, &r.Source, &r.Note,
			&r.Status, &r.RejectionReason, &r.RawContent, &parsed, &images,
			&pricing, &r.WorkflowStep, &steps, &updatedAt); err != nil {
			return nil, err
		}
		r.ParsedJSON = denull([]byte(parsed))
		r.Images = []byte(images)
		r.Pricing = denull([]byte(pricing))
		r.StepCompleted = []byte(steps)
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			r.UpdatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT url FROM import_posts WHERE url IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out[u] = true
	}
	return out, rows.Err()
}

// nullableText maps an absent blob to SQL NULL, otherwise stores it as text.
func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
