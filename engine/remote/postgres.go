package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carsgate/portal-engine/pkg/fn"
	"github.com/lib/pq"
)

// Postgres is the production Remote Store. Rows are scoped to one operator
// (admin) identity; the hosted store's row-level security maps onto the
// admin_id column here.
type Postgres struct {
	db      *sql.DB
	adminID string
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS import_posts (
	id               TEXT PRIMARY KEY,
	admin_id         TEXT NOT NULL,
	url              TEXT NOT NULL UNIQUE,
	source           TEXT NOT NULL DEFAULT '',
	note             TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	rejection_reason TEXT NOT NULL DEFAULT '',
	raw_content      TEXT NOT NULL DEFAULT '',
	parsed_json      JSONB,
	images           JSONB NOT NULL DEFAULT '[]',
	pricing          JSONB,
	workflow_step    TEXT NOT NULL DEFAULT 'raw',
	step_completed   JSONB NOT NULL DEFAULT '{}',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_import_posts_admin  ON import_posts(admin_id);
CREATE INDEX IF NOT EXISTS idx_import_posts_status ON import_posts(status);
`

// NewPostgres opens the database, ensures the schema, and scopes the store
// to the given operator identity. The initial ping retries with backoff so
// the API survives starting before the database is ready.
func NewPostgres(dsn, adminID string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	ping := fn.Retry(context.Background(), fn.RetryOpts{
		MaxAttempts: 5,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Jitter:      true,
	}, func(ctx context.Context) fn.Result[struct{}] {
		if err := db.PingContext(ctx); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	if _, err := ping.Unwrap(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	return &Postgres{db: db, adminID: adminID}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error { return s.db.Close() }

// mapPQError translates driver errors into the store's typed errors.
func mapPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicateURL, pqErr.Detail)
		case "42501": // insufficient_privilege
			return fmt.Errorf("%w: %s", ErrPermissionDenied, pqErr.Message)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *Postgres) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapPQError(err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO import_posts
			(id, admin_id, url, source, note, status, rejection_reason,
			 raw_content, parsed_json, images, pricing, workflow_step,
			 step_completed, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	for _, r := range records {
		_, err := tx.ExecContext(ctx, q,
			r.ID, s.adminID, r.URL, r.Source, r.Note, r.Status,
			r.RejectionReason, r.RawContent, nullableJSON(r.ParsedJSON),
			orEmptyJSON(r.Images, "[]"), nullableJSON(r.Pricing),
			r.WorkflowStep, orEmptyJSON(r.StepCompleted, "{}"), r.UpdatedAt,
		)
		if err != nil {
			return mapPQError(err)
		}
	}
	return mapPQError(tx.Commit())
}

func (s *Postgres) Update(ctx context.Context, id string, patch Patch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
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
		add("parsed_json", nullableJSON(*patch.ParsedJSON))
	}
	if patch.Images != nil {
		add("images", orEmptyJSON(*patch.Images, "[]"))
	}
	if patch.Pricing != nil {
		add("pricing", nullableJSON(*patch.Pricing))
	}
	if patch.WorkflowStep != nil {
		add("workflow_step", *patch.WorkflowStep)
	}
	if patch.StepCompleted != nil {
		add("step_completed", orEmptyJSON(*patch.StepCompleted, "{}"))
	}

	args = append(args, id, s.adminID)
	q := fmt.Sprintf("UPDATE import_posts SET %s WHERE id = $%d AND admin_id = $%d",
		strings.Join(sets, ", "), len(args)-1, len(args))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapPQError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, admin_id, url, source, note, status, rejection_reason,
		       raw_content, COALESCE(parsed_json, 'null'), images,
		       COALESCE(pricing, 'null'), workflow_step, step_completed,
		       updated_at
		FROM import_posts
		WHERE id = $1 AND admin_id = $2`, id, s.adminID)

	var r Record
	var parsed, images, pricing, steps []byte
	err := row.Scan(&r.ID, &r.AdminID, &r.URL, &r.Source, &r.Note,
		&r.Status, &r.RejectionReason, &r.RawContent, &parsed, &images,
		&pricing, &r.WorkflowStep, &steps, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, mapPQError(err)
	}
	r.ParsedJSON = denull(parsed)
	r.Images = images
	r.Pricing = denull(pricing)
	r.StepCompleted = steps
	return r, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM import_posts WHERE id = $1 AND admin_id = $2", id, s.adminID)
	return mapPQError(err)
}

func (s *Postgres) DeleteOwned(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM import_posts WHERE admin_id = $1", s.adminID)
	return mapPQError(err)
}

func (s *Postgres) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, url, source, note, status, rejection_reason,
		       raw_content, COALESCE(parsed_json, 'null'), images,
		       COALESCE(pricing, 'null'), workflow_step, step_completed,
		       updated_at
		FROM import_posts
		WHERE admin_id = $1
		ORDER BY updated_at DESC`, s.adminID)
	if err != nil {
		return nil, mapPQError(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var parsed, images, pricing, steps []byte
		if err := rows.Scan(&r.ID, &r.AdminID, &r.URL, &r.Source, &r.Note,
			&r.Status, &r.RejectionReason, &r.RawContent, &parsed, &images,
			&pricing, &r.WorkflowStep, &steps, &r.UpdatedAt); err != nil {
			return nil, mapPQError(err)
		}
		r.ParsedJSON = denull(parsed)
		r.Images = images
		r.Pricing = denull(pricing)
		r.StepCompleted = steps
		out = append(out, r)
	}
	return out, mapPQError(rows.Err())
}

func (s *Postgres) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT url FROM import_posts WHERE url = ANY($1)", pq.Array(urls))
	if err != nil {
		return nil, mapPQError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, mapPQError(err)
		}
		out[u] = true
	}
	return out, mapPQError(rows.Err())
}

// nullableJSON maps an absent blob to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// orEmptyJSON maps an absent blob to a JSON default.
func orEmptyJSON(b []byte, def string) []byte {
	if len(b) == 0 {
		return []byte(def)
	}
	return b
}

// denull maps a stored JSON null back to an absent blob.
func denull(b []byte) []byte {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}
