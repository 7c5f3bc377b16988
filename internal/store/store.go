package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autopress/internal/core"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed archive: published items, execution
// records, and the settings used by the scheduler.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "autopress.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory store, used by tests.
func NewMemoryStore() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := &Store{db: db, path: ":memory:"}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	itemsTable := `
	CREATE TABLE IF NOT EXISTS published_items (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		excerpt TEXT,
		content TEXT,
		image_url TEXT,
		source_url TEXT NOT NULL UNIQUE,
		category TEXT,
		topic TEXT,
		score INTEGER,
		status TEXT NOT NULL,
		execution_id TEXT,
		meta_description TEXT,
		keywords TEXT,
		published_at DATETIME NOT NULL
	);`

	executionsTable := `
	CREATE TABLE IF NOT EXISTS execution_records (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		duration_ms INTEGER,
		scraped INTEGER,
		published INTEGER,
		errors TEXT,
		metadata TEXT
	);`

	settingsTable := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_items_published_at ON published_items (published_at);
	CREATE INDEX IF NOT EXISTS idx_items_topic ON published_items (topic, published_at);
	CREATE INDEX IF NOT EXISTS idx_executions_started ON execution_records (started_at);`

	for _, stmt := range []string{itemsTable, executionsTable, settingsTable, indexes} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertItem writes a published item to the archive. A slug collision
// gets a timestamp suffix rather than failing the write.
func (s *Store) InsertItem(ctx context.Context, item *core.PublishedItem) error {
	if item.PublishedAt.IsZero() {
		item.PublishedAt = time.Now().UTC()
	}
	if item.Slug == "" {
		item.Slug = Slugify(item.Title)
	}

	taken, err := s.slugTaken(ctx, item.Slug)
	if err != nil {
		return err
	}
	if taken {
		item.Slug = fmt.Sprintf("%s-%d", item.Slug, time.Now().Unix())
	}

	keywords, _ := json.Marshal(item.Keywords)

	_, err = sq.Insert("published_items").
		Columns("id", "title", "slug", "excerpt", "content", "image_url", "source_url",
			"category", "topic", "score", "status", "execution_id", "meta_description",
			"keywords", "published_at").
		Values(item.ID, item.Title, item.Slug, item.Excerpt, item.Content, item.ImageURL,
			item.SourceURL, item.Category, item.Topic, item.Score, string(item.Status),
			item.ExecutionID, item.MetaDescription, string(keywords), item.PublishedAt).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

func (s *Store) slugTaken(ctx context.Context, slug string) (bool, error) {
	var count int
	err := sq.Select("COUNT(1)").From("published_items").Where(sq.Eq{"slug": slug}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking slug: %w", err)
	}
	return count > 0, nil
}

// ItemByURL returns the archived item with the given normalized source
// URL, or nil when none exists.
func (s *Store) ItemByURL(ctx context.Context, normalizedURL string) (*core.PublishedItem, error) {
	row := sq.Select(itemColumns()...).From("published_items").
		Where(sq.Eq{"source_url": normalizedURL}).
		RunWith(s.db).QueryRowContext(ctx)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying item by url: %w", err)
	}
	return item, nil
}

// RecentItems returns items published after the given time, newest
// first.
func (s *Store) RecentItems(ctx context.Context, since time.Time) ([]core.PublishedItem, error) {
	rows, err := sq.Select(itemColumns()...).From("published_items").
		Where(sq.Gt{"published_at": since}).
		OrderBy("published_at DESC").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying recent items: %w", err)
	}
	defer rows.Close()

	var items []core.PublishedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// TopicPublishedSince reports whether any item with the topic was
// published after the given time.
func (s *Store) TopicPublishedSince(ctx context.Context, topic string, since time.Time) (bool, error) {
	if topic == "" {
		return false, nil
	}
	var count int
	err := sq.Select("COUNT(1)").From("published_items").
		Where(sq.And{sq.Eq{"topic": topic}, sq.Gt{"published_at": since}}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking topic: %w", err)
	}
	return count > 0, nil
}

// RecentTitles returns the titles of the latest n items, optionally
// restricted to a category. Used as context for the rewriter.
func (s *Store) RecentTitles(ctx context.Context, category string, n int) ([]string, error) {
	query := sq.Select("title").From("published_items").OrderBy("published_at DESC").Limit(uint64(n))
	if category != "" {
		query = query.Where(sq.Eq{"category": category})
	}
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func itemColumns() []string {
	return []string{"id", "title", "slug", "excerpt", "content", "image_url", "source_url",
		"category", "topic", "score", "status", "execution_id", "meta_description",
		"keywords", "published_at"}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*core.PublishedItem, error) {
	var item core.PublishedItem
	var status, keywords string
	err := row.Scan(&item.ID, &item.Title, &item.Slug, &item.Excerpt, &item.Content,
		&item.ImageURL, &item.SourceURL, &item.Category, &item.Topic, &item.Score,
		&status, &item.ExecutionID, &item.MetaDescription, &keywords, &item.PublishedAt)
	if err != nil {
		return nil, err
	}
	item.Status = core.ItemStatus(status)
	if keywords != "" {
		_ = json.Unmarshal([]byte(keywords), &item.Keywords)
	}
	return &item, nil
}

// CreateExecution writes a new execution record, normally in RUNNING
// state before any pipeline work starts.
func (s *Store) CreateExecution(ctx context.Context, rec *core.ExecutionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	errs, _ := json.Marshal(rec.Errors)
	meta, _ := json.Marshal(rec.Metadata)

	_, err := sq.Insert("execution_records").
		Columns("id", "status", "started_at", "finished_at", "duration_ms", "scraped", "published", "errors", "metadata").
		Values(rec.ID, string(rec.Status), rec.StartedAt, rec.FinishedAt,
			rec.Duration.Milliseconds(), rec.Scraped, rec.Published, string(errs), string(meta)).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("creating execution record: %w", err)
	}
	return nil
}

// FinishExecution updates a record with its terminal state. It is safe
// to call more than once; the first terminal write wins and later
// calls against an already terminal record are no-ops.
func (s *Store) FinishExecution(ctx context.Context, rec *core.ExecutionRecord) error {
	errs, _ := json.Marshal(rec.Errors)

	result, err := sq.Update("execution_records").
		Set("status", string(rec.Status)).
		Set("finished_at", rec.FinishedAt).
		Set("duration_ms", rec.Duration.Milliseconds()).
		Set("scraped", rec.Scraped).
		Set("published", rec.Published).
		Set("errors", string(errs)).
		Where(sq.Eq{"id": rec.ID, "status": string(core.ExecutionRunning)}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("finishing execution record: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// Already terminal, or unknown id. Either way there is nothing
		// left to write.
		return nil
	}
	return nil
}

// GetExecution returns one execution record, or nil when unknown.
func (s *Store) GetExecution(ctx context.Context, id string) (*core.ExecutionRecord, error) {
	row := sq.Select("id", "status", "started_at", "finished_at", "duration_ms", "scraped", "published", "errors", "metadata").
		From("execution_records").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx)

	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return rec, nil
}

// RecentExecutions returns the latest n execution records, newest
// first.
func (s *Store) RecentExecutions(ctx context.Context, n int) ([]core.ExecutionRecord, error) {
	rows, err := sq.Select("id", "status", "started_at", "finished_at", "duration_ms", "scraped", "published", "errors", "metadata").
		From("execution_records").
		OrderBy("started_at DESC").Limit(uint64(n)).
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var recs []core.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func scanExecution(row rowScanner) (*core.ExecutionRecord, error) {
	var rec core.ExecutionRecord
	var status, errs, meta string
	var durationMs int64
	var finishedAt sql.NullTime
	err := row.Scan(&rec.ID, &status, &rec.StartedAt, &finishedAt, &durationMs,
		&rec.Scraped, &rec.Published, &errs, &meta)
	if err != nil {
		return nil, err
	}
	rec.Status = core.ExecutionStatus(status)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if finishedAt.Valid {
		rec.FinishedAt = finishedAt.Time
	}
	if errs != "" {
		_ = json.Unmarshal([]byte(errs), &rec.Errors)
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &rec.Metadata)
	}
	return &rec, nil
}

// GetSetting returns a settings value, or the empty string when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := sq.Select("value").From("settings").Where(sq.Eq{"key": key}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// Slugify turns a title into a URL slug.
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
