package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"taskforge/internal/logging"
	"taskforge/internal/types"
)

var (
	// ErrExampleNotFound is returned when no example has the requested id.
	ErrExampleNotFound = errors.New("example not found")
	// ErrDuplicateExample is returned when adding an id that already exists.
	ErrDuplicateExample = errors.New("example already exists")
)

// ExampleStore is the append-only backing store for retrieval examples.
// It runs on database/sql with either the sqlite or the pgx driver.
type ExampleStore struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

// OpenExampleStore opens the store. For sqlite the DSN is a file path (or
// ":memory:") and its directory is created as needed.
func OpenExampleStore(driver, dsn string) (*ExampleStore, error) {
	switch driver {
	case "sqlite":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	case "pgx":
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	db, err := sql.Open(driver, strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// A single connection keeps ":memory:" databases coherent.
		db.SetMaxOpenConns(1)
	}

	s := &ExampleStore{db: db, driver: driver}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Example store opened (driver=%s)", driver)
	return s, nil
}

func (s *ExampleStore) initialize() error {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "pgx" {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	schema := `
	CREATE TABLE IF NOT EXISTS examples (
		` + seq + `,
		id TEXT NOT NULL UNIQUE,
		task_text TEXT NOT NULL,
		code TEXT NOT NULL,
		dependency_signature TEXT NOT NULL DEFAULT '',
		task_embedding TEXT NOT NULL,
		dep_embedding TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create examples table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *ExampleStore) Close() error {
	return s.db.Close()
}

// Add appends ex, assigning an id and creation time when missing.
func (s *ExampleStore) Add(ctx context.Context, ex types.Example) (types.Example, error) {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	if len(ex.TaskEmbedding) == 0 {
		return ex, fmt.Errorf("example %s has no task embedding", ex.ID)
	}
	taskEmb, err := json.Marshal(ex.TaskEmbedding)
	if err != nil {
		return ex, err
	}
	depEmb, err := json.Marshal(ex.DepEmbedding)
	if err != nil {
		return ex, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM examples WHERE id = ?`), ex.ID).Scan(&exists)
	if err != nil {
		return ex, fmt.Errorf("failed to check example: %w", err)
	}
	if exists > 0 {
		return ex, fmt.Errorf("%w: %s", ErrDuplicateExample, ex.ID)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO examples (id, task_text, code, dependency_signature, task_embedding, dep_embedding, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ex.ID, ex.TaskText, ex.Code, ex.DependencySignature, string(taskEmb), string(depEmb), ex.Source, ex.CreatedAt.UnixNano())
	if err != nil {
		return ex, fmt.Errorf("failed to insert example: %w", err)
	}
	logging.StoreDebug("Stored example %s (source=%s)", ex.ID, ex.Source)
	return ex, nil
}

// Get returns the example with id.
func (s *ExampleStore) Get(ctx context.Context, id string) (types.Example, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+exampleColumns+` FROM examples WHERE id = ?`), id)
	ex, err := scanExample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Example{}, fmt.Errorf("%w: %s", ErrExampleNotFound, id)
	}
	return ex, err
}

// All returns every example in insertion order.
func (s *ExampleStore) All(ctx context.Context) ([]types.Example, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+exampleColumns+` FROM examples ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var out []types.Example
	for rows.Next() {
		ex, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Count returns the number of stored examples.
func (s *ExampleStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM examples`).Scan(&n)
	return n, err
}

// Remove deletes the example with id.
func (s *ExampleStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM examples WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to remove example: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExampleNotFound, id)
	}
	logging.Store("Removed example %s", id)
	return nil
}

const exampleColumns = `id, task_text, code, dependency_signature, task_embedding, dep_embedding, source, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanExample(r scanner) (types.Example, error) {
	var (
		ex              types.Example
		taskEmb, depEmb string
		created         int64
	)
	if err := r.Scan(&ex.ID, &ex.TaskText, &ex.Code, &ex.DependencySignature, &taskEmb, &depEmb, &ex.Source, &created); err != nil {
		return types.Example{}, err
	}
	if err := json.Unmarshal([]byte(taskEmb), &ex.TaskEmbedding); err != nil {
		return types.Example{}, fmt.Errorf("corrupt task embedding for %s: %w", ex.ID, err)
	}
	if err := json.Unmarshal([]byte(depEmb), &ex.DepEmbedding); err != nil {
		return types.Example{}, fmt.Errorf("corrupt dependency embedding for %s: %w", ex.ID, err)
	}
	ex.CreatedAt = time.Unix(0, created).UTC()
	return ex, nil
}

// rebind rewrites ? placeholders to $n for the pgx driver.
func (s *ExampleStore) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders to PostgreSQL's $n form.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
