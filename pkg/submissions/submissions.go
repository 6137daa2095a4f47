// Package submissions reads the submission index kept by the web
// application so exports can be driven from a source or a list of
// submission UUIDs. It never writes to the database.
package submissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/timini/securedrop/pkg/artifacts"
)

// Dialect is the SQL flavour of the index database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrUnknownSubmission is returned by ByUUIDs when a UUID has no row.
var ErrUnknownSubmission = errors.New("submissions: unknown submission")

// Record is one submission row joined with its source.
type Record struct {
	UUID                  string
	Filename              string
	Size                  int64
	FilesystemID          string
	JournalistDesignation string
	LastUpdated           time.Time
}

// Submission converts the row into what the artifact store exports.
func (r Record) Submission() artifacts.Submission {
	return artifacts.Submission{
		FilesystemID:      r.FilesystemID,
		Filename:          r.Filename,
		SourceDesignation: r.JournalistDesignation,
		SourceLastUpdated: r.LastUpdated,
	}
}

// Submissions converts a slice of records.
func Submissions(records []Record) []artifacts.Submission {
	out := make([]artifacts.Submission, len(records))
	for i, r := range records {
		out[i] = r.Submission()
	}
	return out
}

// Index queries submissions.
type Index struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect) *Index {
	return &Index{db: db, dialect: dialect}
}

// Open connects to databaseURL. postgres:// and postgresql:// URLs use the
// Postgres driver; sqlite:// URLs and bare paths use SQLite.
func Open(ctx context.Context, databaseURL string) (*Index, error) {
	driver, dsn, dialect, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("submissions: open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("submissions: ping %s: %w", dialect, err)
	}
	return New(db, dialect), nil
}

func parseURL(databaseURL string) (driver, dsn string, dialect Dialect, err error) {
	switch {
	case databaseURL == "":
		return "", "", "", errors.New("submissions: DATABASE_URL is not set")
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", databaseURL, DialectPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(databaseURL, "sqlite://"), DialectSQLite, nil
	case strings.Contains(databaseURL, "://"):
		scheme, _, _ := strings.Cut(databaseURL, "://")
		return "", "", "", fmt.Errorf("submissions: unsupported database scheme %q", scheme)
	default:
		return "sqlite", databaseURL, DialectSQLite, nil
	}
}

// Close closes the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

const selectRecords = `
        SELECT s.uuid, s.filename, s.size, src.filesystem_id, src.journalist_designation, src.last_updated
        FROM submissions s
        JOIN sources src ON src.id = s.source_id
`

// ForSource returns a source's submissions in the order they were received.
func (i *Index) ForSource(ctx context.Context, filesystemID string) ([]Record, error) {
	query := selectRecords + `        WHERE src.filesystem_id = ?
        ORDER BY s.id
`
	return i.query(ctx, query, filesystemID)
}

// ByUUIDs returns the named submissions in the order requested. Every UUID
// must exist.
func (i *Index) ByUUIDs(ctx context.Context, uuids []string) ([]Record, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(uuids)), ", ")
	query := selectRecords + `        WHERE s.uuid IN (` + placeholders + `)
`
	args := make([]any, len(uuids))
	for n, u := range uuids {
		args[n] = u
	}

	rows, err := i.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	byUUID := make(map[string]Record, len(rows))
	for _, r := range rows {
		byUUID[r.UUID] = r
	}

	out := make([]Record, 0, len(uuids))
	for _, u := range uuids {
		r, ok := byUUID[u]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSubmission, u)
		}
		out = append(out, r)
	}
	return out, nil
}

func (i *Index) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := i.db.QueryContext(ctx, i.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("submissions: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			r           Record
			size        sql.NullInt64
			designation sql.NullString
			updated     sql.NullTime
		)
		if err := rows.Scan(&r.UUID, &r.Filename, &size, &r.FilesystemID, &designation, &updated); err != nil {
			return nil, fmt.Errorf("submissions: scan: %w", err)
		}
		r.Size = size.Int64
		r.JournalistDesignation = designation.String
		r.LastUpdated = updated.Time
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submissions: rows: %w", err)
	}
	return records, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (i *Index) rebind(query string) string {
	if i.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
