package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
	_ "modernc.org/sqlite"
)

// Scheme is the URL scheme handled by Dialer: sqlite:///path/to/dir.
// Each repository is a file <dir>/<repository>.db.
const Scheme = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	ns_uri TEXT NOT NULL UNIQUE,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
	path TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS revisions (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	class TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS revisions_class ON revisions(class);
CREATE TABLE IF NOT EXISTS xrefs (
	source TEXT NOT NULL,
	feature TEXT NOT NULL,
	target TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS xrefs_target ON xrefs(target);
CREATE INDEX IF NOT EXISTS xrefs_source ON xrefs(source);
`

// Store implements ports.Backend on a single SQLite database file.
type Store struct {
	db *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; commits run in a single transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// RepositoryPath returns the database file of a repository inside dir.
func RepositoryPath(dir, repository string) string {
	return filepath.Join(dir, repository+".db")
}

// CreateRepository creates an empty repository database inside dir.
func CreateRepository(dir, repository string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	s, err := Open(RepositoryPath(dir, repository))
	if err != nil {
		return err
	}
	return s.Close()
}

// Dialer returns a ports.Dialer for sqlite:///dir URLs. Only existing repositories can be dialed.
func Dialer() ports.Dialer {
	return ports.DialerFunc(func(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
		}
		dir := u.Host + u.Path
		path := RepositoryPath(dir, repository)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%q: %w", repository, domain.ErrRepositoryNotFound)
			}
			return nil, err
		}
		return Open(path)
	})
}

// PackageURIs lists packages in registration order.
func (s *Store) PackageURIs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ns_uri FROM packages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// Package decodes one registered package.
func (s *Store) Package(ctx context.Context, nsURI string) (*domain.Package, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM packages WHERE ns_uri = ?`, nsURI).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %s not registered", nsURI)
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	var pkg domain.Package
	if err := json.Unmarshal([]byte(body), &pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal package: %w", err)
	}
	return pkg.Bind(), nil
}

// Resource reads one resource.
func (s *Store) Resource(ctx context.Context, path string) (*domain.Resource, error) {
	return resource(ctx, s.db, path)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func resource(ctx context.Context, q querier, path string) (*domain.Resource, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM resources WHERE path = ?`, path).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrResourceNotFound)
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	var res domain.Resource
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resource: %w", err)
	}
	return &res, nil
}

// Revisions reads the requested revisions and returns them in request order.
func (s *Store) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	found, err := revisions(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Revision, 0, len(ids))
	for _, id := range ids {
		rev, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, domain.ErrObjectNotFound)
		}
		out = append(out, rev.Clone())
	}
	return out, nil
}

func revisions(ctx context.Context, q querier, ids []domain.ObjectID) (map[domain.ObjectID]*domain.Revision, error) {
	found := make(map[domain.ObjectID]*domain.Revision, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT body FROM revisions WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get revisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rev domain.Revision
		if err := json.Unmarshal([]byte(body), &rev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal revision: %w", err)
		}
		found[rev.ID] = &rev
	}
	return found, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Instances selects by class through the class index.
func (s *Store) Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error) {
	classes := []string{q.Class}
	if !q.Exact {
		pkgs, err := s.packages(ctx)
		if err != nil {
			return nil, err
		}
		classes = domain.KindClosure(pkgs, q.Class)
	}

	args := make([]any, len(classes))
	for i, c := range classes {
		args[i] = c
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM revisions WHERE class IN (`+placeholders(len(classes))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var out []domain.ObjectID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, domain.ObjectID(id))
	}
	return out, rows.Err()
}

func (s *Store) packages(ctx context.Context) ([]*domain.Package, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM packages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*domain.Package
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var pkg domain.Package
		if err := json.Unmarshal([]byte(body), &pkg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal package: %w", err)
		}
		pkgs = append(pkgs, pkg.Bind())
	}
	return pkgs, rows.Err()
}

// CrossReferences reads the reference table.
func (s *Store) CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	args := make([]any, len(targets))
	for i, id := range targets {
		args[i] = string(id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, feature, target FROM xrefs WHERE target IN (`+placeholders(len(targets))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cross references: %w", err)
	}
	defer rows.Close()

	var out []*domain.CrossReference
	for rows.Next() {
		var ref domain.CrossReference
		if err := rows.Scan(&ref.Source, &ref.Feature, &ref.Target); err != nil {
			return nil, err
		}
		out = append(out, &ref)
	}
	return out, rows.Err()
}

// Subtree walks containment one query per level.
func (s *Store) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	res, err := s.Resource(ctx, path)
	if err != nil {
		return nil, err
	}

	var out []*domain.Revision
	level := res.Roots
	for d := 0; len(level) > 0 && (depth == domain.DepthInfinite || d < depth); d++ {
		found, err := revisions(ctx, s.db, level)
		if err != nil {
			return nil, err
		}
		var next []domain.ObjectID
		for _, id := range level {
			rev, ok := found[id]
			if !ok {
				continue
			}
			out = append(out, rev)
			next = append(next, rev.Children()...)
		}
		level = next
	}
	return out, nil
}

// Commit validates and applies the change set in one SQL transaction.
func (s *Store) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	var touched []domain.ObjectID
	for _, group := range [][]*domain.Revision{cs.New, cs.Dirty, cs.Detached} {
		for _, rev := range group {
			touched = append(touched, rev.ID)
		}
	}
	previous, err := revisions(ctx, tx, touched)
	if err != nil {
		return err
	}

	err = cs.Validate(
		func(id domain.ObjectID) (int64, bool, error) {
			rev, ok := previous[id]
			if !ok {
				return 0, false, nil
			}
			return rev.Version, true, nil
		},
		func(path string) (int64, bool, error) {
			res, err := resource(ctx, tx, path)
			if errors.Is(err, domain.ErrResourceNotFound) {
				return 0, false, nil
			}
			if err != nil {
				return 0, false, err
			}
			return res.Version, true, nil
		},
	)
	if err != nil {
		return err
	}

	for _, pkg := range cs.Packages {
		data, err := json.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("failed to marshal package: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO packages (ns_uri, body) VALUES (?, ?) ON CONFLICT(ns_uri) DO NOTHING`,
			pkg.NsURI, string(data)); err != nil {
			return fmt.Errorf("failed to register package: %w", err)
		}
	}

	resources, revs := cs.Next()
	for _, res := range resources {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal resource: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resources (path, version, body) VALUES (?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET version = excluded.version, body = excluded.body`,
			res.Path, res.Version, string(data)); err != nil {
			return fmt.Errorf("failed to write resource: %w", err)
		}
	}

	for _, rev := range cs.Detached {
		if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE id = ?`, string(rev.ID)); err != nil {
			return fmt.Errorf("failed to delete revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM xrefs WHERE source = ?`, string(rev.ID)); err != nil {
			return fmt.Errorf("failed to delete references: %w", err)
		}
	}

	for _, rev := range revs {
		data, err := json.Marshal(rev)
		if err != nil {
			return fmt.Errorf("failed to marshal revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO revisions (id, version, class, body) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET version = excluded.version, class = excluded.class, body = excluded.body`,
			string(rev.ID), rev.Version, rev.Class, string(data)); err != nil {
			return fmt.Errorf("failed to write revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM xrefs WHERE source = ?`, string(rev.ID)); err != nil {
			return fmt.Errorf("failed to reset references: %w", err)
		}
		for _, feature := range slices.Sorted(maps.Keys(rev.References)) {
			for _, target := range rev.References[feature] {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO xrefs (source, feature, target) VALUES (?, ?, ?)`,
					string(rev.ID), feature, string(target)); err != nil {
					return fmt.Errorf("failed to write reference: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close closes the database. Calling it twice is allowed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
