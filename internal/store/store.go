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
	"time"

	_ "modernc.org/sqlite"
)

// Dir is the per-project directory holding the index.
const Dir = ".flowseq"

// ErrSymbolNotFound is returned when no symbol matches a lookup.
var ErrSymbolNotFound = errors.New("symbol not found")

// Store handles persistence of indexed data to SQLite.
type Store struct {
	db      *sql.DB
	dbPath  string
	baseDir string // Project root directory
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens a flowseq index database.
// By default, stores at .flowseq/index.db relative to the given project directory.
func Open(projectDir string) (*Store, error) {
	indexDir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", Dir, err)
	}

	dbPath := filepath.Join(indexDir, "index.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -64000", // 64MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		db:      db,
		dbPath:  dbPath,
		baseDir: projectDir,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// ProjectDir returns the project root the store belongs to.
func (s *Store) ProjectDir() string {
	return s.baseDir
}

// Clear removes all indexed data for re-indexing. The generation counter
// survives so that readers of the old index notice the change.
func (s *Store) Clear() error {
	tables := []string{"call_sites", "symbols", "packages"}
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// InsertPackage inserts or updates a package.
func (s *Store) InsertPackage(pkg *Package) error {
	return insertPackage(context.Background(), s.db, pkg)
}

// InsertSymbol inserts or updates a symbol by key and returns its ID.
func (s *Store) InsertSymbol(sym *Symbol) (SymbolID, error) {
	return insertSymbol(context.Background(), s.db, sym)
}

// InsertCallSite inserts a call site.
func (s *Store) InsertCallSite(cs *CallSite) error {
	return insertCallSite(context.Background(), s.db, cs)
}

// GetSymbol looks up a symbol by descriptor key.
func (s *Store) GetSymbol(ctx context.Context, key string) (*Symbol, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE key = ?`, key)
	sym, err := scanSymbol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, key)
	}
	return sym, err
}

// FindSymbols returns the symbols with the given owner and name, ordered
// by key.
func (s *Store) FindSymbols(ctx context.Context, typeName, name string) ([]*Symbol, error) {
	return s.querySymbols(ctx, `SELECT `+symbolColumns+` FROM symbols
		WHERE type_name = ? AND name = ? ORDER BY key`, typeName, name)
}

// SearchSymbols returns symbols with a body whose key contains query.
func (s *Store) SearchSymbols(ctx context.Context, query string, limit int) ([]*Symbol, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.querySymbols(ctx, `SELECT `+symbolColumns+` FROM symbols
		WHERE has_body = 1 AND key LIKE '%' || ? || '%'
		ORDER BY key LIMIT ?`, query, limit)
}

func (s *Store) querySymbols(ctx context.Context, query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying symbols: %w", err)
	}
	defer rows.Close()

	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Call is a call site joined with its callee symbol.
type Call struct {
	CallSite
	Callee Symbol
}

// CallsOf returns the call sites of a caller in source order.
func (s *Store) CallsOf(ctx context.Context, callerID SymbolID) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.caller_id, c.seq, c.callee_id, c.resolved, c.call_kind,
		       COALESCE(c.file, ''), COALESCE(c.line, 0),
		       `+prefixedSymbolColumns+`
		FROM call_sites c
		JOIN symbols s ON s.id = c.callee_id
		WHERE c.caller_id = ?
		ORDER BY c.seq
	`, callerID)
	if err != nil {
		return nil, fmt.Errorf("querying call sites: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var (
			c      Call
			params string
		)
		if err := rows.Scan(
			&c.CallerID, &c.Seq, &c.CalleeID, &c.Resolved, &c.CallKind, &c.File, &c.Line,
			&c.Callee.ID, &c.Callee.Key, &c.Callee.PkgPath, &c.Callee.TypeName, &c.Callee.Name,
			&params, &c.Callee.Kind, &c.Callee.File, &c.Callee.Line, &c.Callee.HasBody,
		); err != nil {
			return nil, fmt.Errorf("scanning call site: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &c.Callee.Params); err != nil {
			return nil, fmt.Errorf("decoding params of %s: %w", c.Callee.Key, err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// SetMetadata stores a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}

// Generation returns the index generation, 0 before the first index run.
func (s *Store) Generation() (int64, error) {
	v, err := s.GetMetadata("generation")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// BumpGeneration increments the index generation. Every completed index run
// bumps it once.
func (s *Store) BumpGeneration() (int64, error) {
	gen, err := s.Generation()
	if err != nil {
		return 0, err
	}
	gen++
	if err := s.SetMetadata("generation", strconv.FormatInt(gen, 10)); err != nil {
		return 0, err
	}
	return gen, nil
}

// Stats holds statistics about the indexed data.
type Stats struct {
	PackageCount  int       `json:"package_count"`
	SymbolCount   int       `json:"symbol_count"`
	BodyCount     int       `json:"body_count"`
	CallSiteCount int       `json:"call_site_count"`
	Generation    int64     `json:"generation"`
	IndexedAt     time.Time `json:"indexed_at"`
}

// GetStats returns statistics about the indexed data.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	rows := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM packages", &stats.PackageCount},
		{"SELECT COUNT(*) FROM symbols", &stats.SymbolCount},
		{"SELECT COUNT(*) FROM symbols WHERE has_body = 1", &stats.BodyCount},
		{"SELECT COUNT(*) FROM call_sites", &stats.CallSiteCount},
	}

	for _, r := range rows {
		if err := s.db.QueryRow(r.query).Scan(r.dest); err != nil {
			return nil, fmt.Errorf("counting (%s): %w", r.query, err)
		}
	}

	gen, err := s.Generation()
	if err != nil {
		return nil, fmt.Errorf("reading generation: %w", err)
	}
	stats.Generation = gen

	if ts, err := s.GetMetadata("indexed_at"); err == nil {
		stats.IndexedAt, _ = time.Parse(time.RFC3339, ts)
	}

	return stats, nil
}

// IndexMetadata holds metadata written to index.json for quick UI boot.
type IndexMetadata struct {
	Version      string    `json:"version"`
	ProjectPath  string    `json:"project_path"`
	IndexedAt    time.Time `json:"indexed_at"`
	Generation   int64     `json:"generation"`
	PackageCount int       `json:"package_count"`
	SymbolCount  int       `json:"symbol_count"`
	Packages     []string  `json:"packages"`
}

// WriteIndexJSON writes index.json next to the database.
func (s *Store) WriteIndexJSON() error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	rows, err := s.db.Query("SELECT pkg_path FROM packages ORDER BY pkg_path")
	if err != nil {
		return fmt.Errorf("querying packages: %w", err)
	}
	defer rows.Close()

	var packages []string
	for rows.Next() {
		var pkgPath string
		if err := rows.Scan(&pkgPath); err != nil {
			return fmt.Errorf("scanning package: %w", err)
		}
		packages = append(packages, pkgPath)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("querying packages: %w", err)
	}

	meta := &IndexMetadata{
		Version:      "1",
		ProjectPath:  s.baseDir,
		IndexedAt:    stats.IndexedAt,
		Generation:   stats.Generation,
		PackageCount: stats.PackageCount,
		SymbolCount:  stats.SymbolCount,
		Packages:     packages,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index.json: %w", err)
	}

	indexPath := filepath.Join(filepath.Dir(s.dbPath), "index.json")
	if err := os.WriteFile(indexPath, data, 0644); err != nil {
		return fmt.Errorf("writing index.json: %w", err)
	}

	return nil
}

// Tx returns the underlying database for advanced queries.
// Use with caution - prefer adding methods to Store instead.
func (s *Store) Tx() *sql.DB {
	return s.db
}

// BeginBatch starts a transaction for batch inserts.
// Call Commit() when done, or Rollback() on error.
func (s *Store) BeginBatch() (*BatchTx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &BatchTx{tx: tx}, nil
}

// BatchTx wraps a transaction for batch operations.
type BatchTx struct {
	tx *sql.Tx
}

// Commit commits the batch transaction.
func (b *BatchTx) Commit() error {
	return b.tx.Commit()
}

// Rollback rolls back the batch transaction.
func (b *BatchTx) Rollback() error {
	return b.tx.Rollback()
}

// InsertPackage inserts a package within the batch.
func (b *BatchTx) InsertPackage(pkg *Package) error {
	return insertPackage(context.Background(), b.tx, pkg)
}

// InsertSymbol inserts a symbol within the batch and returns its ID.
func (b *BatchTx) InsertSymbol(sym *Symbol) (SymbolID, error) {
	return insertSymbol(context.Background(), b.tx, sym)
}

// InsertCallSite inserts a call site within the batch.
func (b *BatchTx) InsertCallSite(cs *CallSite) error {
	return insertCallSite(context.Background(), b.tx, cs)
}

func insertPackage(ctx context.Context, q querier, pkg *Package) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO packages (pkg_path, module, dir)
		VALUES (?, ?, ?)
		ON CONFLICT(pkg_path) DO UPDATE SET
			module = excluded.module,
			dir = excluded.dir
	`, pkg.PkgPath, pkg.Module, pkg.Dir)
	return err
}

// insertSymbol upserts by key. A symbol first seen as a callee without a
// body keeps its row when its body is indexed later.
func insertSymbol(ctx context.Context, q querier, sym *Symbol) (SymbolID, error) {
	params := sym.Params
	if params == nil {
		params = []string{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("encoding params: %w", err)
	}

	var id int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO symbols (key, pkg_path, type_name, name, params, kind, file, line, has_body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			file = COALESCE(excluded.file, symbols.file),
			line = COALESCE(excluded.line, symbols.line),
			has_body = MAX(symbols.has_body, excluded.has_body)
		RETURNING id
	`, sym.Key, sym.PkgPath, sym.TypeName, sym.Name, string(encoded), sym.Kind,
		nullString(sym.File), nullInt(sym.Line), sym.HasBody).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting symbol %s: %w", sym.Key, err)
	}
	return SymbolID(id), nil
}

func insertCallSite(ctx context.Context, q querier, cs *CallSite) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO call_sites (caller_id, seq, callee_id, resolved, call_kind, file, line)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cs.CallerID, cs.Seq, cs.CalleeID, cs.Resolved, cs.CallKind, nullString(cs.File), nullInt(cs.Line))
	return err
}

const symbolColumns = `id, key, pkg_path, type_name, name, params, kind,
	COALESCE(file, ''), COALESCE(line, 0), has_body`

const prefixedSymbolColumns = `s.id, s.key, s.pkg_path, s.type_name, s.name, s.params, s.kind,
	COALESCE(s.file, ''), COALESCE(s.line, 0), s.has_body`

type scanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row scanner) (*Symbol, error) {
	var (
		sym    Symbol
		params string
	)
	if err := row.Scan(&sym.ID, &sym.Key, &sym.PkgPath, &sym.TypeName, &sym.Name,
		&params, &sym.Kind, &sym.File, &sym.Line, &sym.HasBody); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &sym.Params); err != nil {
		return nil, fmt.Errorf("decoding params of %s: %w", sym.Key, err)
	}
	return &sym, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
