// Package database provides the embedded SQLite persistence layer
// (spec §4.2): a single writer connection serializing every mutation,
// a pooled reader connection for concurrent lookups, and embedded
// schema migrations.
//
// Grounded on internal/database/db.go's write-channel/writer-goroutine
// pattern. The teacher's string-interning pool and Postgres dialect
// support serve a much larger multi-tenant schema than this store
// needs (one operator, a handful of small tables) and are dropped —
// see DESIGN.md.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultBusyTimeout     = 5 * time.Second
	connectionSetupTimeout = 5 * time.Second
	writeChannelBuffer     = 256
)

var driverInit sync.Once

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()
			for _, pragma := range connectionPragmas() {
				if _, err := conn.ExecContext(ctx, pragma, nil); err != nil {
					return fmt.Errorf("connection hook exec %q: %w", pragma, err)
				}
			}
			return nil
		})
	})
}

func connectionPragmas() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout/time.Millisecond)),
	}
}

type writeReq struct {
	ctx   context.Context
	query string
	args  []any
	txFn  func(*sql.Tx) error
	resCh chan writeRes
}

type writeRes struct {
	result sql.Result
	err    error
}

// DB is the single persistence handle for the whole engine. All writes
// funnel through one dedicated connection via writeCh; reads use the
// pooled conn (spec §5: "writers share one connection per logical
// actor; readers may run concurrently").
type DB struct {
	conn      *sql.DB
	writeConn *sql.Conn
	writeCh   chan writeReq

	stop      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup
	closeErr  error
}

// Open creates the database file (and parent directory) if needed,
// applies pending migrations, and starts the writer goroutine.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{
		conn:    conn,
		writeCh: make(chan writeReq, writeChannelBuffer),
		stop:    make(chan struct{}),
	}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	writeConn, err := conn.Conn(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire write connection: %w", err)
	}
	db.writeConn = writeConn

	db.writerWG.Add(1)
	go db.writerLoop()

	log.Info().Str("path", path).Msg("database: opened")
	return db, nil
}

func isWriteQuery(query string) bool {
	q := strings.TrimLeftFunc(query, unicode.IsSpace)
	upper := strings.ToUpper(q)
	return strings.HasPrefix(upper, "INSERT") ||
		strings.HasPrefix(upper, "UPDATE") ||
		strings.HasPrefix(upper, "DELETE") ||
		strings.HasPrefix(upper, "REPLACE")
}

// ExecContext routes write statements through the single writer
// goroutine; everything else runs directly against the reader pool.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !isWriteQuery(query) {
		return db.conn.ExecContext(ctx, query, args...)
	}

	resCh := make(chan writeRes, 1)
	select {
	case db.writeCh <- writeReq{ctx: ctx, query: query, args: args, resCh: resCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-db.stop:
		return nil, fmt.Errorf("database: closing")
	}

	res := <-resCh
	return res.result, res.err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn inside a single transaction on the dedicated write
// connection, committing on success and rolling back on error or
// panic (spec §4.2: "all write operations occur inside a single
// transaction").
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	resCh := make(chan writeRes, 1)
	req := writeReq{ctx: ctx, txFn: fn, resCh: resCh}
	select {
	case db.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-db.stop:
		return fmt.Errorf("database: closing")
	}
	return (<-resCh).err
}

func (db *DB) writerLoop() {
	defer db.writerWG.Done()
	for {
		select {
		case req := <-db.writeCh:
			db.processWrite(req)
		case <-db.stop:
			// drain buffered writes before exiting
			for {
				select {
				case req := <-db.writeCh:
					db.processWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) processWrite(req writeReq) {
	if req.txFn != nil {
		tx, err := db.writeConn.BeginTx(req.ctx, nil)
		if err != nil {
			req.resCh <- writeRes{err: err}
			return
		}
		if err := req.txFn(tx); err != nil {
			_ = tx.Rollback()
			req.resCh <- writeRes{err: err}
			return
		}
		req.resCh <- writeRes{err: tx.Commit()}
		return
	}

	res, err := db.writeConn.ExecContext(req.ctx, req.query, req.args...)
	select {
	case req.resCh <- writeRes{result: res, err: err}:
	default:
	}
}

// Close stops the writer goroutine and closes both connections.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		close(db.stop)
		db.writerWG.Wait()
		if db.writeConn != nil {
			if err := db.writeConn.Close(); err != nil {
				log.Warn().Err(err).Msg("database: close write connection")
			}
		}
		db.closeErr = db.conn.Close()
	})
	return db.closeErr
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		var count int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE filename = ?", filename).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", filename, err)
		}
		if count > 0 {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filename, err)
		}
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx for %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES (?)", filename); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", filename, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", filename, err)
		}
		log.Info().Str("migration", filename).Msg("database: applied migration")
	}
	return nil
}
