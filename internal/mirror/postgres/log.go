// Package postgres stores the mirror's document log in PostgreSQL.
//
// Appends take a per-collection advisory lock so versions stay dense and
// ordered. Committed appends are announced with NOTIFY; every Log
// instance LISTENs on the same channel so long-poll readers on any mirror
// process wake up.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/rxvault/internal/mirror"
	"github.com/roach88/rxvault/internal/model"
	"github.com/roach88/rxvault/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Channel is the NOTIFY channel appends are announced on.
const Channel = "rxvault_documents"

var _ mirror.Log = (*Log)(nil)

const documentColumns = `collection, version, id, schema, deleted, fields, digest, author`

// Log is a mirror.Log backed by a pgx connection pool.
type Log struct {
	pool   *pgxpool.Pool
	wake   *mirror.Broadcast
	logger *slog.Logger

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) {
		lg.logger = l
	}
}

// Open connects to dsn, applies the schema and starts listening for
// append notifications.
func Open(ctx context.Context, dsn string, opts ...Option) (*Log, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	l := &Log{pool: pool, wake: mirror.NewBroadcast(), logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	l.cancel = stop
	l.done.Add(1)
	go l.listen(listenCtx)
	return l, nil
}

func (l *Log) Append(ctx context.Context, doc remote.Document) (remote.Document, error) {
	if doc.Collection == "" || doc.ID == "" {
		return remote.Document{}, errors.New("append: collection and id are required")
	}

	var stored remote.Document
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(doc.Collection)); err != nil {
			return fmt.Errorf("lock collection: %w", err)
		}

		latest, err := scanDocument(tx.QueryRow(ctx, `
			SELECT `+documentColumns+` FROM mirror_documents
			WHERE collection = $1 AND id = $2
			ORDER BY version DESC LIMIT 1
		`, string(doc.Collection), doc.ID))
		switch {
		case err == nil && latest.Digest == doc.Digest:
			stored = latest
			return nil
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("read latest version: %w", err)
		}

		var head int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM mirror_documents WHERE collection = $1`,
			string(doc.Collection)).Scan(&head); err != nil {
			return fmt.Errorf("read head: %w", err)
		}

		doc.Version = head + 1
		_, err = tx.Exec(ctx, `
			INSERT INTO mirror_documents (`+documentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, string(doc.Collection), doc.Version, doc.ID, doc.Schema, doc.Deleted,
			string(doc.Fields), doc.Digest, doc.Author)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(doc.Collection)); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		stored = doc
		return nil
	})
	if err != nil {
		return remote.Document{}, fmt.Errorf("append %s/%s: %w", doc.Collection, doc.ID, err)
	}

	l.wake.Notify()
	return stored, nil
}

func (l *Log) Since(ctx context.Context, c model.Collection, since int64, limit int) ([]remote.Document, error) {
	if limit <= 0 {
		limit = mirror.DefaultPageSize
	}
	rows, err := l.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM mirror_documents
		WHERE collection = $1 AND version > $2
		ORDER BY version ASC
		LIMIT $3
	`, string(c), since, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := []remote.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (l *Log) Head(ctx context.Context, c model.Collection) (int64, error) {
	var head int64
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM mirror_documents WHERE collection = $1`,
		string(c)).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

func (l *Log) Wait(ctx context.Context, c model.Collection, since int64) error {
	return mirror.WaitFor(ctx, l.wake, since, func(ctx context.Context) (int64, error) {
		return l.Head(ctx, c)
	})
}

// Close stops the listener and closes the pool.
func (l *Log) Close() error {
	l.cancel()
	l.done.Wait()
	l.pool.Close()
	return nil
}

// listen relays NOTIFY messages from other mirror processes to local
// waiters, reconnecting until ctx is cancelled.
func (l *Log) listen(ctx context.Context) {
	defer l.done.Done()
	for ctx.Err() == nil {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("mirror listen connection lost", "error", err)
		// Appends may have happened while disconnected.
		l.wake.Notify()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (l *Log) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		l.wake.Notify()
	}
}

func scanDocument(row pgx.Row) (remote.Document, error) {
	var (
		doc        remote.Document
		collection string
		fields     string
	)
	err := row.Scan(&collection, &doc.Version, &doc.ID, &doc.Schema, &doc.Deleted, &fields, &doc.Digest, &doc.Author)
	if err != nil {
		return remote.Document{}, err
	}
	doc.Collection = model.Collection(collection)
	if fields != "" {
		doc.Fields = json.RawMessage(fields)
	}
	return doc, nil
}
