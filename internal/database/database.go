package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"pingme/internal/constants"
	"pingme/internal/migrations"
	"pingme/internal/models"
	"pingme/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Database struct {
	db            *sql.DB
	locks         *keyedMutex
	retryAttempts int
	retryBackoff  time.Duration
	maxBackoff    time.Duration
}

// Option customizes a Database.
type Option func(*Database)

// WithRetry sets how often transient SQLite errors (busy, locked) are
// retried and the initial backoff between attempts.
func WithRetry(attempts int, initialBackoff, maxBackoff time.Duration) Option {
	return func(d *Database) {
		if attempts > 0 {
			d.retryAttempts = attempts
		}
		if initialBackoff > 0 {
			d.retryBackoff = initialBackoff
		}
		if maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// New opens (creating if needed) the SQLite database at dbPath and applies
// pending migrations.
func New(dbPath string, opts ...Option) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	d := &Database{
		db:            db,
		locks:         newKeyedMutex(),
		retryAttempts: constants.DefaultDatabaseRetries,
		retryBackoff:  time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		maxBackoff:    time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// UpsertUser stores a user's display identity. Presence columns are left
// untouched on conflict.
func (d *Database) UpsertUser(ctx context.Context, u *models.User) error {
	if u == nil || u.ID == "" || u.Username == "" {
		return fmt.Errorf("user requires an id and a username")
	}
	return d.withRetry(ctx, "upsert user", func() error {
		_, err := d.db.ExecContext(ctx, UpsertUserQuery,
			u.ID, u.Username, u.FirstName, u.LastName, u.Avatar,
			boolToInt(u.IsOnline), toUnixNano(u.LastSeen), time.Now().UnixNano(),
		)
		return err
	})
}

// GetUser returns nil when the user does not exist.
func (d *Database) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u        models.User
		online   int
		lastSeen int64
	)
	err := d.db.QueryRowContext(ctx, SelectUserByIDQuery, id).Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Avatar, &online, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.IsOnline = online != 0
	u.LastSeen = fromUnixNano(lastSeen)
	return &u, nil
}

// GetUsers loads several users at once; ids that do not exist are absent
// from the result.
func (d *Database) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	for _, id := range uniqueStrings(ids) {
		u, err := d.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			out[id] = u
		}
	}
	return out, nil
}

func (d *Database) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := d.db.QueryRowContext(ctx, SelectUserExistsQuery, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

// ListUsers returns every user except excludeID, online users first.
func (d *Database) ListUsers(ctx context.Context, excludeID string) ([]*models.User, error) {
	rows, err := d.db.QueryContext(ctx, SelectUsersExceptQuery, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return scanUsers(rows)
}

// SearchUsers matches query against username and names, case-insensitively.
func (d *Database) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]*models.User, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := d.db.QueryContext(ctx, SearchUsersExceptQuery, excludeID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return scanUsers(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func scanUsers(rows *sql.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		var (
			u        models.User
			online   int
			lastSeen int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Avatar, &online, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.IsOnline = online != 0
		u.LastSeen = fromUnixNano(lastSeen)
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SetUserPresence records the last known presence of a user.
func (d *Database) SetUserPresence(ctx context.Context, id string, online bool, at time.Time) error {
	return d.withRetry(ctx, "set user presence", func() error {
		_, err := d.db.ExecContext(ctx, UpdateUserPresenceQuery, boolToInt(online), toUnixNano(at), id)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
