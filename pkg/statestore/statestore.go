// Package statestore persists the daemon state that has to survive a restart
// in a small sqlite key/value table.
package statestore

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/womat/debug"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/upsert.sql
var upsertSQL string

// Keys of the persisted values.
const (
	KeyTransceiverID    = "transceiver_id"
	KeyDeviceID         = "device_id"
	KeyLastSeen         = "last_seen"
	KeyLastHistoryIndex = "last_history_index"
	KeyFrequency        = "frequency"
)

// ErrInvalidValue is returned when a stored value cannot be parsed as the requested type.
var ErrInvalidValue = errors.New("invalid stored value")

type Store struct {
	db *sql.DB
}

// Open opens or creates the state database at path. ":memory:" keeps the state in memory.
func Open(path string) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// a single connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}

	debug.DebugLog.Printf("state store %s opened", path)
	return &Store{db: db}, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := strings.Join([]string{"_busy_timeout=5000", "_journal_mode=WAL"}, "&")
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params, nil
	}
	return fmt.Sprintf("file:%s?%s", path, params), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if _, err := s.db.Exec(upsertSQL, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM state WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Int returns the integer stored under key.
func (s *Store) Int(key string) (int64, bool, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
	}
	return n, true, nil
}

func (s *Store) SetInt(key string, n int64) error {
	return s.Set(key, strconv.FormatInt(n, 10))
}

// ID returns a 16 bit radio ID stored as hex under key.
func (s *Store) ID(key string) (uint16, bool, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
	}
	return uint16(n), true, nil
}

func (s *Store) SetID(key string, id uint16) error {
	return s.Set(key, fmt.Sprintf("%04x", id))
}

// Time returns the timestamp stored under key.
func (s *Store) Time(key string) (time.Time, bool, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
	}
	return t, true, nil
}

func (s *Store) SetTime(key string, t time.Time) error {
	return s.Set(key, t.UTC().Format(time.RFC3339Nano))
}
