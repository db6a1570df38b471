package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the cache inside the process; nothing survives a restart.
const MemoryDSN = ":memory:"

var (
	//go:embed sql/*
	f embed.FS

	ErrNotFound = errors.New("upload not found")

	errDBNotInitialized = errors.New("store not initialized")
)

// Store caches uploaded files and their model scores keyed by content hash.
type Store struct {
	db *sql.DB
}

// Open creates the cache. An empty dsn means MemoryDSN.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every in-memory connection is its own database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	slog.Debug("creating store schema...")
	b, err := f.ReadFile("sql/ddl.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read the schema creation file: %w", err)
	}
	if _, err := db.Exec(string(b)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create store schema: %w", err)
	}
	slog.Debug("store schema created")

	return &Store{db: db}, nil
}

// Close releases the cache and everything in it.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upload describes a cached file.
type Upload struct {
	ID        uuid.UUID `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Hash      string    `json:"hash" yaml:"hash"`
	Size      int64     `json:"size" yaml:"size"`
	Rows      int       `json:"rows" yaml:"rows"`
	CreatedAt time.Time `json:"created_at" yaml:"createdAt"`
	UsedAt    time.Time `json:"used_at" yaml:"usedAt"`
}

func (s *Store) check() error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	return nil
}
