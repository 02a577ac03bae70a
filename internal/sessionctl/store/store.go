// Package store keeps sessionctl sessions in a local sqlite database, one
// per profile.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	s, err := NewStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := s.ApplyMigrations(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to apply session database migrations: %w", err)
	}
	return s, nil
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A CLI process needs one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Sessions returns the session repository for one profile.
func (s *Store) Sessions(profile string) *Sessions {
	return &Sessions{db: s.db, profile: profile}
}
