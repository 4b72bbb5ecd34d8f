// Package store is the SQLite persistence layer for webcleaner: rule sets
// per origin and effect kind, per-origin flags, and counters.
package store

import (
	"database/sql"

	"github.com/hazyhaar/webcleaner/dbopen"
)

// Store is the webcleaner database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
