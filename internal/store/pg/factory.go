package pg

import (
	"context"
	"fmt"
)

// Stores aggregates the relational gateway's two domain stores, wired
// together the way the teacher's explicit build_runtime-style factories
// construct one struct from concrete NewXxxStore constructors rather than
// relying on package-level globals.
type Stores struct {
	DB       *DB
	Messages *MessageStore
	Tasks    *TaskStore
}

// NewStores opens the Postgres pool and constructs both stores.
func NewStores(ctx context.Context, dsn string, maxConns int) (*Stores, error) {
	db, err := Open(ctx, dsn, maxConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Stores{
		DB:       db,
		Messages: NewMessageStore(db),
		Tasks:    NewTaskStore(db),
	}, nil
}

func (s *Stores) Close() {
	s.DB.Close()
}
