// Package repository provides database operations for tenant optimizer
// settings and the append-only execution record.
package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides database operations for the optimizer.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new optimizer repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}
