// Package postgres copies PostgreSQL tables into indexes.
package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultBatchSize is the number of rows read per keyset page
const DefaultBatchSize = 1000

var ErrInvalidConfig = errors.New("invalid postgres config")

// Config describes one table copy
type Config struct {
	DSN string `json:"dsn"`

	Schema  string   `json:"schema"`
	Table   string   `json:"table"`
	Columns []string `json:"columns,omitempty"` // empty = all

	// PrimaryKey is the keyset column. It must be unique and totally ordered.
	PrimaryKey string `json:"primary_key"`

	// ColumnMapping renames source columns to document fields
	ColumnMapping map[string]string `json:"column_mapping,omitempty"`

	WhereClause string `json:"where_clause,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`

	MaxConns    int32         `json:"max_conns,omitempty"`
	ConnTimeout time.Duration `json:"conn_timeout,omitempty"`
}

// Validate checks the required settings
func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.Table == "" {
		return fmt.Errorf("%w: table is required", ErrInvalidConfig)
	}
	if c.PrimaryKey == "" {
		return fmt.Errorf("%w: primary key is required", ErrInvalidConfig)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy with defaults applied
func (c *Config) WithDefaults() *Config {
	cfg := *c
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &cfg
}

// FullTableName returns the quoted schema.table
func (c *Config) FullTableName() string {
	return pgx.Identifier{c.Schema, c.Table}.Sanitize()
}

// FieldName returns the document field a column is stored under
func (c *Config) FieldName(column string) string {
	if mapped, ok := c.ColumnMapping[column]; ok && mapped != "" {
		return mapped
	}
	return column
}
