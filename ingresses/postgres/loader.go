package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Querier is the part of a pgx pool the loader uses
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Sink receives document batches. *store.IndexStore implements it.
type Sink interface {
	AddDocuments(indexID string, documents []map[string]any, generateIDs bool) (int, error)
}

// Stats summarizes a finished load
type Stats struct {
	Batches   int           `json:"batches"`
	Documents int           `json:"documents"`
	Skipped   int           `json:"skipped"`
	Took      time.Duration `json:"took"`
}

// Loader copies a table into an index in primary-key order, one keyset batch
// at a time
type Loader struct {
	db     Querier
	config *Config
	mapper *Mapper
	logger *zap.Logger
}

// NewLoader creates a loader. The config is validated and defaulted.
func NewLoader(db Querier, config *Config, logger *zap.Logger) (*Loader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.WithDefaults()
	return &Loader{
		db:     db,
		config: cfg,
		mapper: NewMapper(cfg),
		logger: logger.Named("postgres").With(zap.String("table", cfg.FullTableName())),
	}, nil
}

// Load copies every matching row into indexID
func (l *Loader) Load(ctx context.Context, indexID string, sink Sink) (Stats, error) {
	start := time.Now()
	var stats Stats
	var after any

	l.logger.Info("load started", zap.String("index", indexID), zap.Int("batch_size", l.config.BatchSize))

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		docs, last, skipped, err := l.fetchBatch(ctx, after)
		if err != nil {
			return stats, err
		}
		stats.Skipped += skipped
		if len(docs) == 0 {
			break
		}

		if _, err := sink.AddDocuments(indexID, docs, false); err != nil {
			return stats, fmt.Errorf("failed to index batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		stats.Documents += len(docs)
		after = last

		l.logger.Debug("batch loaded",
			zap.Int("batch", stats.Batches),
			zap.Int("documents", len(docs)),
			zap.Int("total", stats.Documents),
		)

		if len(docs)+skipped < l.config.BatchSize {
			break
		}
	}

	stats.Took = time.Since(start)
	l.logger.Info("load completed",
		zap.String("index", indexID),
		zap.Int("documents", stats.Documents),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", stats.Took),
	)
	return stats, nil
}

func (l *Loader) fetchBatch(ctx context.Context, after any) ([]map[string]any, any, int, error) {
	query := buildQuery(l.config, after != nil)
	args := []any{l.config.BatchSize}
	if after != nil {
		args = []any{after, l.config.BatchSize}
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var docs []map[string]any
	var last any
	skipped := 0
	fields := rows.FieldDescriptions()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read row: %w", err)
		}
		doc, key, err := l.mapper.Map(fields, values)
		if err != nil {
			l.logger.Warn("skipping row", zap.Error(err))
			skipped++
			continue
		}
		docs = append(docs, doc)
		last = key
	}

	if err := rows.Err(); err != nil {
		return nil, nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return docs, last, skipped, nil
}

// buildQuery returns the keyset query of one batch. The first batch takes the
// limit as $1, later ones take the last key as $1 and the limit as $2.
func buildQuery(cfg *Config, hasCursor bool) string {
	columns := "*"
	if len(cfg.Columns) > 0 {
		quoted := make([]string, 0, len(cfg.Columns)+1)
		hasKey := false
		for _, col := range cfg.Columns {
			quoted = append(quoted, pgx.Identifier{col}.Sanitize())
			hasKey = hasKey || col == cfg.PrimaryKey
		}
		if !hasKey {
			quoted = append(quoted, pgx.Identifier{cfg.PrimaryKey}.Sanitize())
		}
		columns = strings.Join(quoted, ", ")
	}

	key := pgx.Identifier{cfg.PrimaryKey}.Sanitize()

	var conditions []string
	limit := "$1"
	if hasCursor {
		conditions = append(conditions, key+" > $1")
		limit = "$2"
	}
	if cfg.WhereClause != "" {
		conditions = append(conditions, "("+cfg.WhereClause+")")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, cfg.FullTableName())
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT %s", key, limit)
	return b.String()
}
