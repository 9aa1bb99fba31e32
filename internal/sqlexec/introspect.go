// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"fmt"

	"fgp/postgres/internal/errors"
)

const (
	tablesSQL = `
		SELECT
			table_name,
			table_type,
			(SELECT count(*) FROM information_schema.columns c
			 WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name) AS column_count
		FROM information_schema.tables t
		WHERE table_schema = $1
		ORDER BY table_name`

	columnsSQL = `
		SELECT
			column_name,
			data_type,
			is_nullable,
			column_default,
			character_maximum_length,
			numeric_precision,
			numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	constraintsSQL = `
		SELECT
			tc.constraint_name,
			tc.constraint_type,
			kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2`

	indexesSQL = `
		SELECT
			indexname,
			indexdef
		FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2`

	schemasSQL = `
		SELECT
			schema_name,
			schema_owner
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schema_name`

	statsSQL = `
		SELECT
			current_database() AS database,
			pg_database_size(current_database()) AS size_bytes,
			(SELECT count(*) FROM pg_stat_activity
			 WHERE datname = current_database()) AS active_connections,
			(SELECT count(*) FROM information_schema.tables
			 WHERE table_schema = 'public') AS table_count,
			version() AS version`
)

// TableSchemaResult is the wire shape of postgres.schema.
type TableSchemaResult struct {
	Table       string           `json:"table"`
	Schema      string           `json:"schema"`
	Columns     []map[string]any `json:"columns"`
	Constraints []map[string]any `json:"constraints"`
	Indexes     []map[string]any `json:"indexes"`
}

// Tables lists tables in a schema with their type and column count.
func Tables(ctx context.Context, q Querier, schema string) (*QueryResult, error) {
	return Query(ctx, q, tablesSQL, schema)
}

// TableSchema describes one table: column definitions, constraints,
// and indexes.
func TableSchema(ctx context.Context, q Querier, table, schema string) (*TableSchemaResult, error) {
	columns, err := Query(ctx, q, columnsSQL, schema, table)
	if err != nil {
		return nil, err
	}
	if len(columns.Rows) == 0 {
		return nil, errors.Newf(errors.QueryError, "table %q not found in schema %q", table, schema)
	}

	constraints, err := Query(ctx, q, constraintsSQL, schema, table)
	if err != nil {
		return nil, err
	}

	indexes, err := Query(ctx, q, indexesSQL, schema, table)
	if err != nil {
		return nil, err
	}

	return &TableSchemaResult{
		Table:       table,
		Schema:      schema,
		Columns:     columns.Rows,
		Constraints: constraints.Rows,
		Indexes:     indexes.Rows,
	}, nil
}

// Schemas lists all non-system schemas visible to the connected role.
func Schemas(ctx context.Context, q Querier) (*QueryResult, error) {
	return Query(ctx, q, schemasSQL)
}

// Stats reports backend database statistics: size, connection count,
// table count, and server version, passed through as the backend
// reports them plus a human-readable size.
func Stats(ctx context.Context, q Querier) (map[string]any, error) {
	res, err := Query(ctx, q, statsSQL)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, errors.New(errors.QueryError, "backend returned no statistics")
	}

	stats := res.Rows[0]
	if size, ok := stats["size_bytes"].(int64); ok {
		stats["size_human"] = formatBytes(size)
	}
	return stats, nil
}

// formatBytes renders a byte count in a human-readable unit.
func formatBytes(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
