package cdc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// TableSchema caches the column layout of one table.
type TableSchema struct {
	Name        string
	Columns     []ColumnInfo
	PrimaryKey  []string
	LastUpdated time.Time
}

// ColumnInfo records catalog facts about one column.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// columnsQuery lists every user table column in ordinal order.
const columnsQuery = `
	SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable
	FROM information_schema.columns c
	JOIN information_schema.tables t
	  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
	WHERE t.table_type = 'BASE TABLE'
	  AND c.table_schema NOT IN ('information_schema', 'pg_catalog')
	ORDER BY c.table_schema, c.table_name, c.ordinal_position`

// primaryKeysQuery lists primary key columns for all user tables in key
// order, one round trip for the whole database.
const primaryKeysQuery = `
	SELECT n.nspname, cl.relname, a.attname
	FROM pg_index i
	JOIN pg_class cl ON cl.oid = i.indrelid
	JOIN pg_namespace n ON n.oid = cl.relnamespace
	JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
	WHERE i.indisprimary
	  AND n.nspname NOT IN ('information_schema', 'pg_catalog')
	ORDER BY n.nspname, cl.relname, array_position(i.indkey, a.attnum)`

// loadTableSchemas fills the schema cache for all user tables. The
// decoders consult it when they stamp per-column metadata.
func (c *PostgreSQLConnector) loadTableSchemas() error {
	rows, err := c.conn.Query(context.Background(), columnsQuery)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to query table columns")
	}
	defer rows.Close()

	schemaMap := make(map[string]*TableSchema)
	for rows.Next() {
		var schema, table, column, dataType, nullable string
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to scan column row")
		}

		key := stringpool.Sprintf("%s.%s", schema, table)
		entry := schemaMap[key]
		if entry == nil {
			entry = &TableSchema{Name: key, LastUpdated: time.Now()}
			schemaMap[key] = entry
		}
		entry.Columns = append(entry.Columns, ColumnInfo{
			Name:     column,
			Type:     dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to read column rows")
	}

	if err := c.loadPrimaryKeys(schemaMap); err != nil {
		// Primary keys refine event keys but are not required to
		// decode changes.
		c.logger.Warn("failed to load primary keys", zap.Error(err))
	}

	c.schemaMu.Lock()
	c.schemas = schemaMap
	c.schemaMu.Unlock()

	c.logger.Info("loaded table schemas", zap.Int("table_count", len(schemaMap)))
	return nil
}

func (c *PostgreSQLConnector) loadPrimaryKeys(schemaMap map[string]*TableSchema) error {
	rows, err := c.conn.Query(context.Background(), primaryKeysQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return err
		}
		if entry, ok := schemaMap[stringpool.Concat(schema, ".", table)]; ok {
			entry.PrimaryKey = append(entry.PrimaryKey, column)
		}
	}
	return rows.Err()
}

// columnNullable reports whether a column accepts NULL according to the
// schema cache. Unknown tables and columns are treated as nullable.
func (c *PostgreSQLConnector) columnNullable(schema, table, column string) bool {
	c.schemaMu.RLock()
	defer c.schemaMu.RUnlock()

	info, exists := c.schemas[stringpool.Concat(schema, ".", table)]
	if !exists {
		return true
	}
	for _, col := range info.Columns {
		if col.Name == column {
			return col.Nullable
		}
	}
	return true
}

// qualifyTables prefixes bare table names with the public schema.
func qualifyTables(tables []string) []string {
	qualified := make([]string, 0, len(tables))
	for _, table := range tables {
		if strings.Contains(table, ".") {
			qualified = append(qualified, table)
		} else {
			qualified = append(qualified, stringpool.Concat("public.", table))
		}
	}
	return qualified
}

// createPublicationSQL builds the DDL for a publication covering all
// tables. Identifier quoting keeps unusual publication names working.
func createPublicationSQL(publication string) string {
	sb := stringpool.NewSQLBuilder(64)
	defer sb.Close()

	sb.WriteQuery("CREATE PUBLICATION ").
		WriteIdentifier(publication).
		WriteQuery(" FOR ALL TABLES")
	return sb.String()
}

// setPublicationTablesSQL narrows a publication to the given tables,
// quoting each schema and table part.
func setPublicationTablesSQL(publication string, tables []string) string {
	sb := stringpool.NewSQLBuilder(64 + 32*len(tables))
	defer sb.Close()

	sb.WriteQuery("ALTER PUBLICATION ").
		WriteIdentifier(publication).
		WriteQuery(" SET TABLE ")

	for i, table := range tables {
		if i > 0 {
			sb.WriteQuery(", ")
		}
		if schema, name, ok := strings.Cut(table, "."); ok {
			sb.WriteQualifiedIdentifier(schema, name)
		} else {
			sb.WriteIdentifier(table)
		}
	}
	return sb.String()
}
