package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type (
	TableDef struct {
		Name       string
		Columns    []ColumnDef
		PrimaryKey []string
	}

	ColumnDef struct {
		Name     string
		Datatype string
	}
)

// Each runs query and calls fn once per returned row.
func (c *Control) Each(ctx context.Context, query string, args []interface{}, fn func(*sql.Rows) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return classify("query", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return classify("query", rows.Err())
}

// Describe loads the column layout of the given table, sorted by column
// name. sql.ErrNoRows means the table does not exist.
func (c *Control) Describe(ctx context.Context, name string) (*TableDef, error) {
	td := TableDef{Name: name}
	var query string
	switch c.dialect {
	case Postgres:
		query = `select c.column_name, c.data_type,
			exists(select 1 from information_schema.table_constraints tc
				inner join information_schema.key_column_usage k
					on k.constraint_name = tc.constraint_name and k.table_name = tc.table_name
				where tc.table_name = c.table_name and tc.constraint_type = 'PRIMARY KEY'
					and k.column_name = c.column_name)
			from information_schema.columns c
			where c.table_name = ? and c.table_schema = current_schema()
			order by c.column_name`
	default:
		query = `select name, type, pk > 0 from pragma_table_info(?) order by name`
	}
	err := c.Each(ctx, query, []interface{}{name}, func(rows *sql.Rows) error {
		var col ColumnDef
		var pk bool
		if err := rows.Scan(&col.Name, &col.Datatype, &pk); err != nil {
			return fmt.Errorf("unable to scan column of %v, cause %w", name, err)
		}
		col.Datatype = strings.ToUpper(col.Datatype)
		td.Columns = append(td.Columns, col)
		if pk {
			td.PrimaryKey = append(td.PrimaryKey, col.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(td.Columns) == 0 {
		return nil, sql.ErrNoRows
	}
	return &td, nil
}

func (t *TableDef) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
