// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package materialize

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/tomtom215/taxiflow/internal/partition"
)

// PartitionColumn is the column stamped on every row of a partitioned table.
const PartitionColumn = "partition_key"

// Column is one declared column of a materialized table.
type Column struct {
	Name string
	Type string
}

// Table describes a table asset: its schema and the SELECT producing the rows
// of one partition (or of the whole table when not partitioned).
//
// Select is a text/template executed with TemplateData. The rendered query
// must return every declared column by name; extra columns are ignored.
type Table struct {
	Name        string
	Columns     []Column
	Partitioned bool
	Select      string
	Params      map[string]string

	// Asset names the table in the ledger and state board when it differs
	// from the table name.
	Asset string

	// Export, when set, runs on the same handle after the replace commits,
	// for example to copy the table to a file. A failed export fails the
	// attempt; the next attempt replaces the rows again.
	Export Work

	tmpl *template.Template
}

// AssetName returns Asset, defaulting to Name.
func (t *Table) AssetName() string {
	if t.Asset != "" {
		return t.Asset
	}
	return t.Name
}

// TemplateData is the input of a Table's select template.
type TemplateData struct {
	// Key is the serialized partition key, empty for non-partitioned tables.
	Key string
	// Start and End bound the key's window as "2006-01-02" dates.
	Start string
	End   string
	// Params carries configured values such as raw file paths.
	Params map[string]string
}

// NewTable parses the select template and validates the schema.
func NewTable(name string, columns []Column, partitioned bool, selectSQL string, params map[string]string) (*Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s: at least one column is required", name)
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.Name == "" || c.Type == "" {
			return nil, fmt.Errorf("table %s: column name and type are required", name)
		}
		if strings.EqualFold(c.Name, PartitionColumn) {
			return nil, fmt.Errorf("table %s: column %s is reserved", name, PartitionColumn)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("table %s: duplicate column %s", name, c.Name)
		}
		seen[c.Name] = true
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(selectSQL)
	if err != nil {
		return nil, fmt.Errorf("table %s: failed to parse select: %w", name, err)
	}

	return &Table{
		Name:        name,
		Columns:     columns,
		Partitioned: partitioned,
		Select:      selectSQL,
		Params:      params,
		tmpl:        tmpl,
	}, nil
}

// Render executes the select template for key.
func (t *Table) Render(key partition.Key) (string, error) {
	if t.Partitioned && key.IsZero() {
		return "", fmt.Errorf("table %s is partitioned but no partition key was given", t.Name)
	}
	data := TemplateData{Key: key.String(), Params: t.Params}
	if !key.IsZero() {
		start, end := key.Window()
		data.Start = start.Format("2006-01-02")
		data.End = end.Format("2006-01-02")
	}

	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("table %s: failed to render select: %w", t.Name, err)
	}
	return sb.String(), nil
}

// CreateSQL returns the idempotent DDL for the table.
func (t *Table) CreateSQL() string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, quoteIdent(c.Name)+" "+c.Type)
	}
	if t.Partitioned {
		defs = append(defs, PartitionColumn+" VARCHAR NOT NULL")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(t.Name), strings.Join(defs, ", "))
}

// DeleteSQL clears the rows of one partition, or the whole table.
func (t *Table) DeleteSQL() string {
	if t.Partitioned {
		return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.Name), PartitionColumn)
	}
	return "DELETE FROM " + quoteIdent(t.Name)
}

// InsertSQL wraps a rendered select so that only declared columns are
// inserted and, for partitioned tables, each row is stamped with the key
// bound to the single placeholder.
func (t *Table) InsertSQL(rendered string) string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quoteIdent(c.Name)
	}
	cols := strings.Join(names, ", ")

	if t.Partitioned {
		return fmt.Sprintf("INSERT INTO %s (%s, %s) SELECT %s, ? FROM (%s) AS src",
			quoteIdent(t.Name), cols, PartitionColumn, cols, strings.TrimRight(strings.TrimSpace(rendered), ";"))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM (%s) AS src",
		quoteIdent(t.Name), cols, cols, strings.TrimRight(strings.TrimSpace(rendered), ";"))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
