package schemaindex

import (
	"fmt"
	"strings"
)

// DDL renders the table as a CREATE TABLE statement from the discovered
// metadata. It is a readable reconstruction for the model, not a byte-exact
// dump of the original definition.
func (d *TableDoc) DDL() string {
	var pks []string
	for _, c := range d.Columns {
		if c.IsPrimaryKey {
			pks = append(pks, c.ColumnName)
		}
	}

	lines := make([]string, 0, len(d.Columns)+1)
	for _, c := range d.Columns {
		line := fmt.Sprintf("    %s %s", c.ColumnName, c.DataType)
		if !c.IsNullable {
			line += " NOT NULL"
		}
		if c.DefaultValue != nil && *c.DefaultValue != "" {
			line += " DEFAULT " + *c.DefaultValue
		}
		lines = append(lines, line)
	}
	if len(pks) > 0 {
		lines = append(lines, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (\n", d.Schema, d.Table)
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")

	if d.RowCount > 0 {
		fmt.Fprintf(&b, "\n-- approx. %d rows", d.RowCount)
	}
	for _, fk := range d.ForeignKeys {
		fmt.Fprintf(&b, "\n-- FOREIGN KEY (%s) REFERENCES %s.%s (%s)",
			fk.SourceColumn, fk.TargetSchema, fk.TargetTable, fk.TargetColumn)
	}

	return b.String()
}
