package domain

// Table is an ordered column/row view of tabular data at a stage boundary.
// The normalizer consumes arbitrary tables; every stage emits tables whose
// first columns are the canonical field set in canonical order.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// NewTable builds a table from a column list and row maps. Rows may omit
// columns; readers treat missing cells as empty.
func NewTable(columns []string, rows []map[string]string) *Table {
	return &Table{Columns: columns, Rows: rows}
}

// HasColumn reports whether the table contains the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Cell returns the value at (row, column), or "" when absent.
func (t *Table) Cell(row int, column string) string {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][column]
}

// Clone returns a deep copy. Stages that transform tables work on a clone so
// the caller's table is never mutated.
func (t *Table) Clone() *Table {
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)

	rows := make([]map[string]string, len(t.Rows))
	for i, r := range t.Rows {
		row := make(map[string]string, len(r))
		for k, v := range r {
			row[k] = v
		}
		rows[i] = row
	}
	return &Table{Columns: cols, Rows: rows}
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}
