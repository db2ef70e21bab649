// Package anonymize produces privacy-safe derivatives of datasets by
// masking configured sensitive columns. Masking is deterministic and lossy:
// there is no unmask operation.
package anonymize

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Anonymizer masks sensitive columns in a table.
type Anonymizer struct {
	// MaskColumns are the column names whose values are masked.
	MaskColumns []string

	// DropNotes removes the free-text notes column entirely before masking.
	DropNotes bool
}

// New creates an anonymizer for the given columns.
func New(maskColumns []string, dropNotes bool) *Anonymizer {
	return &Anonymizer{MaskColumns: maskColumns, DropNotes: dropNotes}
}

// Mask replaces the middle of values longer than 4 characters with a run of
// '*', keeping the first and last two characters. Values of length <= 4 are
// fully replaced by '*' repeated to the original length. Empty values pass
// through unchanged.
func Mask(s string) string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return s
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// Apply returns a new table with the configured columns masked; the input
// table is untouched.
func (a *Anonymizer) Apply(input *domain.Table) *domain.Table {
	out := input.Clone()

	if a.DropNotes {
		out = dropColumn(out, domain.FieldNotes)
	}

	masked := make(map[string]bool, len(a.MaskColumns))
	for _, c := range a.MaskColumns {
		masked[c] = true
	}

	for _, row := range out.Rows {
		for col := range masked {
			if v, ok := row[col]; ok {
				row[col] = Mask(v)
			}
		}
	}
	return out
}

// ApplyToCases masks the configured fields on each case in place and
// advances lineage to the anonymized stage.
func (a *Anonymizer) ApplyToCases(cases []*domain.Case) {
	for _, c := range cases {
		if a.DropNotes {
			delete(c.RawFields, domain.FieldNotes)
		}
		for _, col := range a.MaskColumns {
			if v, ok := c.RawFields[col]; ok {
				c.RawFields[col] = Mask(v)
			}
		}
		c.AdvanceTo(domain.StageAnonymized)
	}
}

func dropColumn(t *domain.Table, name string) *domain.Table {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != name {
			cols = append(cols, c)
		}
	}
	for _, row := range t.Rows {
		delete(row, name)
	}
	t.Columns = cols
	return t
}
