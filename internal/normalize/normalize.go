// Package normalize maps heterogeneous input tables onto the canonical
// applicant schema and assigns stable case identifiers.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// aliasTable maps each canonical field to known input column aliases, in
// fixed priority order. The first alias present in the input wins.
var aliasTable = map[string][]string{
	domain.FieldApplicantID: {"applicant_id", "id", "case_id", "customer_id", "user_id", "applicant"},
	domain.FieldFullName:    {"full_name", "name", "applicant_name", "customer_name"},
	domain.FieldDOB:         {"dob", "date_of_birth", "birth_date", "birthdate"},
	domain.FieldNationality: {"nationality", "country", "country_code", "citizenship"},
	domain.FieldDocumentID:  {"document_id", "doc_id", "id_number", "passport_number", "national_id"},
	domain.FieldEmail:       {"email", "email_address", "e_mail"},
	domain.FieldPhone:       {"phone", "phone_number", "mobile", "telephone"},
	domain.FieldAddress:     {"address", "street_address", "residential_address"},
	domain.FieldAmount:      {"transaction_amount", "amount", "txn_amount", "value"},
	domain.FieldChannel:     {"channel", "source_channel", "origin"},
	domain.FieldRiskScore:   {"risk_score", "risk", "score", "risk_rating"},
	domain.FieldNotes:       {"notes", "comments", "remarks", "free_text"},
}

// IDPrefix starts every synthesized case identifier.
const IDPrefix = "APP"

// Normalizer maps arbitrary tables onto the canonical field set.
type Normalizer struct {
	now func() time.Time
}

// New creates a normalizer. The clock is injectable for deterministic
// identifier synthesis in tests.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock creates a normalizer with a fixed clock.
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize produces a new table containing exactly the canonical field set
// followed by any extra input columns, renaming known aliases into their
// canonical slots. The input table is never mutated. Rows missing an
// identifier get a synthesized one, unique within the batch via row index.
func (n *Normalizer) Normalize(input *domain.Table) (*domain.Table, error) {
	if input == nil || len(input.Columns) == 0 {
		return nil, fmt.Errorf("%w: empty input table", domain.ErrInputFormat)
	}

	// Resolve which input column feeds each canonical field.
	mapping := make(map[string]string, len(aliasTable)) // canonical -> input column
	claimed := make(map[string]bool, len(input.Columns))
	for _, canonical := range domain.CanonicalFields() {
		for _, alias := range aliasTable[canonical] {
			col := matchColumnFold(input, alias)
			if col != "" && !claimed[foldKey(col)] {
				mapping[canonical] = col
				claimed[foldKey(col)] = true
				break
			}
		}
	}

	// Extra columns: everything not consumed by a canonical slot, in
	// input order.
	var extras []string
	for _, col := range input.Columns {
		if !claimed[foldKey(col)] {
			extras = append(extras, col)
		}
	}

	columns := append(domain.CanonicalFields(), extras...)
	stamp := n.now().UTC().Format("20060102150405")
	_, hasID := mapping[domain.FieldApplicantID]

	rows := make([]map[string]string, 0, input.Len())
	for i, src := range input.Rows {
		row := make(map[string]string, len(columns))
		for _, canonical := range domain.CanonicalFields() {
			if inCol, ok := mapping[canonical]; ok {
				row[canonical] = src[inCol]
			} else {
				row[canonical] = ""
			}
		}
		for _, col := range extras {
			row[col] = src[col]
		}
		if !hasID || row[domain.FieldApplicantID] == "" {
			row[domain.FieldApplicantID] = fmt.Sprintf("%s-%s-%04d", IDPrefix, stamp, i)
		}
		rows = append(rows, row)
	}

	return domain.NewTable(columns, rows), nil
}

// ToCases converts a normalized table into intake-stage cases for a run.
func ToCases(t *domain.Table, tenantID, runID string, createdAt time.Time) []*domain.Case {
	canonical := make(map[string]bool, 12)
	for _, f := range domain.CanonicalFields() {
		canonical[f] = true
	}

	var extras []string
	for _, col := range t.Columns {
		if !canonical[col] {
			extras = append(extras, col)
		}
	}

	cases := make([]*domain.Case, 0, t.Len())
	for _, row := range t.Rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			fields[k] = v
		}
		cases = append(cases, &domain.Case{
			ID:          row[domain.FieldApplicantID],
			TenantID:    tenantID,
			RunID:       runID,
			RawFields:   fields,
			ExtraFields: extras,
			Stage:       domain.StageIntake,
			CreatedAt:   createdAt,
		})
	}
	return cases
}

func foldKey(col string) string {
	return strings.ToLower(strings.TrimSpace(col))
}

// matchColumnFold returns the input column whose name case-insensitively
// equals the alias, or "".
func matchColumnFold(t *domain.Table, name string) string {
	for _, c := range t.Columns {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return c
		}
	}
	return ""
}
