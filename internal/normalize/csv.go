package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Delimiters tried, in order, when parsing an uploaded file.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ReadCSV parses an uploaded tabular file into a Table. It is a best-effort
// parse: UTF-8 (with or without BOM) is tried first, then a latin-1
// reinterpretation, and for each encoding the candidate delimiters are
// sniffed in a fixed order. Failure across all strategies surfaces
// ErrInputFormat without processing any row.
func ReadCSV(r io.Reader) (*domain.Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInputFormat, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInputFormat)
	}

	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	texts := []string{}
	if utf8.Valid(raw) {
		texts = append(texts, string(raw))
	} else {
		texts = append(texts, decodeLatin1(raw))
	}

	var lastErr error
	for _, text := range texts {
		for _, delim := range candidateDelimiters {
			table, err := parseWith(text, delim)
			if err != nil {
				lastErr = err
				continue
			}
			// A single-column parse of a multi-delimiter file means we
			// picked the wrong separator; only accept it as a last resort.
			if len(table.Columns) > 1 || delim == candidateDelimiters[len(candidateDelimiters)-1] {
				return table, nil
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("single column with delimiter %q", delim)
			}
		}
	}

	return nil, fmt.Errorf("%w: unreadable table: %v", domain.ErrInputFormat, lastErr)
}

func parseWith(text string, delim rune) (*domain.Table, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no header row")
	}

	header := records[0]
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	return domain.NewTable(columns, rows), nil
}

// decodeLatin1 reinterprets bytes as ISO 8859-1, which maps every byte to
// the code point of the same value.
func decodeLatin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
