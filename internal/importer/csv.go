package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"signet/internal/account"
)

// parseCSV reads a header row of field names followed by one record per
// row. Short rows leave the trailing fields out; long rows are an error.
// Input is UTF-8 unless a byte order mark says UTF-16.
func parseCSV(r io.Reader) ([]Record, error) {
	r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header row", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var records []Record
	for idx := 0; ; idx++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if len(row) > len(header) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has %d values for %d columns", ErrInvalidDocument, line, len(row), len(header))
		}
		fields := make([]account.GenericField, len(row))
		for i, v := range row {
			fields[i] = account.GenericField{Name: strings.TrimSpace(header[i]), Value: v}
		}
		records = append(records, Record{Index: idx, Fields: fields})
	}
}
