// Package readings turns an ESB Networks HDF export into time-series points.
package readings

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Columns present in the HDF export
const (
	ColumnMPRN         = "MPRN"
	ColumnSerialNumber = "Meter Serial Number"
	ColumnReadValue    = "Read Value"
	ColumnReadType     = "Read Type"
	ColumnReadTime     = "Read Date and End Time"

	// ReadTimeLayout is the DD-MM-YYYY HH:MM format of ColumnReadTime
	ReadTimeLayout = "02-01-2006 15:04"
)

// ErrNoHeader is returned when the export has no header row
var ErrNoHeader = errors.New("export has no header row")

// Record is one CSV row keyed by header name. Values are left as text.
type Record map[string]string

// ParseRecords treats the first line as the header and maps every following
// line onto it. Header names are trimmed, cell values are kept as they are.
func ParseRecords(lines []string) ([]Record, error) {
	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	// Exports sometimes start with a byte order mark
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse export: %w", err)
		}

		record := make(Record, len(header))
		for i, name := range header {
			record[name] = row[i]
		}
		records = append(records, record)
	}

	return records, nil
}
