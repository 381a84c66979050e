package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Table is ordered tabular content ready for export.
type Table struct {
	Headers []string
	Rows    [][]string
}

// CSV renders the table as CSV bytes. Every row must have one cell per
// header.
func CSV(table Table) ([]byte, error) {
	if len(table.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(table.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range table.Rows {
		if len(row) != len(table.Headers) {
			return nil, fmt.Errorf("csv row %d has %d cells, want %d", i, len(row), len(table.Headers))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
