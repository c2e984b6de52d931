package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrTooManyRows is returned when an upload exceeds the configured row limit.
var ErrTooManyRows = errors.New("csv exceeds maximum row count")

// Row is one header-mapped CSV data line. Line counts the header as line 1.
// Err is set when the line could not be parsed; Values is then empty.
type Row struct {
	Line   int
	Values map[string]string
	Err    error
}

// Get returns the trimmed value stored under header.
func (r Row) Get(header string) string {
	return strings.TrimSpace(r.Values[header])
}

// ReadCSV parses a CSV stream whose first line names the columns. Blank lines are skipped and
// a non-positive maxRows disables the limit. A malformed data line is returned as a Row carrying
// Err so the caller can report it and keep going.
func ReadCSV(src io.Reader, maxRows int) ([]Row, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv file is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, header := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			if maxRows > 0 && len(rows) >= maxRows {
				return nil, ErrTooManyRows
			}
			rows = append(rows, Row{Line: parseErr.StartLine, Values: map[string]string{}, Err: parseErr.Err})
			continue
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, ErrTooManyRows
		}
		values := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				values[header] = record[i]
			}
		}
		rows = append(rows, Row{Line: line, Values: values})
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
