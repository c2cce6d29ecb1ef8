package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrEmpty  = errors.New("dataset has no rows")
	ErrRagged = errors.New("dataset rows differ in length")
)

// Dataset is a row-major numeric table. The last column of every row is the
// regression target; the others are the variables v0..v(n-1).
type Dataset struct {
	Header []string
	Rows   [][]float64
}

func New(rows [][]float64) (Dataset, error) {
	d := Dataset{Rows: rows}
	if err := d.Validate(); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

func (d Dataset) Len() int {
	return len(d.Rows)
}

func (d Dataset) Columns() int {
	if len(d.Rows) == 0 {
		return 0
	}
	return len(d.Rows[0])
}

// VariableCount is the number of input columns.
func (d Dataset) VariableCount() int {
	if d.Columns() == 0 {
		return 0
	}
	return d.Columns() - 1
}

func (d Dataset) Targets() []float64 {
	out := make([]float64, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = row[len(row)-1]
	}
	return out
}

func (d Dataset) Validate() error {
	if len(d.Rows) == 0 {
		return ErrEmpty
	}
	width := len(d.Rows[0])
	if width == 0 {
		return fmt.Errorf("%w: row 0 has no target column", ErrEmpty)
	}
	for i, row := range d.Rows {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrRagged, i, len(row), width)
		}
	}
	if d.Header != nil && len(d.Header) != width {
		return fmt.Errorf("%w: header has %d columns, want %d", ErrRagged, len(d.Header), width)
	}
	return nil
}

type LoadOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Header forces the first record to be treated as column names. When
	// false, a first record that does not parse as numbers is still taken as
	// a header.
	Header bool
}

func LoadCSV(path string, opts LoadOptions) (Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer file.Close()

	d, err := ReadCSV(file, opts)
	if err != nil {
		return Dataset{}, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return d, nil
}

func ReadCSV(in io.Reader, opts LoadOptions) (Dataset, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	var d Dataset
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read dataset csv row %d: %w", line+1, err)
		}
		line++
		if blankRecord(record) {
			continue
		}

		row, parseErr := parseRecord(record)
		if d.Header == nil && len(d.Rows) == 0 && (opts.Header || parseErr != nil) {
			d.Header = trimFields(record)
			continue
		}
		if parseErr != nil {
			return Dataset{}, fmt.Errorf("parse dataset csv row %d: %w", line, parseErr)
		}
		d.Rows = append(d.Rows, row)
	}

	if err := d.Validate(); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

func parseRecord(record []string) ([]float64, error) {
	row := make([]float64, len(record))
	for i, field := range record {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		row[i] = value
	}
	return row, nil
}

func trimFields(record []string) []string {
	out := make([]string, len(record))
	for i, field := range record {
		out[i] = strings.TrimSpace(field)
	}
	return out
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
