// Package loader reads the person-level (wide) dataset from delimited text.
//
// The first record is the header. Column kinds are inferred from content: a
// column is numeric when every non-missing cell parses as a float.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	blob "longitudinal/internal/blob/core"
	"longitudinal/internal/table"
)

var (
	// ErrFileNotFound is returned when the dataset path or key does not exist.
	ErrFileNotFound = errors.New("loader: file not found")
	// ErrParse is returned for input that is not valid delimited text with a header.
	ErrParse = errors.New("loader: parse error")
)

// ParseError reports where the input stopped making sense. Line is 1-based; 0
// means the problem is not tied to a single line.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("loader: parse error at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("loader: parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// Options tunes the CSV reader.
type Options struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// Comment marks lines to skip when non-zero.
	Comment rune
	// KeepLeadingSpace disables trimming of leading white space in fields.
	KeepLeadingSpace bool
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// LoadFile reads the dataset at path. The file handle is released before returning.
func LoadFile(path string, opts Options) (*table.Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileNotFound, path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Read(f, opts)
}

// LoadBlob reads the dataset stored under key.
func LoadBlob(ctx context.Context, store blob.Store, key string, opts Options) (*table.Table, error) {
	_, rc, err := store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileNotFound, key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	return Read(rc, opts)
}

// Read parses delimited text into a table.
func Read(r io.Reader, opts Options) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.delimiter()
	cr.Comment = opts.Comment
	cr.TrimLeadingSpace = !opts.KeepLeadingSpace

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, wrapCSV(err)
	}
	header, err = normalizeHeader(header)
	if err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapCSV(err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	tbl, err := table.FromRecords(header, records)
	if err != nil {
		var ce *table.CellError
		if errors.As(err, &ce) && ce.Row < len(lines) {
			return nil, &ParseError{Line: lines[ce.Row], Err: err}
		}
		return nil, &ParseError{Err: err}
	}
	return tbl, nil
}

// normalizeHeader trims names, strips a UTF-8 BOM and rejects blank or duplicate names.
func normalizeHeader(header []string) ([]string, error) {
	out := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		out[i] = name
	}
	return out, nil
}

func wrapCSV(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Err: pe.Err}
	}
	return &ParseError{Err: err}
}
