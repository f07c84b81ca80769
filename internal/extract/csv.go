// Package extract turns uploaded spreadsheet exports into core.Sheet values.
//
// Files are read as CSV. A UTF-8 or UTF-16 byte order mark is honored and
// invalid UTF-8 is replaced with U+FFFD before parsing, so Windows exports
// load without preprocessing. Cell cleanup is left to core.CleanCell.
package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/itemstage/internal/core"
)

var (
	ErrEmptyFile    = errors.New("empty file")
	ErrFileTooLarge = errors.New("file too large")
	ErrNoFile       = errors.New("no file provided")
)

// DefaultMaxSize is the upload limit when Options.MaxSize is zero.
const DefaultMaxSize int64 = 50 << 20

// Options controls how a file becomes a sheet.
type Options struct {
	// MaxSize caps the bytes read; larger input fails with ErrFileTooLarge.
	MaxSize int64

	// HeaderRows is how many rows precede the data. The last of them is
	// the header; zero means the file has no header row.
	HeaderRows int
}

// ReadCSV reads a whole CSV stream into a Sheet.
func ReadCSV(r io.Reader, opts Options) (core.Sheet, error) {
	if r == nil {
		return core.Sheet{}, ErrNoFile
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.HeaderRows < 0 {
		opts.HeaderRows = 0
	}

	limited := &limitReader{r: r, remaining: opts.MaxSize}
	decoded := transform.NewReader(limited, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return core.Sheet{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, opts.MaxSize)
		}
		return core.Sheet{}, fmt.Errorf("invalid csv: %w", err)
	}
	if len(records) == 0 {
		return core.Sheet{}, ErrEmptyFile
	}
	if len(records) <= opts.HeaderRows {
		return core.Sheet{}, fmt.Errorf("%w: no data rows after %d header rows", ErrEmptyFile, opts.HeaderRows)
	}

	sheet := core.Sheet{
		Rows:     records[opts.HeaderRows:],
		FirstRow: opts.HeaderRows + 1,
	}
	if opts.HeaderRows > 0 {
		sheet.Header = records[opts.HeaderRows-1]
	}
	return sheet, nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string, opts Options) (core.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Sheet{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f, opts)
}

// limitReader fails once more than remaining bytes have been read, unlike
// io.LimitReader which silently truncates.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	return n, err
}
