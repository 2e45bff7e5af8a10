package etl

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"
)

// nextFunc returns the next record, io.EOF at the end of input, or a
// *recordError for a row that could not be parsed. Any other error is fatal.
type nextFunc func() (*MessageRecord, error)

type recordError struct {
	row int64
	err error
}

func (e *recordError) Error() string {
	return fmt.Sprintf("row %d: %v", e.row, e.err)
}

func (e *recordError) Unwrap() error {
	return e.err
}

var requiredColumns = []string{"message_id", "lead_id", "content"}

// newCSVReader reads a CSV export with a header row. Columns are matched by
// name so their order does not matter; extra columns are ignored.
func newCSVReader(r io.Reader) (nextFunc, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}

	cols := make([]int, len(requiredColumns))
	for i, name := range requiredColumns {
		pos, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", name)
		}
		cols[i] = pos
	}

	var row int64
	return func() (*MessageRecord, error) {
		row++
		fields, err := reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &recordError{row: row, err: err}
			}
			return nil, err
		}

		for _, pos := range cols {
			if pos >= len(fields) {
				return nil, &recordError{row: row, err: fmt.Errorf("expected at least %d fields, got %d", pos+1, len(fields))}
			}
		}

		return &MessageRecord{
			MessageID: strings.TrimSpace(fields[cols[0]]),
			LeadID:    strings.TrimSpace(fields[cols[1]]),
			Content:   fields[cols[2]],
		}, nil
	}, nil
}

// maxLineLength bounds one JSON line; longer lines are counted as malformed
const maxLineLength = 1 << 20

// newJSONReader reads one JSON object per line. Blank lines are skipped and
// lines over maxLineLength are discarded without being buffered.
func newJSONReader(r io.Reader) nextFunc {
	reader := bufio.NewReaderSize(r, 64*1024)

	var row int64
	return func() (*MessageRecord, error) {
		for {
			line, tooLong, err := readLine(reader)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("failed to read JSON lines: %w", err)
			}
			row++

			if tooLong {
				return nil, &recordError{row: row, err: fmt.Errorf("line exceeds %d bytes", maxLineLength)}
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var record MessageRecord
			if err := json.Unmarshal(line, &record); err != nil {
				return nil, &recordError{row: row, err: err}
			}
			record.MessageID = strings.TrimSpace(record.MessageID)
			record.LeadID = strings.TrimSpace(record.LeadID)
			return &record, nil
		}
	}
}

// readLine returns the next line without its terminator. Once a line grows
// past maxLineLength the rest of it is skipped and tooLong is set.
func readLine(reader *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	tooLong, started := false, false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if started && errors.Is(err, io.EOF) {
				return line, tooLong, nil
			}
			return nil, false, err
		}
		started = true

		if !tooLong {
			if len(line)+len(chunk) > maxLineLength {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// newParquetReader reads rows using the struct tags of MessageRecord
func newParquetReader(r io.ReaderAt, size int64) (nextFunc, func() error, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	reader := parquet.NewReader(file)

	var row int64
	return func() (*MessageRecord, error) {
		row++
		var record MessageRecord
		if err := reader.Read(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read Parquet row %d: %w", row, err)
		}
		record.MessageID = strings.TrimSpace(record.MessageID)
		record.LeadID = strings.TrimSpace(record.LeadID)
		return &record, nil
	}, reader.Close, nil
}
