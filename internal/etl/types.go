package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// MessageRecord represents a single lead message from an export
type MessageRecord struct {
	MessageID string `csv:"message_id" parquet:"message_id" json:"message_id"`
	LeadID    string `csv:"lead_id" parquet:"lead_id" json:"lead_id"`
	Content   string `csv:"content" parquet:"content" json:"content"`
}

// ProcessingResult represents the result of importing a dataset
type ProcessingResult struct {
	TotalRecords int64          `json:"total_records"`
	Stored       int64          `json:"stored"`
	Failed       int64          `json:"failed"`
	Invalid      int64          `json:"invalid"`
	Duplicates   int64          `json:"duplicates"`
	Redactions   map[string]int `json:"redactions"`
	Duration     time.Duration  `json:"duration"`
	Errors       []string       `json:"errors,omitempty"`
}

// maxErrors bounds ProcessingResult.Errors
const maxErrors = 100

// maxContentLength rejects records that are unlikely to be chat messages
const maxContentLength = 10000

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension. Unknown extensions
// are read as CSV.
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
