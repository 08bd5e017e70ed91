package batch

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is one row of a bulk sanitize input
type Record struct {
	ID        string `parquet:"id" json:"id"`
	SessionID string `parquet:"session_id" json:"session_id,omitempty"`
	Text      string `parquet:"text" json:"text"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Skipped         int64         `json:"skipped"`
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	Workers        int    `yaml:"workers" mapstructure:"workers"`
	SessionPrefix  string `yaml:"session_prefix" mapstructure:"session_prefix"`
	MaxTextLength  int    `yaml:"max_text_length" mapstructure:"max_text_length"`
	ProgressReport int    `yaml:"progress_report" mapstructure:"progress_report"`
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:      500,
		Workers:        4,
		SessionPrefix:  "batch",
		MaxTextLength:  1 << 20,
		ProgressReport: 1000,
	}
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
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
