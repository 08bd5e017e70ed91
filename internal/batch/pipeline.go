// Package batch sanitizes datasets of text records in bulk.
package batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sanitizer masks one text under a session.
type Sanitizer interface {
	Sanitize(ctx context.Context, text, sessionID string) (string, error)
}

// Pipeline reads records, sanitizes them concurrently and writes masked
// records as JSON lines in input order.
type Pipeline struct {
	sanitizer Sanitizer
	config    Config
	logger    *zap.Logger
}

// NewPipeline creates a new batch pipeline
func NewPipeline(sanitizer Sanitizer, config Config, logger *zap.Logger) *Pipeline {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxTextLength <= 0 {
		config.MaxTextLength = defaults.MaxTextLength
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = defaults.ProgressReport
	}
	return &Pipeline{sanitizer: sanitizer, config: config, logger: logger}
}

// readBatchFunc returns up to one batch of valid records; an empty batch
// means end of input.
type readBatchFunc func() ([]*Record, error)

// ProcessFile sanitizes a dataset file (CSV, Parquet, or JSON lines) into out
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string, out io.Writer) (*ProcessingResult, error) {
	format := DetectFileFormat(filePath)
	p.logger.Info("Starting batch pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.Workers))

	start := time.Now()
	result := &ProcessingResult{}

	file, err := os.Open(filePath)
	if err != nil {
		return result, fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	var read readBatchFunc
	switch format {
	case FormatCSV:
		read, err = p.csvReader(file, result)
	case FormatParquet:
		read, err = p.parquetReader(file, result)
	case FormatJSON:
		read, err = p.jsonReader(file, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, err
	}

	w := bufio.NewWriter(out)
	if err := p.processBatches(ctx, read, json.NewEncoder(w), result); err != nil {
		_ = w.Flush()
		return result, err
	}
	if err := w.Flush(); err != nil {
		return result, fmt.Errorf("failed to flush output: %w", err)
	}

	result.Duration = time.Since(start)
	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

func (p *Pipeline) csvReader(r io.Reader, result *ProcessingResult) (readBatchFunc, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, hasID := columns["id"]
	textCol, hasText := columns["text"]
	sessionCol, hasSession := columns["session_id"]
	if !hasID || !hasText {
		return nil, fmt.Errorf("CSV header must contain id and text columns, got %v", header)
	}

	p.logger.Debug("CSV header detected", zap.Strings("columns", header))

	return func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.Skipped++
				continue
			}

			record := &Record{ID: row[idCol], Text: row[textCol]}
			if hasSession {
				record.SessionID = row[sessionCol]
			}
			if p.validateRecord(record) {
				batch = append(batch, record)
			} else {
				result.Skipped++
			}
		}
		return batch, nil
	}, nil
}

func (p *Pipeline) parquetReader(file *os.File, result *ProcessingResult) (readBatchFunc, error) {
	reader := parquet.NewReader(file)

	return func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < p.config.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet record: %w", err)
			}

			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.Skipped++
			}
		}
		return batch, nil
	}, nil
}

func (p *Pipeline) jsonReader(r io.Reader, result *ProcessingResult) (readBatchFunc, error) {
	decoder := json.NewDecoder(r)

	return func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < p.config.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				// The decoder cannot resynchronize after a syntax error.
				return nil, fmt.Errorf("failed to read JSON record: %w", err)
			}

			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.Skipped++
			}
		}
		return batch, nil
	}, nil
}

func (p *Pipeline) processBatches(ctx context.Context, read readBatchFunc, enc *json.Encoder, result *ProcessingResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := read()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		masked, err := p.processBatch(ctx, batch)
		if err != nil {
			result.ProcessedFailed += int64(len(batch))
			result.Errors = append(result.Errors, err.Error())
			return err
		}

		for _, record := range masked {
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("failed to write record %s: %w", record.ID, err)
			}
		}

		before := result.TotalRecords
		result.TotalRecords += int64(len(batch))
		result.ProcessedOK += int64(len(batch))

		if before/int64(p.config.ProgressReport) != result.TotalRecords/int64(p.config.ProgressReport) {
			p.logger.Info("Processing progress", zap.Int64("records_processed", result.TotalRecords))
		}
	}
}

// processBatch sanitizes a batch on a bounded worker pool. Records sharing a
// session run on one worker in input order, so the last of them owns the
// session's mappings. The first failure cancels the remaining work.
func (p *Pipeline) processBatch(ctx context.Context, batch []*Record) ([]*Record, error) {
	out := make([]*Record, len(batch))

	var order []string
	groups := make(map[string][]int)
	for i, record := range batch {
		sessionID := p.sessionFor(record)
		if _, ok := groups[sessionID]; !ok {
			order = append(order, sessionID)
		}
		groups[sessionID] = append(groups[sessionID], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for _, sessionID := range order {
		indexes := groups[sessionID]
		g.Go(func() error {
			for _, i := range indexes {
				record := batch[i]
				masked, err := p.sanitizer.Sanitize(gctx, record.Text, sessionID)
				if err != nil {
					return fmt.Errorf("record %s: %w", record.ID, err)
				}
				out[i] = &Record{ID: record.ID, SessionID: sessionID, Text: masked}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) sessionFor(record *Record) string {
	if record.SessionID != "" {
		return record.SessionID
	}
	return p.config.SessionPrefix + "-" + record.ID
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *Record) bool {
	if strings.TrimSpace(record.ID) == "" {
		p.logger.Debug("Invalid record: empty id")
		return false
	}

	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text", zap.String("id", record.ID))
		return false
	}

	if len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long",
			zap.String("id", record.ID),
			zap.Int("length", len(record.Text)))
		return false
	}

	return true
}
