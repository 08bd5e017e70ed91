package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/session"
	"github.com/raaihank/pii-sentinel/internal/store"
)

func newSanitizer(t *testing.T, st store.Store) *session.Orchestrator {
	t.Helper()
	log := logger.NewNop()
	masker, err := privacy.NewMasker(config.PrivacyConfig{Enabled: true, Detectors: []string{"all"}}, st, log)
	require.NoError(t, err)
	return session.New(masker, privacy.NewRestorer(st, log), st, log)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeOutput(t *testing.T, out *bytes.Buffer) []Record {
	t.Helper()
	var records []Record
	dec := json.NewDecoder(out)
	for dec.More() {
		var r Record
		require.NoError(t, dec.Decode(&r))
		records = append(records, r)
	}
	return records
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"data.csv":     FormatCSV,
		"data.CSV":     FormatCSV,
		"data.parquet": FormatParquet,
		"data.json":    FormatJSON,
		"data.jsonl":   FormatJSON,
		"data.ndjson":  FormatJSON,
		"data":         FormatCSV,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectFileFormat(name), name)
	}
}

func TestPipeline_CSV(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewPipeline(newSanitizer(t, st), Config{Workers: 2, SessionPrefix: "job"}, zap.NewNop())

	input := writeFile(t, "in.csv", "id,text,session_id\n"+
		"1,Email: me@myemail.com,\n"+
		"2,\"Name: John Doe\nPhone: (123) 456-7890\",custom\n"+
		"3,,\n"+
		"4,nothing sensitive here,\n")

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &out)
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.TotalRecords)
	assert.Equal(t, int64(3), result.ProcessedOK)
	assert.Equal(t, int64(1), result.Skipped)
	assert.Zero(t, result.ProcessedFailed)

	records := decodeOutput(t, &out)
	require.Len(t, records, 3)

	assert.Equal(t, Record{ID: "1", SessionID: "job-1", Text: "Email: [MASKED_EMAIL]"}, records[0])
	assert.Equal(t, Record{ID: "2", SessionID: "custom", Text: "Name: [MASKED_NAME]\nPhone: [MASKED_PHONE]"}, records[1])
	assert.Equal(t, Record{ID: "4", SessionID: "job-4", Text: "nothing sensitive here"}, records[2])

	got, err := st.GetAll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "me@myemail.com", got["Email: [MASKED_EMAIL]"])

	got, err = st.GetAll(context.Background(), "custom")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", got["Name: [MASKED_NAME]"])
	assert.Equal(t, "(123) 456-7890", got["Phone: [MASKED_PHONE]"])
}

func TestPipeline_CSVRequiresHeaderColumns(t *testing.T) {
	p := NewPipeline(newSanitizer(t, store.NewMemoryStore()), Config{}, zap.NewNop())
	input := writeFile(t, "in.csv", "key,body\n1,Email: me@myemail.com\n")

	_, err := p.ProcessFile(context.Background(), input, &bytes.Buffer{})
	assert.ErrorContains(t, err, "id and text")
}

func TestPipeline_JSONLines(t *testing.T) {
	st := store.NewMemoryStore()
	// A batch size of one exercises the batch loop.
	p := NewPipeline(newSanitizer(t, st), Config{BatchSize: 1}, zap.NewNop())

	input := writeFile(t, "in.jsonl", strings.Join([]string{
		`{"id":"a","text":"SSN: 123-45-6789"}`,
		`{"id":"","text":"Email: me@myemail.com"}`,
		`{"id":"b","session_id":"s-b","text":"Credit Card Number: 1234 5678 9012 3456"}`,
	}, "\n"))

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ProcessedOK)
	assert.Equal(t, int64(1), result.Skipped)

	records := decodeOutput(t, &out)
	require.Len(t, records, 2)
	assert.Equal(t, Record{ID: "a", SessionID: "batch-a", Text: "SSN: [MASKED_SSN]"}, records[0])
	assert.Equal(t, Record{ID: "b", SessionID: "s-b", Text: "Credit Card Number: [MASKED_CREDIT_CARD]"}, records[1])
}

func TestPipeline_JSONSyntaxError(t *testing.T) {
	p := NewPipeline(newSanitizer(t, store.NewMemoryStore()), Config{}, zap.NewNop())
	input := writeFile(t, "in.json", `{"id":"a","text":"x"}`+"\n{broken")

	_, err := p.ProcessFile(context.Background(), input, &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to read JSON record")
}

func TestPipeline_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewWriter(f, parquet.SchemaOf(Record{}))
	for _, r := range []Record{
		{ID: "p1", Text: "Email: me@myemail.com"},
		{ID: "p2", SessionID: "shared", Text: "Phone: 1234567890"},
		{ID: "p3", Text: "   "},
	} {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	p := NewPipeline(newSanitizer(t, store.NewMemoryStore()), Config{}, zap.NewNop())

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), path, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ProcessedOK)
	assert.Equal(t, int64(1), result.Skipped)

	records := decodeOutput(t, &out)
	require.Len(t, records, 2)
	assert.Equal(t, "Email: [MASKED_EMAIL]", records[0].Text)
	assert.Equal(t, "batch-p1", records[0].SessionID)
	assert.Equal(t, "Phone: [MASKED_PHONE]", records[1].Text)
	assert.Equal(t, "shared", records[1].SessionID)
}

// orderingSanitizer records call order per session and flags overlapping
// calls for the same session.
type orderingSanitizer struct {
	mu      sync.Mutex
	active  map[string]bool
	calls   map[string][]string
	overlap bool
}

func (o *orderingSanitizer) Sanitize(ctx context.Context, text, sessionID string) (string, error) {
	o.mu.Lock()
	if o.active[sessionID] {
		o.overlap = true
	}
	o.active[sessionID] = true
	o.calls[sessionID] = append(o.calls[sessionID], text)
	o.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	o.mu.Lock()
	o.active[sessionID] = false
	o.mu.Unlock()
	return text, nil
}

func TestPipeline_SharedSessionRunsInInputOrder(t *testing.T) {
	sanitizer := &orderingSanitizer{active: map[string]bool{}, calls: map[string][]string{}}
	p := NewPipeline(sanitizer, Config{Workers: 8}, zap.NewNop())

	var lines []string
	var want []string
	for i := 0; i < 6; i++ {
		text := fmt.Sprintf("note %d", i)
		want = append(want, text)
		lines = append(lines, fmt.Sprintf(`{"id":"r%d","session_id":"shared","text":%q}`, i, text))
		lines = append(lines, fmt.Sprintf(`{"id":"o%d","text":"other %d"}`, i, i))
	}
	input := writeFile(t, "in.jsonl", strings.Join(lines, "\n"))

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.ProcessedOK)

	assert.False(t, sanitizer.overlap)
	assert.Equal(t, want, sanitizer.calls["shared"])

	records := decodeOutput(t, &out)
	require.Len(t, records, 12)
	assert.Equal(t, "r0", records[0].ID)
	assert.Equal(t, "o0", records[1].ID)
	assert.Equal(t, "o5", records[11].ID)
}

func TestPipeline_SharedSessionLastRecordOwnsMappings(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewPipeline(newSanitizer(t, st), Config{Workers: 4}, zap.NewNop())

	input := writeFile(t, "in.jsonl", strings.Join([]string{
		`{"id":"1","session_id":"s","text":"Email: first@example.com"}`,
		`{"id":"2","session_id":"s","text":"Phone: 1234567890"}`,
		`{"id":"3","session_id":"s","text":"Email: last@example.com"}`,
	}, "\n"))

	_, err := p.ProcessFile(context.Background(), input, &bytes.Buffer{})
	require.NoError(t, err)

	got, err := st.GetAll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Email: [MASKED_EMAIL]": "last@example.com"}, got)
}

type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) Clear(ctx context.Context, sessionID string) error {
	return errors.Join(store.ErrStorage, errors.New("disk full"))
}

func TestPipeline_StorageFailureAborts(t *testing.T) {
	p := NewPipeline(newSanitizer(t, failingStore{store.NewMemoryStore()}), Config{}, zap.NewNop())
	input := writeFile(t, "in.jsonl", `{"id":"a","text":"Email: me@myemail.com"}`)

	var out bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Equal(t, int64(1), result.ProcessedFailed)
	assert.Zero(t, out.Len())
}

func TestPipeline_CancelledContext(t *testing.T) {
	p := NewPipeline(newSanitizer(t, store.NewMemoryStore()), Config{}, zap.NewNop())
	input := writeFile(t, "in.jsonl", `{"id":"a","text":"Email: me@myemail.com"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessFile(ctx, input, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_MissingFile(t *testing.T) {
	p := NewPipeline(newSanitizer(t, store.NewMemoryStore()), Config{}, zap.NewNop())
	_, err := p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), &bytes.Buffer{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
