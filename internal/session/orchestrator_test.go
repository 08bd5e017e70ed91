package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
)

type recordedEvent struct {
	kind     string
	session  string
	count    int
	all      bool
	findings []privacy.Finding
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) PublishMasked(sessionID string, findings []privacy.Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "masked", session: sessionID, findings: findings})
}

func (r *recordingSink) PublishRestored(sessionID string, restored, unresolved int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "restored", session: sessionID, count: restored})
}

func (r *recordingSink) PublishCleared(sessionID string, all bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "cleared", session: sessionID, all: all})
}

func newOrchestrator(t *testing.T, st store.Store, opts ...Option) *Orchestrator {
	t.Helper()
	log := logger.NewNop()
	masker, err := privacy.NewMasker(config.PrivacyConfig{Enabled: true, Detectors: []string{"all"}}, st, log)
	require.NoError(t, err)
	return New(masker, privacy.NewRestorer(st, log), st, log, opts...)
}

func TestOrchestrator_SanitizeRestore(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, store.NewMemoryStore())

	masked, err := o.Sanitize(ctx, "Email: me@myemail.com", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Email: [MASKED_EMAIL]", masked)

	restored, err := o.Restore(ctx, masked, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Email: me@myemail.com", restored)

	foreign, err := o.Restore(ctx, masked, "s2")
	require.NoError(t, err)
	assert.Equal(t, masked, foreign)
}

func TestOrchestrator_ProcessIdentity(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, store.NewMemoryStore())

	text := "Name: John Doe\nSSN: 123-45-6789"
	res, err := o.Process(ctx, text, "s1")
	require.NoError(t, err)

	assert.Equal(t, "Name: [MASKED_NAME]\nSSN: [MASKED_SSN]", res.SanitizedText)
	assert.Equal(t, res.SanitizedText, res.ProcessedText)
	assert.Equal(t, text, res.RestoredText)
	require.Len(t, res.Mappings, 2)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "123-45-6789")
	assert.Contains(t, string(data), `"sanitized_text"`)
}

func TestOrchestrator_ProcessWithTransform(t *testing.T) {
	ctx := context.Background()
	summarize := ProcessorFunc(func(_ context.Context, text string) (string, error) {
		return "Summary for " + strings.ReplaceAll(text, "\n", "; "), nil
	})
	o := newOrchestrator(t, store.NewMemoryStore(), WithProcessor(summarize))

	res, err := o.Process(ctx, "Email: me@myemail.com\nPhone: 123-456-7890", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Summary for Email: [MASKED_EMAIL]; Phone: [MASKED_PHONE]", res.ProcessedText)
	assert.Equal(t, "Summary for Email: me@myemail.com; Phone: 123-456-7890", res.RestoredText)
}

func TestOrchestrator_ProcessorFailure(t *testing.T) {
	failing := ProcessorFunc(func(context.Context, string) (string, error) {
		return "", ErrProcessor
	})
	o := newOrchestrator(t, store.NewMemoryStore(), WithProcessor(failing))

	_, err := o.Process(context.Background(), "Email: me@myemail.com", "s1")
	assert.ErrorIs(t, err, ErrProcessor)
}

func TestOrchestrator_ClearAndPurge(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	o := newOrchestrator(t, store.NewMemoryStore(), WithEvents(sink))

	maskedA, err := o.Sanitize(ctx, "Email: a@example.com", "A")
	require.NoError(t, err)
	maskedB, err := o.Sanitize(ctx, "Email: b@example.com", "B")
	require.NoError(t, err)

	require.NoError(t, o.Clear(ctx, "A"))
	restored, err := o.Restore(ctx, maskedA, "A")
	require.NoError(t, err)
	assert.Equal(t, maskedA, restored)

	restored, err = o.Restore(ctx, maskedB, "B")
	require.NoError(t, err)
	assert.Equal(t, "Email: b@example.com", restored)

	require.NoError(t, o.Purge(ctx))
	mappings, err := o.Mappings(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, mappings)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	kinds := make([]string, 0, len(sink.events))
	for _, e := range sink.events {
		kinds = append(kinds, e.kind)
	}
	assert.Equal(t, []string{"masked", "masked", "cleared", "restored", "restored", "cleared"}, kinds)
	assert.Equal(t, "email", sink.events[0].findings[0].EntityType)
	assert.False(t, sink.events[2].all)
	assert.True(t, sink.events[5].all)
}

func TestOrchestrator_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, store.NewMemoryStore())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := string(rune('a' + i))
			text := "Email: user" + session + "@example.com"
			res, err := o.Process(ctx, text, session)
			if err != nil {
				errs <- err
				return
			}
			if res.RestoredText != text {
				errs <- errors.New("session " + session + " restored " + res.RestoredText)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestOrchestrator_StorageFailure(t *testing.T) {
	st := store.NewMemoryStore()
	o := newOrchestrator(t, &brokenStore{mappingStore: st})

	_, err := o.Sanitize(context.Background(), "Email: me@myemail.com", "s1")
	assert.ErrorIs(t, err, store.ErrStorage)

	err = o.Clear(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrStorage)
}

// mappingStore aliases store.Store so the embedded field does not collide
// with the promoted Store method.
type mappingStore = store.Store

type brokenStore struct {
	mappingStore
}

func (b *brokenStore) Clear(context.Context, string) error { return store.ErrStorage }

func TestHTTPProcessor(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in textPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(textPayload{Text: "Reply to " + in.Text})
	}))
	defer upstream.Close()

	o := newOrchestrator(t, store.NewMemoryStore(), WithProcessor(NewHTTPProcessor(upstream.URL, time.Second)))

	res, err := o.Process(context.Background(), "Email: me@myemail.com", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Reply to Email: [MASKED_EMAIL]", res.ProcessedText)
	assert.Equal(t, "Reply to Email: me@myemail.com", res.RestoredText)
}

func TestHTTPProcessor_Failures(t *testing.T) {
	t.Run("Status", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer upstream.Close()

		_, err := NewHTTPProcessor(upstream.URL, time.Second).Process(context.Background(), "x")
		assert.ErrorIs(t, err, ErrProcessor)
	})

	t.Run("Timeout", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer upstream.Close()

		_, err := NewHTTPProcessor(upstream.URL, 50*time.Millisecond).Process(context.Background(), "x")
		assert.ErrorIs(t, err, ErrProcessor)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("BadJSON", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer upstream.Close()

		_, err := NewHTTPProcessor(upstream.URL, time.Second).Process(context.Background(), "x")
		assert.ErrorIs(t, err, ErrProcessor)
	})
}
