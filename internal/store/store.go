// Package store persists masked-token to original-value mappings, partitioned
// by session id. Every backend treats (masked_value, session_id) as a unique
// key and performs each operation as a single atomic unit.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicate reports that a mapping for the same masked value already
	// exists in the session. Callers treat it as recoverable.
	ErrDuplicate = errors.New("duplicate mapping")

	// ErrStorage marks backend failures (cannot open, read or write).
	ErrStorage = errors.New("storage failure")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Mapping associates a masked token with the value it replaced.
type Mapping struct {
	ID            int64     `db:"id" json:"id,omitempty"`
	MaskedValue   string    `db:"masked_value" json:"masked_value"`
	OriginalValue string    `db:"original_value" json:"-"` // Never serialize original text
	Category      string    `db:"category" json:"category"`
	Context       string    `db:"context" json:"-"`
	SessionID     string    `db:"session_id" json:"session_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// storedRecord is the encoded form used by the key-value backends; unlike
// Mapping it serializes the original value.
type storedRecord struct {
	ID            int64     `json:"id,omitempty"`
	MaskedValue   string    `json:"masked_value"`
	OriginalValue string    `json:"original_value"`
	Category      string    `json:"category"`
	Context       string    `json:"context"`
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r storedRecord) mapping() Mapping {
	return Mapping{
		ID:            r.ID,
		MaskedValue:   r.MaskedValue,
		OriginalValue: r.OriginalValue,
		Category:      r.Category,
		Context:       r.Context,
		SessionID:     r.SessionID,
		CreatedAt:     r.CreatedAt,
	}
}

// Store is the mapping store contract shared by all backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Store persists m. It returns ErrDuplicate when (MaskedValue, SessionID)
	// already exists; the stored row is left untouched.
	Store(ctx context.Context, m *Mapping) error

	// GetAll returns masked value -> original value for one session.
	// When a masked value was stored more than once the most recent wins.
	GetAll(ctx context.Context, sessionID string) (map[string]string, error)

	// List returns the session's mappings, oldest first.
	List(ctx context.Context, sessionID string) ([]Mapping, error)

	// Clear deletes every mapping of one session. The empty id addresses the
	// default partition, not the whole store.
	Clear(ctx context.Context, sessionID string) error

	// Purge deletes every mapping in every session.
	Purge(ctx context.Context) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// storageErr wraps a backend error so callers can match ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// prepare validates m and fills CreatedAt.
func prepare(m *Mapping) error {
	if m == nil {
		return errors.New("store: nil mapping")
	}
	if m.MaskedValue == "" {
		return errors.New("store: empty masked value")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}

// latest folds an oldest-first listing into masked -> original, letting later
// rows win.
func latest(mappings []Mapping) map[string]string {
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		out[m.MaskedValue] = m.OriginalValue
	}
	return out
}
