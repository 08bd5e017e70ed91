package privacy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/store"
)

// tokenPattern recognizes a category placeholder left in text.
var tokenPattern = regexp.MustCompile(`\[MASKED_[A-Z_]+\]`)

// Restorer substitutes masked tokens with the originals recorded for a
// session.
type Restorer struct {
	store  store.Store
	logger *logger.Logger
}

// NewRestorer creates a restorer reading from st.
func NewRestorer(st store.Store, log *logger.Logger) *Restorer {
	return &Restorer{store: st, logger: log.WithComponent("restorer")}
}

// Restore replaces every known token in text. Tokens without a mapping in the
// session are left as they are and reported as unresolved.
func (r *Restorer) Restore(ctx context.Context, text, sessionID string) (*RestoreResult, error) {
	defer metrics.ObserveSince("restore", time.Now())

	mappings, err := r.store.GetAll(ctx, sessionID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("get_all").Inc()
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}

	replacer := newTokenReplacer(mappings)
	result := &RestoreResult{}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		before := countTokens(line)
		if replacer != nil && before > 0 {
			line = replacer.Replace(line)
		}
		after := countTokens(line)

		if before > after {
			result.Restored += before - after
		}
		result.Unresolved += after
		lines[i] = line
	}
	result.Text = strings.Join(lines, "\n")

	metrics.RestoredTotal.Add(float64(result.Restored))
	metrics.UnresolvedTotal.Add(float64(result.Unresolved))

	r.logger.WithSession(sessionID).Debug("Text restored",
		zap.Int("mappings", len(mappings)),
		zap.Int("restored", result.Restored),
		zap.Int("unresolved", result.Unresolved),
	)

	return result, nil
}

// newTokenReplacer builds a single-pass replacer from token to restored text.
// Longer tokens are listed first so a token that prefixes another never wins.
func newTokenReplacer(mappings map[string]string) *strings.Replacer {
	if len(mappings) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(mappings))
	for token := range mappings {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	pairs := make([]string, 0, 2*len(tokens))
	for _, token := range tokens {
		pairs = append(pairs, token, restoredValue(token, mappings[token]))
	}
	return strings.NewReplacer(pairs...)
}

// restoredValue keeps the label part of a token and puts the original value
// back in place of the placeholder.
func restoredValue(token, original string) string {
	i := strings.LastIndex(token, placeholderPrefix)
	if i < 0 {
		return original
	}
	return token[:i] + original
}

func countTokens(s string) int {
	return len(tokenPattern.FindAllStringIndex(s, -1))
}
