package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/store"
)

// ErrUnknownDetector is returned when the configuration enables a category
// the registry does not know.
var ErrUnknownDetector = errors.New("unknown detector")

// Masker replaces labeled PII with masked tokens and records each
// replacement in the mapping store.
type Masker struct {
	patterns []Pattern
	enabled  map[Category]bool
	store    store.Store
	logger   *logger.Logger
	config   config.PrivacyConfig
}

// NewMasker creates a masker applying the detectors enabled in cfg.
func NewMasker(cfg config.PrivacyConfig, st store.Store, log *logger.Logger) (*Masker, error) {
	m := &Masker{
		patterns: Patterns(),
		enabled:  make(map[Category]bool),
		store:    st,
		logger:   log.WithComponent("masker"),
		config:   cfg,
	}

	if err := m.configureDetectors(cfg.Detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	m.logger.Info("Masking engine initialized",
		zap.Int("total_patterns", len(m.patterns)),
		zap.Strings("enabled", m.EnabledCategories()),
	)

	return m, nil
}

// configureDetectors enables patterns by category name; "all" enables every
// pattern in the registry.
func (m *Masker) configureDetectors(detectors []string) error {
	for _, p := range m.patterns {
		m.enabled[p.Category] = false
	}

	for _, name := range detectors {
		if name == "all" {
			for _, p := range m.patterns {
				m.enabled[p.Category] = true
			}
			continue
		}

		c := Category(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := m.enabled[c]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDetector, name)
		}
		m.enabled[c] = true
	}

	return nil
}

// EnabledCategories lists the active categories in priority order.
func (m *Masker) EnabledCategories() []string {
	var out []string
	for _, p := range m.patterns {
		if m.enabled[p.Category] {
			out = append(out, string(p.Category))
		}
	}
	return out
}

// Sanitize clears the session's previous mappings, masks every detected value
// line by line and stores one mapping per replacement. Any store failure other
// than a duplicate token aborts the call.
func (m *Masker) Sanitize(ctx context.Context, text, sessionID string) (*MaskResult, error) {
	defer metrics.ObserveSince("sanitize", time.Now())

	if !m.config.Enabled {
		return &MaskResult{MaskedText: text, Findings: []Finding{}, Original: text}, nil
	}

	log := m.logger.WithSession(sessionID)

	if err := m.store.Clear(ctx, sessionID); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("clear").Inc()
		return nil, fmt.Errorf("failed to clear session: %w", err)
	}

	tally := newTally()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		masked, err := m.maskLine(ctx, log, line, i, sessionID, tally)
		if err != nil {
			return nil, err
		}
		lines[i] = masked
	}

	findings := tally.findings()
	for _, f := range findings {
		metrics.MaskedTotal.WithLabelValues(f.EntityType).Add(float64(f.Count))
	}

	log.Debug("Text sanitized",
		zap.Int("lines", len(lines)),
		zap.Int("findings", len(findings)),
	)

	return &MaskResult{
		MaskedText: strings.Join(lines, "\n"),
		Findings:   findings,
		Original:   text,
	}, nil
}

// maskLine applies each enabled pattern to the line as rewritten by the
// higher-priority patterns before it. Tokens already written on the line,
// label included, are never rematched.
func (m *Masker) maskLine(ctx context.Context, log *logger.Logger, line string, lineNo int, sessionID string, t *tally) (string, error) {
	original := line
	current := line
	var written []span

	for _, p := range m.patterns {
		if !m.enabled[p.Category] {
			continue
		}

		var matches []Match
		for _, match := range p.Find(current) {
			if clipped, ok := clipMatch(p, current, match, written); ok {
				matches = append(matches, clipped)
			}
		}
		if len(matches) == 0 {
			continue
		}

		var b strings.Builder
		next := make([]span, 0, len(written)+len(matches))
		last, w := 0, 0
		for _, match := range matches {
			token := p.Token(match)

			err := m.store.Store(ctx, &store.Mapping{
				MaskedValue:   token,
				OriginalValue: match.Value,
				Category:      string(p.Category),
				Context:       original,
				SessionID:     sessionID,
			})
			switch {
			case errors.Is(err, store.ErrDuplicate):
				metrics.DuplicatesTotal.Inc()
				log.Debug("Mapping already present, keeping first value",
					zap.String("masked_value", token),
					zap.String("category", string(p.Category)),
				)
			case err != nil:
				metrics.StoreErrorsTotal.WithLabelValues("store").Inc()
				return "", fmt.Errorf("failed to store mapping: %w", err)
			}

			off := b.Len() - last
			for ; w < len(written) && written[w].end <= match.Start; w++ {
				next = append(next, written[w].shift(off))
			}
			b.WriteString(current[last:match.Start])
			start := b.Len()
			b.WriteString(token)
			next = append(next, span{start: start, end: b.Len()})
			last = match.End
			t.add(p.Category, lineNo)
		}
		off := b.Len() - last
		for ; w < len(written); w++ {
			next = append(next, written[w].shift(off))
		}
		b.WriteString(current[last:])
		current = b.String()
		written = next

		log.Debug("PII detected and masked",
			zap.String("entity_type", string(p.Category)),
			zap.Int("count", len(matches)),
			zap.Int("line", lineNo),
		)
	}

	return current, nil
}

// span is a written token's byte range within the current line.
type span struct {
	start int
	end   int
}

func (s span) shift(off int) span {
	return span{start: s.start + off, end: s.end + off}
}

// clipMatch keeps a match clear of tokens already on the line. A match that
// starts inside a token is dropped; one whose value runs into a token is cut
// back to the last whole word before it and rematched.
func clipMatch(p Pattern, line string, m Match, written []span) (Match, bool) {
	for _, s := range written {
		if s.end <= m.Start || s.start >= m.End {
			continue
		}
		if m.Start >= s.start {
			return Match{}, false
		}

		head := strings.TrimRight(line[m.Start:s.start], " \t,;")
		found := p.Find(head)
		if len(found) == 0 || found[0].Start != 0 {
			return Match{}, false
		}
		base := m.Start
		m = found[0]
		m.Start += base
		m.End += base
	}
	return m, true
}

// tally aggregates findings per category in first-seen order.
type tally struct {
	order []Category
	byCat map[Category]*Finding
}

func newTally() *tally {
	return &tally{byCat: make(map[Category]*Finding)}
}

func (t *tally) add(c Category, line int) {
	f, ok := t.byCat[c]
	if !ok {
		f = &Finding{EntityType: string(c), Masked: c.Placeholder()}
		t.byCat[c] = f
		t.order = append(t.order, c)
	}
	f.Count++
	if n := len(f.Positions); n == 0 || f.Positions[n-1] != line {
		f.Positions = append(f.Positions, line)
	}
}

func (t *tally) findings() []Finding {
	out := make([]Finding, 0, len(t.order))
	for _, c := range t.order {
		out = append(out, *t.byCat[c])
	}
	return out
}
