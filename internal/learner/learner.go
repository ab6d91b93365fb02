// Package learner turns human feedback into reusable patterns. Corrections
// are reduced to a content signature and an embedding; a close-enough
// existing pattern is reinforced, anything else becomes a new pattern.
// Patterns are never deleted.
package learner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"vcycle/internal/embedding"
	"vcycle/internal/logging"
	"vcycle/internal/store"
	"vcycle/internal/types"
)

// PatternStore is the slice of the store the learner needs.
type PatternStore interface {
	FindPatternBySignature(sig string) (*types.Pattern, error)
	SavePattern(p types.Pattern) error
	ReinforcePattern(id string, success bool, sourceID string) error
	SearchPatterns(query []float32, k int, patternContext string) ([]store.SimilarPattern, error)
}

// Config tunes pattern matching.
type Config struct {
	// SimilarityThreshold is the cosine similarity above which feedback
	// reinforces an existing pattern instead of creating a new one.
	SimilarityThreshold float64 // default 0.85
}

// Learner ingests feedback and answers pattern searches.
type Learner struct {
	patterns  PatternStore
	embedder  embedding.Engine
	threshold float64
	now       func() time.Time
}

// New creates a Learner.
func New(patterns PatternStore, embedder embedding.Engine, cfg Config) *Learner {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	return &Learner{
		patterns:  patterns,
		embedder:  embedder,
		threshold: cfg.SimilarityThreshold,
		now:       time.Now,
	}
}

// Ingest extracts candidate patterns from one feedback record. A record
// with an exact signature match, or an embedding match above the
// similarity threshold, reinforces that pattern's counters; otherwise a
// new pattern is created. Returns the patterns touched.
func (l *Learner) Ingest(ctx context.Context, rec types.FeedbackRecord) ([]types.Pattern, error) {
	text := strings.TrimSpace(rec.CorrectionText)
	if text == "" {
		return nil, nil
	}
	success := rec.Outcome == types.OutcomeAccepted
	sig := Signature(text, rec.Context)

	// Exact signature dedup first: repeated identical corrections must
	// hit the same pattern regardless of embedding drift.
	if existing, err := l.patterns.FindPatternBySignature(sig); err != nil {
		return nil, fmt.Errorf("failed to look up pattern signature: %w", err)
	} else if existing != nil {
		return l.reinforce(existing, success, rec.RunID)
	}

	vec, err := l.embedder.Embed(ctx, text+" "+rec.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to embed feedback: %w", err)
	}

	// Embedding matches only count within the same context: a correction
	// about one spectrum must not reinforce a pattern from another.
	matches, err := l.patterns.SearchPatterns(vec, 1, rec.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to search patterns: %w", err)
	}
	if len(matches) > 0 && matches[0].Similarity >= l.threshold {
		logging.LearnerDebug("Feedback %s matched pattern %s at %.3f",
			rec.RunID, matches[0].Pattern.ID, matches[0].Similarity)
		return l.reinforce(&matches[0].Pattern, success, rec.RunID)
	}

	p := types.Pattern{
		ID:          uuid.NewString(),
		Embedding:   vec,
		Description: describe(text),
		Signature:   sig,
		Context:     rec.Context,
		SourceIDs:   []string{rec.RunID},
		CreatedAt:   l.now(),
		UpdatedAt:   l.now(),
	}
	if success {
		p.SuccessCount = 1
	} else {
		p.FailureCount = 1
	}
	if err := l.patterns.SavePattern(p); err != nil {
		return nil, fmt.Errorf("failed to save pattern: %w", err)
	}
	logging.Learner("New pattern %s from feedback %s: %s", p.ID, rec.RunID, p.Description)
	return []types.Pattern{p}, nil
}

func (l *Learner) reinforce(p *types.Pattern, success bool, sourceID string) ([]types.Pattern, error) {
	if err := l.patterns.ReinforcePattern(p.ID, success, sourceID); err != nil {
		return nil, fmt.Errorf("failed to reinforce pattern: %w", err)
	}
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	return []types.Pattern{*p}, nil
}

// Search returns up to k patterns nearest to the context embedding across
// all contexts, ranked by similarity with success−failure as the tie-break.
func (l *Learner) Search(contextVec []float32, k int) ([]store.SimilarPattern, error) {
	return l.patterns.SearchPatterns(contextVec, k, "")
}

// Embed exposes the learner's embedder for callers that need to embed a
// query context before Search.
func (l *Learner) Embed(ctx context.Context, text string) ([]float32, error) {
	return l.embedder.Embed(ctx, text)
}

// Signature reduces a correction and its context to a stable content key:
// lowercase alphanumeric words joined by single spaces, then hashed.
func Signature(correction, context string) string {
	norm := normalize(correction) + "|" + normalize(context)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

func normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// describe truncates a correction into a short pattern description.
func describe(text string) string {
	const max = 120
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}
