// Package patterns is the long-term memory of questions that were answered
// successfully, keyed by a normalized form of the question text.
package patterns

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/querygate/querygate/internal/safety"
)

var ErrNotFound = errors.New("pattern not found")

const (
	// DefaultSimilarLimit is how many related patterns are offered to the
	// translator as examples.
	DefaultSimilarLimit = 3
	// SimilarScanLimit bounds how many successful patterns a store scores per
	// Similar call, most used first.
	SimilarScanLimit = 500
)

// Pattern is one remembered question. Key is the normalized question text.
type Pattern struct {
	Key        string        `json:"key"`
	Query      string        `json:"query"`
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency_ns"`
	UsageCount int64         `json:"usage_count"`
	LastUsedAt time.Time     `json:"last_used_at"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store persists patterns. Record must be durable before it returns.
//
// Recording an existing key increments its usage count and refreshes the
// last-used time and latency. The stored query is kept, except that a pattern
// that has never succeeded takes the query of its first successful record.
// Once a pattern has succeeded it stays successful.
type Store interface {
	Lookup(ctx context.Context, key string) (Pattern, error)
	Record(ctx context.Context, key string, query safety.ValidatedQuery, success bool, latency time.Duration) (Pattern, error)
	// TopPatterns orders by usage count, highest first, then by most recent
	// use.
	TopPatterns(ctx context.Context, k int) ([]Pattern, error)
	// Similar returns up to k successful patterns sharing at least one word
	// with request, best match first.
	Similar(ctx context.Context, request string, k int) ([]Match, error)
	Close() error
}

// Match is a pattern scored against a question. Score is the number of
// distinct words the two share.
type Match struct {
	Pattern Pattern `json:"pattern"`
	Score   int     `json:"score"`
}

// Words returns the distinct words of the normalized request.
func Words(request string) map[string]struct{} {
	words := map[string]struct{}{}
	for _, word := range strings.FieldsFunc(Normalize(request), isWordSeparator) {
		words[word] = struct{}{}
	}
	return words
}

func isWordSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// RankSimilar scores the successful candidates against request and returns
// the k best with a positive score. Equal scores keep candidate order, so
// stores pass candidates most used first.
func RankSimilar(request string, candidates []Pattern, k int) []Match {
	if k <= 0 {
		return []Match{}
	}
	wanted := Words(request)
	if len(wanted) == 0 {
		return []Match{}
	}
	matches := make([]Match, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.Success {
			continue
		}
		score := 0
		for word := range Words(candidate.Key) {
			if _, ok := wanted[word]; ok {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, Match{Pattern: candidate, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

var folder = cases.Fold()

// Normalize maps a question to its pattern key: Unicode NFKC, case folded,
// runs of whitespace collapsed to one space, surrounding whitespace and
// trailing ? . ! ; removed. It is idempotent.
func Normalize(request string) string {
	folded := norm.NFKC.String(folder.String(norm.NFKC.String(request)))
	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimRightFunc(b.String(), isTrailingPunct)
}

func isTrailingPunct(r rune) bool {
	switch r {
	case '?', '.', '!', ';', ' ':
		return true
	default:
		return false
	}
}

// ValidKey rejects keys that could never come out of Normalize.
func ValidKey(key string) error {
	if key == "" {
		return errors.New("pattern key is required")
	}
	if Normalize(key) != key {
		return errors.New("pattern key is not normalized")
	}
	return nil
}
