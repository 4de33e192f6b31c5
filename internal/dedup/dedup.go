// Package dedup rejects generated questions that duplicate or closely
// resemble questions already accepted in the same generation session.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"unicode"
)

// Filter holds one session's accumulated dedup state. The mutex makes it
// safe to share across chapter goroutines should the orchestrator ever be
// parallelized; dedup stays global per session either way.
type Filter struct {
	mu        sync.Mutex
	threshold float64
	hashes    map[string]bool
	texts     []string
}

// New builds a filter. threshold is the word-overlap ratio above which a
// candidate counts as a near-duplicate; values outside (0,1] fall back to 0.7.
func New(threshold float64) *Filter {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	return &Filter{
		threshold: threshold,
		hashes:    make(map[string]bool),
	}
}

// IsUnique reports whether the question text passes both the exact-hash and
// the near-duplicate check against the session history. The linear scan is
// fine: session history is bounded by the quiz target, tens of entries.
func (f *Filter) IsUnique(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	normalized := normalize(text)
	if f.hashes[hash(normalized)] {
		return false
	}

	candidate := wordSet(normalized)
	for _, prev := range f.texts {
		if overlap(candidate, wordSet(normalize(prev))) > f.threshold {
			return false
		}
	}
	return true
}

// Register records an accepted question. Call it only after IsUnique.
func (f *Filter) Register(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hashes[hash(normalize(text))] = true
	f.texts = append(f.texts, text)
}

// Accepted returns how many questions the session has registered.
func (f *Filter) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

// normalize lowercases and strips punctuation so trivial rewording does not
// defeat the exact check.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func wordSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		set[w] = true
	}
	return set
}

// overlap is the Jaccard ratio of shared words to the union of both word
// sets. Questions that share phrasing but differ in the facts they test stay
// under the threshold; genuine restatements exceed it.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if b[w] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
