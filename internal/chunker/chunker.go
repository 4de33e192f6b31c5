// Package chunker splits raw lesson text into bounded content units using
// layered strategies: page markers, explicit headings, paragraph grouping,
// and a fixed-width fallback.
package chunker

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ContentUnit is a bounded span of source text. Page bounds are 1-based and
// zero when the source had no page structure. Units are immutable once
// produced.
type ContentUnit struct {
	Text          string
	SequenceIndex int
	PageStart     int
	PageEnd       int
	Density       float64
}

// HasPages reports whether the unit carries a documented page range.
func (u ContentUnit) HasPages() bool {
	return u.PageStart > 0 && u.PageEnd >= u.PageStart
}

// Config carries the chunking thresholds. Zero values are replaced by
// defaults so a partially filled config still behaves.
type Config struct {
	UnitTargetChars    int // accumulated non-whitespace chars per page-based unit
	LightPageChars     int // pages below this merge forward
	HeavyPageChars     int // pages above this are isolated in groups of max two
	ParagraphUnitChars int // paragraph-grouping budget
	MinUnitChars       int // units below this are dropped by non-page strategies
	MaxUnits           int // hard cap on produced units
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		UnitTargetChars:    2000,
		LightPageChars:     500,
		HeavyPageChars:     1500,
		ParagraphUnitChars: 600,
		MinUnitChars:       200,
		MaxUnits:           22,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UnitTargetChars <= 0 {
		c.UnitTargetChars = def.UnitTargetChars
	}
	if c.LightPageChars <= 0 {
		c.LightPageChars = def.LightPageChars
	}
	if c.HeavyPageChars <= 0 {
		c.HeavyPageChars = def.HeavyPageChars
	}
	if c.ParagraphUnitChars <= 0 {
		c.ParagraphUnitChars = def.ParagraphUnitChars
	}
	if c.MinUnitChars <= 0 {
		c.MinUnitChars = def.MinUnitChars
	}
	if c.MaxUnits <= 0 {
		c.MaxUnits = def.MaxUnits
	}
	return c
}

var (
	pageMarkerRe = regexp.MustCompile(`(?m)^---\s*Page\s+(\d+)\s*---\s*$`)
	headingRe    = regexp.MustCompile(`(?mi)^\s*(?:chapter|section|unit|part|topic)\s+\d+[^\n]*$|^\s*\d+(?:\.\d+)*[.)]?\s+\p{Lu}[^\n]{2,80}$`)
)

// Split partitions a document into content units. Strategies are attempted
// in order; the first that succeeds wins. The result is never empty for a
// non-blank document and never longer than MaxUnits.
func Split(text string, cfg Config) []ContentUnit {
	cfg = cfg.withDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	if units := splitByPages(text, cfg); len(units) > 0 {
		return capUnits(units, cfg.MaxUnits)
	}
	if units := splitByHeadings(text, cfg); len(units) > 0 {
		return capUnits(units, cfg.MaxUnits)
	}
	if units := splitByParagraphs(text, cfg); len(units) > 0 {
		return capUnits(units, cfg.MaxUnits)
	}
	return capUnits(splitByWords(text, cfg), cfg.MaxUnits)
}

type page struct {
	number  int
	content string
	weight  int // non-whitespace characters
}

// splitByPages implements the page-marker strategy. Light pages merge forward
// into the next unit, heavy pages are isolated in groups of at most two, and
// every page appears in exactly one unit.
func splitByPages(text string, cfg Config) []ContentUnit {
	pages := parsePages(text)
	if len(pages) == 0 {
		return nil
	}

	var units []ContentUnit
	var group []page
	groupWeight := 0

	flush := func() {
		if len(group) == 0 {
			return
		}
		units = append(units, unitFromPages(group, len(units)))
		group = nil
		groupWeight = 0
	}

	for _, p := range pages {
		group = append(group, p)
		groupWeight += p.weight

		switch {
		case groupWeight >= cfg.UnitTargetChars:
			flush()
		case p.weight > cfg.HeavyPageChars && len(group) >= 2:
			// Heavy pages stay in small groups so a dense page does not
			// share a prompt with too much surrounding material.
			flush()
		}
	}
	flush()

	return units
}

func parsePages(text string) []page {
	matches := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	// Title blocks and other preamble ahead of the first marker belong to
	// the first page; the page strategy never drops source text.
	preamble := strings.TrimSpace(text[:matches[0][0]])

	pages := make([]page, 0, len(matches))
	for i, m := range matches {
		num, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[start:end])
		if len(pages) == 0 && preamble != "" {
			content = strings.TrimSpace(preamble + "\n\n" + content)
		}
		pages = append(pages, page{
			number:  num,
			content: content,
			weight:  nonWhitespaceCount(content),
		})
	}
	return pages
}

func unitFromPages(group []page, index int) ContentUnit {
	var builder strings.Builder
	for i, p := range group {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(p.content)
	}
	text := builder.String()
	return ContentUnit{
		Text:          text,
		SequenceIndex: index,
		PageStart:     group[0].number,
		PageEnd:       group[len(group)-1].number,
		Density:       density(text),
	}
}

// splitByHeadings detects chapter/section headings. The strategy only wins
// when it produces at least two non-trivial units.
func splitByHeadings(text string, cfg Config) []ContentUnit {
	locs := headingRe.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return nil
	}

	var parts []string
	prev := 0
	for i, loc := range locs {
		if i == 0 {
			prev = loc[0]
			continue
		}
		parts = append(parts, text[prev:loc[0]])
		prev = loc[0]
	}
	parts = append(parts, text[prev:])

	var units []ContentUnit
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) <= cfg.MinUnitChars {
			continue
		}
		units = append(units, ContentUnit{
			Text:          part,
			SequenceIndex: len(units),
			Density:       density(part),
		})
	}
	if len(units) < 2 {
		return nil
	}
	return units
}

// splitByParagraphs groups consecutive paragraphs until the character budget
// is reached, dropping fragments under the minimum size.
func splitByParagraphs(text string, cfg Config) []ContentUnit {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) < 2 {
		return nil
	}

	var units []ContentUnit
	var current []string
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		joined := strings.Join(current, "\n\n")
		if len(joined) >= cfg.MinUnitChars {
			units = append(units, ContentUnit{
				Text:          joined,
				SequenceIndex: len(units),
				Density:       density(joined),
			})
		}
		current = nil
		currentLen = 0
	}

	for _, para := range paragraphs {
		current = append(current, para)
		currentLen += len(para)
		if currentLen >= cfg.ParagraphUnitChars {
			flush()
		}
	}
	flush()

	if len(units) == 0 {
		return nil
	}
	return units
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, block := range regexp.MustCompile(`\n\s*\n`).Split(text, -1) {
		if block = strings.TrimSpace(block); block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	return paragraphs
}

// splitByWords is the last resort: roughly equal word-count chunks. A
// document shorter than one chunk yields a single unit.
func splitByWords(text string, cfg Config) []ContentUnit {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunkCount := nonWhitespaceCount(text) / cfg.UnitTargetChars
	if chunkCount < 1 {
		chunkCount = 1
	}
	if chunkCount > cfg.MaxUnits {
		chunkCount = cfg.MaxUnits
	}

	perChunk := (len(words) + chunkCount - 1) / chunkCount
	var units []ContentUnit
	for start := 0; start < len(words); start += perChunk {
		end := start + perChunk
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[start:end], " ")
		units = append(units, ContentUnit{
			Text:          chunk,
			SequenceIndex: len(units),
			Density:       density(chunk),
		})
	}
	return units
}

// capUnits keeps the unit count within the cap by merging adjacent units.
// Merging, not dropping, preserves full page coverage for the page strategy.
func capUnits(units []ContentUnit, maxUnits int) []ContentUnit {
	if len(units) <= maxUnits {
		return reindex(units)
	}

	merged := make([]ContentUnit, 0, maxUnits)
	perBucket := (len(units) + maxUnits - 1) / maxUnits
	for start := 0; start < len(units); start += perBucket {
		end := start + perBucket
		if end > len(units) {
			end = len(units)
		}
		merged = append(merged, mergeUnits(units[start:end], len(merged)))
	}
	return merged
}

func mergeUnits(group []ContentUnit, index int) ContentUnit {
	if len(group) == 1 {
		u := group[0]
		u.SequenceIndex = index
		return u
	}
	var builder strings.Builder
	for i, u := range group {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(u.Text)
	}
	text := builder.String()
	out := ContentUnit{
		Text:          text,
		SequenceIndex: index,
		Density:       density(text),
	}
	if group[0].HasPages() && group[len(group)-1].HasPages() {
		out.PageStart = group[0].PageStart
		out.PageEnd = group[len(group)-1].PageEnd
	}
	return out
}

func reindex(units []ContentUnit) []ContentUnit {
	for i := range units {
		units[i].SequenceIndex = i
	}
	return units
}

func density(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	return float64(nonWhitespaceCount(text)) / float64(len(text))
}

func nonWhitespaceCount(text string) int {
	count := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}
