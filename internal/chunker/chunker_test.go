package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// pageDoc builds a marked-up document with one page per weight, where each
// page body is a run of word-like tokens totalling roughly that many
// non-whitespace characters.
func pageDoc(weights ...int) string {
	var b strings.Builder
	for i, weight := range weights {
		fmt.Fprintf(&b, "--- Page %d ---\n", i+1)
		b.WriteString(tokens(weight))
		b.WriteString("\n")
	}
	return b.String()
}

func tokens(nonWSChars int) string {
	word := "lorem"
	count := nonWSChars / len(word)
	if count < 1 {
		count = 1
	}
	out := make([]string, count)
	for i := range out {
		out[i] = word
	}
	return strings.Join(out, " ")
}

func TestSplitEmptyInput(t *testing.T) {
	if units := Split("   \n\t ", DefaultConfig()); units != nil {
		t.Errorf("expected nil for blank input, got %d units", len(units))
	}
}

func TestSplitByPages(t *testing.T) {
	t.Run("AlternatingHeavyLightPages", func(t *testing.T) {
		// Heavy, light, heavy, light, heavy. The light pages must merge
		// forward instead of becoming their own units.
		doc := pageDoc(1600, 200, 1600, 200, 1600)
		units := Split(doc, DefaultConfig())

		if len(units) >= 5 {
			t.Fatalf("expected fewer units than pages, got %d", len(units))
		}
		if units[0].PageStart != 1 {
			t.Errorf("first unit should start at page 1, got %d", units[0].PageStart)
		}
		if last := units[len(units)-1]; last.PageEnd != 5 {
			t.Errorf("last unit should end at page 5, got %d", last.PageEnd)
		}
	})

	t.Run("CoverageIsContiguous", func(t *testing.T) {
		doc := pageDoc(900, 300, 1700, 100, 2200, 800, 450)
		units := Split(doc, DefaultConfig())

		if len(units) == 0 {
			t.Fatal("expected at least one unit")
		}
		for i, u := range units {
			if !u.HasPages() {
				t.Fatalf("unit %d lost its page range", i)
			}
			if i > 0 && u.PageStart != units[i-1].PageEnd+1 {
				t.Errorf("unit %d starts at page %d, previous ended at %d", i, u.PageStart, units[i-1].PageEnd)
			}
		}
		if units[0].PageStart != 1 {
			t.Errorf("coverage starts at page %d, want 1", units[0].PageStart)
		}
		if last := units[len(units)-1]; last.PageEnd != 7 {
			t.Errorf("coverage ends at page %d, want 7", last.PageEnd)
		}
	})

	t.Run("SinglePage", func(t *testing.T) {
		units := Split(pageDoc(400), DefaultConfig())
		if len(units) != 1 {
			t.Fatalf("expected 1 unit, got %d", len(units))
		}
		if units[0].PageStart != 1 || units[0].PageEnd != 1 {
			t.Errorf("unexpected page range %d-%d", units[0].PageStart, units[0].PageEnd)
		}
	})

	t.Run("PreambleBeforeFirstMarkerKept", func(t *testing.T) {
		doc := "Thermodynamics for Engineers\nCourse reader, 3rd edition\n\n" + pageDoc(1800, 1800)
		units := Split(doc, DefaultConfig())

		if len(units) == 0 {
			t.Fatal("expected units")
		}
		if !strings.Contains(units[0].Text, "Thermodynamics for Engineers") {
			t.Errorf("title block before the first marker was dropped, unit starts %q", firstLine(units[0].Text))
		}
		if units[0].PageStart != 1 {
			t.Errorf("first unit starts at page %d, want 1", units[0].PageStart)
		}
	})

	t.Run("SequenceIndexesAreDense", func(t *testing.T) {
		units := Split(pageDoc(2100, 2100, 2100, 2100), DefaultConfig())
		for i, u := range units {
			if u.SequenceIndex != i {
				t.Errorf("unit %d has sequence index %d", i, u.SequenceIndex)
			}
		}
	})
}

func TestSplitByHeadings(t *testing.T) {
	body := tokens(300)
	doc := strings.Join([]string{
		"Chapter 1 Getting Started",
		body,
		"Chapter 2 Core Ideas",
		body,
		"Chapter 3 Advanced Topics",
		body,
	}, "\n")

	units := Split(doc, Config{MinUnitChars: 50})
	if len(units) < 2 {
		t.Fatalf("expected heading-based units, got %d", len(units))
	}
	if !strings.Contains(units[0].Text, "Chapter 1") {
		t.Errorf("first unit should begin at the first heading, got %q", firstLine(units[0].Text))
	}
	for i, u := range units {
		if u.HasPages() {
			t.Errorf("unit %d claims pages %d-%d for unpaged input", i, u.PageStart, u.PageEnd)
		}
	}
}

func TestSplitByParagraphs(t *testing.T) {
	paras := make([]string, 6)
	for i := range paras {
		paras[i] = tokens(250)
	}
	doc := strings.Join(paras, "\n\n")

	units := Split(doc, Config{ParagraphUnitChars: 400, MinUnitChars: 50})
	if len(units) < 2 {
		t.Fatalf("expected multiple paragraph units, got %d", len(units))
	}
	for i, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			t.Errorf("unit %d is blank", i)
		}
	}
}

func TestSplitByWordsFallback(t *testing.T) {
	t.Run("ShortDocumentSingleUnit", func(t *testing.T) {
		units := Split("just a handful of words here", DefaultConfig())
		if len(units) != 1 {
			t.Fatalf("expected 1 unit, got %d", len(units))
		}
	})

	t.Run("LongRunOfWords", func(t *testing.T) {
		units := Split(tokens(9000), DefaultConfig())
		if len(units) < 2 {
			t.Fatalf("expected the text to be chunked, got %d units", len(units))
		}
	})
}

func TestMaxUnitsCap(t *testing.T) {
	weights := make([]int, 30)
	for i := range weights {
		weights[i] = 2100
	}
	doc := pageDoc(weights...)

	units := Split(doc, Config{MaxUnits: 5})
	if len(units) > 5 {
		t.Fatalf("cap not applied: got %d units", len(units))
	}
	// Merging must preserve full page coverage.
	if units[0].PageStart != 1 {
		t.Errorf("coverage starts at page %d, want 1", units[0].PageStart)
	}
	if last := units[len(units)-1]; last.PageEnd != 30 {
		t.Errorf("coverage ends at page %d, want 30", last.PageEnd)
	}
}

func TestDensity(t *testing.T) {
	units := Split(pageDoc(1000), DefaultConfig())
	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(units))
	}
	d := units[0].Density
	if d <= 0 || d > 1 {
		t.Errorf("density %f out of (0,1]", d)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
