// Package parse extracts and validates structured content from free-form
// model output. Parse failures are soft: callers treat a nil result as one
// spent attempt, never as provider exhaustion.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"quizforge/internal/models"
)

var (
	// ErrNoJSON indicates no balanced JSON value was found in the output.
	ErrNoJSON = errors.New("no json value in model output")
)

// Caps bounds the normalized question fields.
type Caps struct {
	QuestionText int
	Explanation  int
}

// DefaultCaps returns the stock field bounds.
func DefaultCaps() Caps {
	return Caps{QuestionText: 500, Explanation: 700}
}

// Question is one validated, normalized quiz item.
type Question struct {
	Text         string
	Options      []string
	CorrectIndex int
	Explanation  string
	Level        models.SoloLevel
}

// questionSchema is enforced before any field-level normalization, so the
// normalizer only ever sees structurally complete candidates.
const questionSchema = `{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"options": {"type": "array", "items": {"type": "string"}, "minItems": 4, "maxItems": 4},
		"correct_answer": {"type": "string", "minLength": 1},
		"explanation": {"type": "string"}
	},
	"required": ["question", "options", "correct_answer"]
}`

var questionSchemaLoader = gojsonschema.NewStringLoader(questionSchema)

type rawQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// ExtractJSON returns the first balanced JSON object or array embedded in
// free text, stripping markdown code fences first. Models rarely emit pure
// JSON, so this runs before every unmarshal in the pipeline.
func ExtractJSON(raw string) string {
	raw = stripFences(strings.TrimSpace(raw))

	start := -1
	for i, r := range raw {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

func stripFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	start := 3
	if idx := strings.Index(content[start:], "\n"); idx != -1 {
		start += idx + 1
	}
	if end := strings.Index(content[start:], "```"); end != -1 {
		return strings.TrimSpace(content[start : start+end])
	}
	return strings.TrimSpace(content[start:])
}

// ParseQuestion validates raw model output and returns a normalized question.
func ParseQuestion(raw string, level models.SoloLevel, caps Caps) (*Question, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, ErrNoJSON
	}

	result, err := gojsonschema.Validate(questionSchemaLoader, gojsonschema.NewStringLoader(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("validate question shape: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("question failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var rq rawQuestion
	if err := json.Unmarshal([]byte(jsonStr), &rq); err != nil {
		return nil, fmt.Errorf("unmarshal question: %w", err)
	}

	q := &Question{
		Text:         StripPageReferences(TruncateAtBoundary(rq.Question, caps.QuestionText)),
		Options:      make([]string, len(rq.Options)),
		Explanation:  StripPageReferences(TruncateAtBoundary(rq.Explanation, caps.Explanation)),
		Level:        level,
	}
	for i, opt := range rq.Options {
		q.Options[i] = strings.TrimSpace(opt)
	}
	q.CorrectIndex = ResolveCorrectIndex(rq.CorrectAnswer, q.Options)

	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("question text empty after normalization")
	}
	return q, nil
}

// ResolveCorrectIndex maps a correct_answer string onto an option index:
// exact match first, then leading-letter match. Index 0 is the documented
// fallback when neither resolves.
func ResolveCorrectIndex(answer string, options []string) int {
	answer = strings.TrimSpace(answer)
	for i, opt := range options {
		if strings.EqualFold(answer, opt) {
			return i
		}
	}

	letter := leadingLetter(answer)
	if letter != 0 {
		for i, opt := range options {
			if leadingLetter(opt) == letter {
				return i
			}
		}
		// Options without letter prefixes: map A-D positionally.
		if idx := int(letter - 'a'); idx >= 0 && idx < len(options) {
			return idx
		}
	}
	return 0
}

func leadingLetter(s string) byte {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) == 0 {
		return 0
	}
	if s[0] < 'a' || s[0] > 'z' {
		return 0
	}
	if len(s) == 1 || s[1] == ')' || s[1] == '.' || s[1] == ':' || s[1] == ' ' {
		return s[0]
	}
	return 0
}

var pageRefRe = regexp.MustCompile(`(?i)\s*\(?\b(?:on\s+)?(?:page|pages|pg\.?|p\.|página|pagina|seite)\s*\d+(?:\s*[-–]\s*\d+)?\)?`)

// StripPageReferences removes page-number leakage so questions stay portable
// outside their page context.
func StripPageReferences(text string) string {
	cleaned := pageRefRe.ReplaceAllString(text, "")
	cleaned = regexp.MustCompile(`\s{2,}`).ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// TruncateAtBoundary bounds text to limit bytes, preferring the last
// sentence end, then the last word break. It never cuts mid-word or
// mid-rune.
func TruncateAtBoundary(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > limit/2 {
		return strings.TrimSpace(cut[:idx+1])
	}
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		return strings.TrimSpace(cut[:idx])
	}
	return strings.TrimSpace(cut)
}

// SectionCandidate is one section proposed by the section-extraction prompt.
type SectionCandidate struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ParseSections decodes the section-extraction output.
func ParseSections(raw string) ([]SectionCandidate, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, ErrNoJSON
	}
	var sections []SectionCandidate
	if err := json.Unmarshal([]byte(jsonStr), &sections); err != nil {
		return nil, fmt.Errorf("unmarshal sections: %w", err)
	}
	var valid []SectionCandidate
	for _, s := range sections {
		s.Title = strings.TrimSpace(s.Title)
		s.Content = strings.TrimSpace(s.Content)
		if s.Title == "" || s.Content == "" {
			continue
		}
		valid = append(valid, s)
	}
	return valid, nil
}

// ObjectCandidate is one learning object proposed by the extraction prompt.
type ObjectCandidate struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ParseObjects decodes the learning-object extraction output.
func ParseObjects(raw string) ([]ObjectCandidate, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, ErrNoJSON
	}
	var objects []ObjectCandidate
	if err := json.Unmarshal([]byte(jsonStr), &objects); err != nil {
		return nil, fmt.Errorf("unmarshal learning objects: %w", err)
	}
	var valid []ObjectCandidate
	for _, o := range objects {
		o.Title = strings.TrimSpace(o.Title)
		if o.Title == "" {
			continue
		}
		valid = append(valid, o)
	}
	return valid, nil
}

// RelationshipCandidate is one edge proposed by an ontology pass, still
// referencing objects by title.
type RelationshipCandidate struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ParseRelationships decodes one ontology pass's output.
func ParseRelationships(raw string) ([]RelationshipCandidate, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, ErrNoJSON
	}
	var rels []RelationshipCandidate
	if err := json.Unmarshal([]byte(jsonStr), &rels); err != nil {
		return nil, fmt.Errorf("unmarshal relationships: %w", err)
	}
	var valid []RelationshipCandidate
	for _, r := range rels {
		r.Source = strings.TrimSpace(r.Source)
		r.Target = strings.TrimSpace(r.Target)
		r.Type = strings.TrimSpace(r.Type)
		if r.Source == "" || r.Target == "" {
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// ParseStringList decodes a plain JSON string array (key points, keywords).
func ParseStringList(raw string) ([]string, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return nil, ErrNoJSON
	}
	var list []string
	if err := json.Unmarshal([]byte(jsonStr), &list); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	var valid []string
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			valid = append(valid, item)
		}
	}
	return valid, nil
}
