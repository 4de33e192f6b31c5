// Package prompt builds the natural-language instructions sent to the
// text-generation providers. Builders are pure: same inputs, same prompt.
package prompt

import (
	"fmt"
	"strings"

	"quizforge/internal/models"
)

// Context carries optional auxiliary material appended to higher-order
// prompts. Both fields may be empty.
type Context struct {
	Summary       string   // condensed overview of the source content
	Relationships []string // rendered "A -> type -> B" lines from the ontology
}

// levelSpec fixes the per-level template inputs: the cognitive expectation
// text and the source preview budget.
type levelSpec struct {
	expectation  string
	previewChars int
}

var levelSpecs = map[models.SoloLevel]levelSpec{
	models.Unistructural: {
		expectation: "The question must test recall of ONE single fact, term, or definition " +
			"taken directly from the content. No combining of ideas.",
		previewChars: 1500,
	},
	models.Multistructural: {
		expectation: "The question must require knowing SEVERAL independent facts or aspects " +
			"from the content, without requiring the learner to integrate them.",
		previewChars: 2000,
	},
	models.Relational: {
		expectation: "The question must require INTEGRATING multiple ideas from the content " +
			"into a coherent understanding: cause and effect, comparison, or how parts form a whole.",
		previewChars: 2500,
	},
	models.ExtendedAbstract: {
		expectation: "The question must require TRANSFERRING the integrated understanding to a " +
			"new situation, hypothesis, or generalization beyond the literal content.",
		previewChars: 3000,
	},
}

const distractorRules = `Distractor rules:
- Exactly 4 options, exactly one correct.
- Wrong options must be plausible misconceptions, not nonsense.
- Options must be mutually exclusive and of similar length.
- Do not use "all of the above" or "none of the above".`

const outputShape = `Respond with only a JSON object:
{"question": "", "options": ["", "", "", ""], "correct_answer": "A) ...", "explanation": ""}
The question must be under 450 characters and the explanation under 650 characters.
The correct_answer must repeat one option verbatim, prefixed with its letter.`

// Question builds the generation prompt for one content slice at one SOLO
// level. Relational and extended-abstract prompts gain the summary and
// relationship context blocks when available.
func Question(content string, level models.SoloLevel, extra Context) string {
	spec, ok := levelSpecs[level]
	if !ok {
		spec = levelSpecs[models.Unistructural]
	}

	var b strings.Builder
	b.WriteString("You are writing one multiple-choice quiz question for students.\n\n")
	b.WriteString(fmt.Sprintf("Cognitive level (%s): %s\n\n", level, spec.expectation))
	b.WriteString(distractorRules)
	b.WriteString("\n\n")
	b.WriteString(outputShape)
	b.WriteString("\n\nContent:\n")
	b.WriteString(TruncateWords(content, spec.previewChars))

	if level == models.Relational || level == models.ExtendedAbstract {
		if extra.Summary != "" {
			b.WriteString("\n\nContent summary:\n")
			b.WriteString(TruncateWords(extra.Summary, 800))
		}
		if len(extra.Relationships) > 0 {
			b.WriteString("\n\nKnown concept relationships:\n")
			for _, rel := range extra.Relationships {
				b.WriteString("- ")
				b.WriteString(rel)
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

// Summary builds the prompt that condenses a content unit for use as
// higher-level question context.
func Summary(content string) string {
	var b strings.Builder
	b.WriteString("Summarize the following lesson content in 4-6 sentences, ")
	b.WriteString("keeping the key concepts and how they relate. Respond with plain text only.\n\n")
	b.WriteString(TruncateWords(content, 3000))
	return b.String()
}

// Sections builds the prompt that splits lesson content into titled sections.
func Sections(content string) string {
	var b strings.Builder
	b.WriteString(`Split the following lesson content into coherent sections.
Respond with only a JSON array: [{"title": "", "content": ""}].
Every part of the source must belong to exactly one section. Use 2-8 sections.

`)
	b.WriteString(TruncateWords(content, 4000))
	return b.String()
}

// Objects builds the prompt that lists the learning objects of one section.
func Objects(sectionTitle, sectionContent string) string {
	var b strings.Builder
	b.WriteString(`Extract the learning objects from this section. A learning object is one
atomic unit of knowledge: a concept, definition, procedure, example,
principle, fact, theory, or process.
Respond with only a JSON array:
[{"title": "", "type": "concept", "description": ""}]
The type must be one of: concept, definition, procedure, example, principle, fact, theory, process.

`)
	b.WriteString("Section: ")
	b.WriteString(sectionTitle)
	b.WriteString("\n\n")
	b.WriteString(TruncateWords(sectionContent, 2500))
	return b.String()
}

// KeyPoints builds the enrichment prompt for one learning object's ordered
// key points.
func KeyPoints(title, description, sectionContent string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`List the 3-5 most important key points about "%s" based on the section below.
Respond with only a JSON array of strings, most important first.

`, title))
	if description != "" {
		b.WriteString("Known description: ")
		b.WriteString(TruncateWords(description, 300))
		b.WriteString("\n\n")
	}
	b.WriteString(TruncateWords(sectionContent, 2000))
	return b.String()
}

// Keywords builds the enrichment prompt for one learning object's keywords.
func Keywords(title, sectionContent string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`List 3-8 single keywords or short key phrases for the topic "%s"
based on the section below. Respond with only a JSON array of strings.

`, title))
	b.WriteString(TruncateWords(sectionContent, 2000))
	return b.String()
}

// RelationshipPass names one of the independently prompted ontology passes.
type RelationshipPass string

const (
	PassHierarchical RelationshipPass = "hierarchical"
	PassPrerequisite RelationshipPass = "prerequisite"
	PassSemantic     RelationshipPass = "semantic"
	PassCrossTopic   RelationshipPass = "cross_topic"
	PassMeta         RelationshipPass = "meta"
)

// AllRelationshipPasses lists the passes in execution order.
var AllRelationshipPasses = []RelationshipPass{
	PassHierarchical, PassPrerequisite, PassSemantic, PassCrossTopic, PassMeta,
}

var passInstructions = map[RelationshipPass]string{
	PassHierarchical: "Find taxonomic relationships: which concepts are kinds, parts, or members of others. " +
		"Use relationship types like is_type_of, part_of, member_of.",
	PassPrerequisite: "Find learning-order relationships: which concepts must be understood before others. " +
		"Use relationship types like prerequisite, builds_upon.",
	PassSemantic: "Find meaning-level relationships: concepts that define, describe, or constrain each other. " +
		"Use relationship types like defines, describes, constrains, relates_to.",
	PassCrossTopic: "Find relationships that cross section boundaries: concepts from different sections " +
		"that influence or depend on each other. Use types like influences, depends_on, relates_to.",
	PassMeta: "Find higher-order relationships between relationships or groups of concepts, such as " +
		"contrasting theories or complementary procedures. Use types like contrasts_with, complements.",
}

// Relationships builds the prompt for one ontology extraction pass over the
// known learning-object titles.
func Relationships(pass RelationshipPass, titles []string, content string) string {
	var b strings.Builder
	b.WriteString("You are building a concept ontology for a lesson.\n")
	b.WriteString(passInstructions[pass])
	b.WriteString("\n\nKnown learning objects (use these exact titles):\n")
	for _, title := range titles {
		b.WriteString("- ")
		b.WriteString(title)
		b.WriteString("\n")
	}
	b.WriteString(`
Respond with only a JSON array:
[{"source": "", "target": "", "type": "", "description": ""}]
Source and target must be titles from the list above and must differ.

Lesson content:
`)
	b.WriteString(TruncateWords(content, 2500))
	return b.String()
}

// TruncateWords bounds text to limit characters without cutting mid-word.
func TruncateWords(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexFunc(cut, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
