// Package ontology extracts typed relationships between learning objects,
// repairing near-miss references from model output and falling back to
// deterministic heuristics when model-based passes come up short.
package ontology

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"quizforge/internal/logger"
	"quizforge/internal/models"
	"quizforge/internal/parse"
	"quizforge/internal/prompt"
	"quizforge/internal/provider"
)

// Extractor runs the relationship passes for one lesson.
type Extractor struct {
	dispatcher *provider.Dispatcher
	minEdges   int
	log        *logger.Logger
}

func NewExtractor(dispatcher *provider.Dispatcher, minEdges int, log *logger.Logger) *Extractor {
	if minEdges <= 0 {
		minEdges = 5
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{dispatcher: dispatcher, minEdges: minEdges, log: log}
}

// Extract produces validated, deduplicated relationships for the given
// learning objects. If the combined model passes yield fewer than the
// minimum, the deterministic fallback generator tops them up, so the result
// is never empty for two or more objects.
func (e *Extractor) Extract(ctx context.Context, sess *provider.Session, objects []models.LearningObject, lessonText string) []models.ConceptRelationship {
	if len(objects) < 2 {
		return nil
	}

	index := newTitleIndex(objects)
	titles := make([]string, len(objects))
	for i, obj := range objects {
		titles[i] = obj.Title
	}

	var edges []models.ConceptRelationship
	seen := make(map[string]bool)

	for _, pass := range prompt.AllRelationshipPasses {
		if sess.Exhausted() {
			break
		}
		raw, outcome, err := e.dispatcher.Generate(ctx, sess, prompt.Relationships(pass, titles, lessonText))
		if outcome != provider.OutcomeOK {
			e.log.Debug("relationship pass failed", "pass", string(pass), "error", err)
			continue
		}
		candidates, err := parse.ParseRelationships(raw)
		if err != nil {
			e.log.Debug("relationship pass output unusable", "pass", string(pass), "error", err)
			continue
		}
		for _, cand := range candidates {
			edge, ok := e.validate(cand, index)
			if !ok {
				continue
			}
			key := edgeKey(edge)
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, edge)
		}
	}

	if len(edges) < e.minEdges {
		e.log.Info("model passes below relationship minimum, applying fallback",
			"model_edges", len(edges), "minimum", e.minEdges)
		for _, edge := range FallbackEdges(objects) {
			key := edgeKey(edge)
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, edge)
		}
	}

	return edges
}

// validate repairs title references and drops self-loops and unknown
// endpoints.
func (e *Extractor) validate(cand parse.RelationshipCandidate, index *titleIndex) (models.ConceptRelationship, bool) {
	source, ok := index.resolve(cand.Source)
	if !ok {
		return models.ConceptRelationship{}, false
	}
	target, ok := index.resolve(cand.Target)
	if !ok {
		return models.ConceptRelationship{}, false
	}
	if source == target {
		return models.ConceptRelationship{}, false
	}
	return models.ConceptRelationship{
		SourceID:         source,
		TargetID:         target,
		RelationshipType: NormalizeType(cand.Type),
		Description:      strings.TrimSpace(cand.Description),
	}, true
}

// NormalizeType maps free-form relationship labels onto a snake_case
// vocabulary, defaulting to relates_to.
func NormalizeType(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.NewReplacer(" ", "_", "-", "_").Replace(cleaned)
	cleaned = regexp.MustCompile(`[^a-z_]`).ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "relates_to"
	}
	return cleaned
}

func edgeKey(edge models.ConceptRelationship) string {
	return fmt.Sprintf("%d|%d|%s", edge.SourceID, edge.TargetID, edge.RelationshipType)
}

// titleIndex resolves model-emitted titles to object ids: exact match first,
// then fuzzy normalized match with metadata suffixes stripped.
type titleIndex struct {
	exact      map[string]uint
	normalized map[string]uint
}

var metaSuffixRe = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

func newTitleIndex(objects []models.LearningObject) *titleIndex {
	idx := &titleIndex{
		exact:      make(map[string]uint, len(objects)),
		normalized: make(map[string]uint, len(objects)),
	}
	for _, obj := range objects {
		idx.exact[obj.Title] = obj.ID
		idx.normalized[normalizeTitle(obj.Title)] = obj.ID
	}
	return idx
}

func (idx *titleIndex) resolve(title string) (uint, bool) {
	if id, ok := idx.exact[title]; ok {
		return id, true
	}
	if id, ok := idx.normalized[normalizeTitle(title)]; ok {
		return id, true
	}
	return 0, false
}

func normalizeTitle(title string) string {
	title = metaSuffixRe.ReplaceAllString(title, "")
	title = strings.ToLower(strings.TrimSpace(title))
	return strings.Join(strings.Fields(title), " ")
}

// FallbackEdges derives relationships from structure alone: is_type_of
// chains within type groups, prerequisite edges between content-adjacent
// objects, and relates_to edges for keyword overlap. Deterministic for a
// given object list.
func FallbackEdges(objects []models.LearningObject) []models.ConceptRelationship {
	var edges []models.ConceptRelationship
	seen := make(map[string]bool)

	add := func(edge models.ConceptRelationship) {
		if edge.SourceID == edge.TargetID {
			return
		}
		key := edgeKey(edge)
		if seen[key] {
			return
		}
		seen[key] = true
		edges = append(edges, edge)
	}

	// Objects sharing a type form a chain in extraction order.
	byType := make(map[models.LearningObjectType][]models.LearningObject)
	var typeOrder []models.LearningObjectType
	for _, obj := range objects {
		if _, ok := byType[obj.Type]; !ok {
			typeOrder = append(typeOrder, obj.Type)
		}
		byType[obj.Type] = append(byType[obj.Type], obj)
	}
	for _, t := range typeOrder {
		group := byType[t]
		for i := 1; i < len(group); i++ {
			add(models.ConceptRelationship{
				SourceID:         group[i].ID,
				TargetID:         group[i-1].ID,
				RelationshipType: "is_type_of",
				Description:      fmt.Sprintf("Both are %ss in this lesson", t),
			})
		}
	}

	// Content order implies a learning order.
	for i := 1; i < len(objects); i++ {
		add(models.ConceptRelationship{
			SourceID:         objects[i-1].ID,
			TargetID:         objects[i].ID,
			RelationshipType: "prerequisite",
			Description:      "Appears earlier in the lesson sequence",
		})
	}

	// Shared keywords imply a topical link.
	for i := range objects {
		for j := i + 1; j < len(objects); j++ {
			if sharedKeyword(objects[i], objects[j]) {
				add(models.ConceptRelationship{
					SourceID:         objects[i].ID,
					TargetID:         objects[j].ID,
					RelationshipType: "relates_to",
					Description:      "Shares at least one keyword",
				})
			}
		}
	}

	return edges
}

func sharedKeyword(a, b models.LearningObject) bool {
	set := make(map[string]bool)
	for _, w := range a.KeywordSet() {
		set[strings.ToLower(w)] = true
	}
	for _, w := range b.KeywordSet() {
		if set[strings.ToLower(w)] {
			return true
		}
	}
	return false
}
