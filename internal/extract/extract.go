// Package extract turns lesson text into sections and learning objects via
// model-assisted passes, with structural fallbacks when the model output is
// unusable.
package extract

import (
	"context"
	"fmt"

	"quizforge/internal/chunker"
	"quizforge/internal/logger"
	"quizforge/internal/models"
	"quizforge/internal/parse"
	"quizforge/internal/prompt"
	"quizforge/internal/provider"
)

// parseAttempts bounds regenerate-and-retry on malformed output per call.
const parseAttempts = 2

// Service runs the extraction passes. Enrichment passes mutate the same
// learning object additively; a provider-exhausted session simply stops
// enriching and returns what it has.
type Service struct {
	dispatcher *provider.Dispatcher
	chunkCfg   chunker.Config
	log        *logger.Logger
}

func NewService(dispatcher *provider.Dispatcher, chunkCfg chunker.Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{dispatcher: dispatcher, chunkCfg: chunkCfg, log: log}
}

// Sections extracts titled sections with their learning objects from lesson
// text. Model-based splitting is attempted first; a structural fallback over
// the chunker guarantees a non-empty result for non-blank input.
func (s *Service) Sections(ctx context.Context, sess *provider.Session, lessonText string) ([]models.Section, error) {
	candidates := s.modelSections(ctx, sess, lessonText)
	if len(candidates) < 2 {
		candidates = s.fallbackSections(lessonText)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no sections could be derived from lesson text")
	}

	sections := make([]models.Section, 0, len(candidates))
	for i, cand := range candidates {
		section := models.Section{
			Title:         cand.Title,
			Content:       cand.Content,
			SequenceIndex: i,
		}
		section.Objects = s.objectsForSection(ctx, sess, cand)
		sections = append(sections, section)
	}
	return sections, nil
}

func (s *Service) modelSections(ctx context.Context, sess *provider.Session, lessonText string) []parse.SectionCandidate {
	raw, ok := s.generate(ctx, sess, prompt.Sections(lessonText))
	if !ok {
		return nil
	}
	candidates, err := parse.ParseSections(raw)
	if err != nil {
		s.log.Debug("section extraction output unusable", "error", err)
		return nil
	}
	return candidates
}

// fallbackSections derives sections structurally when the model cannot.
func (s *Service) fallbackSections(lessonText string) []parse.SectionCandidate {
	units := chunker.Split(lessonText, s.chunkCfg)
	candidates := make([]parse.SectionCandidate, 0, len(units))
	for _, unit := range units {
		title := fmt.Sprintf("Part %d", unit.SequenceIndex+1)
		if unit.HasPages() {
			title = fmt.Sprintf("Pages %d-%d", unit.PageStart, unit.PageEnd)
		}
		candidates = append(candidates, parse.SectionCandidate{
			Title:   title,
			Content: unit.Text,
		})
	}
	return candidates
}

// objectsForSection runs the object pass plus the key-point and keyword
// enrichment passes for one section.
func (s *Service) objectsForSection(ctx context.Context, sess *provider.Session, sec parse.SectionCandidate) []models.LearningObject {
	raw, ok := s.generate(ctx, sess, prompt.Objects(sec.Title, sec.Content))
	if !ok {
		return nil
	}
	candidates, err := parse.ParseObjects(raw)
	if err != nil {
		s.log.Debug("object extraction output unusable", "section", sec.Title, "error", err)
		return nil
	}

	objects := make([]models.LearningObject, 0, len(candidates))
	for _, cand := range candidates {
		obj := models.LearningObject{
			Title:       cand.Title,
			Type:        models.NormalizeObjectType(cand.Type),
			Description: cand.Description,
		}
		s.enrich(ctx, sess, &obj, sec.Content)
		objects = append(objects, obj)
	}
	return objects
}

// enrich runs the additive key-point and keyword passes on one object.
// Failures leave the corresponding field empty rather than dropping the
// object.
func (s *Service) enrich(ctx context.Context, sess *provider.Session, obj *models.LearningObject, sectionContent string) {
	if raw, ok := s.generate(ctx, sess, prompt.KeyPoints(obj.Title, obj.Description, sectionContent)); ok {
		if points, err := parse.ParseStringList(raw); err == nil {
			obj.SetKeyPoints(points)
		}
	}
	if raw, ok := s.generate(ctx, sess, prompt.Keywords(obj.Title, sectionContent)); ok {
		if words, err := parse.ParseStringList(raw); err == nil {
			obj.SetKeywords(words)
		}
	}
}

// generate dispatches with a small attempt budget for parse-side retries.
// The bool result is false once the session is exhausted or attempts run out.
func (s *Service) generate(ctx context.Context, sess *provider.Session, p string) (string, bool) {
	for attempt := 0; attempt < parseAttempts; attempt++ {
		if sess.Exhausted() {
			return "", false
		}
		text, outcome, err := s.dispatcher.Generate(ctx, sess, p)
		switch outcome {
		case provider.OutcomeOK:
			return text, true
		case provider.OutcomeExhausted:
			return "", false
		default:
			s.log.Debug("generation attempt failed", "attempt", attempt+1, "error", err)
		}
	}
	return "", false
}
