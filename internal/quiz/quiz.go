// Package quiz orchestrates quiz generation: it walks the lesson's content
// units chapter by chapter, requests questions per SOLO level through the
// provider dispatcher, filters duplicates, and checkpoints progress so an
// interrupted run can resume at the first unfinished chapter.
package quiz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"quizforge/internal/chunker"
	"quizforge/internal/config"
	"quizforge/internal/dedup"
	"quizforge/internal/logger"
	"quizforge/internal/models"
	"quizforge/internal/parse"
	"quizforge/internal/prompt"
	"quizforge/internal/provider"
	"quizforge/internal/store"
)

// charsPerQuestion sizes the automatic target: one question per this many
// non-whitespace characters of source text.
const charsPerQuestion = 1200

const (
	minAutoTarget = 4
	maxAutoTarget = 60
)

// Session carries the mutable state of one generation run. The dedup filter
// and the provider rotation state live here so a resumed run keeps both.
type Session struct {
	ID        uuid.UUID
	LessonID  uint
	Dedup     *dedup.Filter
	Providers *provider.Session

	mu         sync.Mutex
	checkpoint Checkpoint
}

// Checkpoint records how far a run got. NextChapterIndex is the first
// chapter that has not been fully processed.
type Checkpoint struct {
	ChaptersCompleted  int
	QuestionsGenerated int
	TargetCount        int
	NextChapterIndex   int
}

func (s *Session) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

func (s *Session) updateCheckpoint(cp Checkpoint) {
	s.mu.Lock()
	s.checkpoint = cp
	s.mu.Unlock()
}

// Request describes one generation run.
type Request struct {
	LessonID          uint
	Levels            []models.SoloLevel // empty means all four
	TargetCount       int                // 0 derives the target from content volume
	ResumeFromChapter int
}

// Result is what a run produced, complete or partial.
type Result struct {
	SessionID         uuid.UUID
	Questions         []models.Question
	Checkpoint        Checkpoint
	Exhausted         bool
	ResumeFromChapter *int // set when the run stopped early
}

// Service owns generation sessions and runs the chapter loop.
type Service struct {
	dispatcher *provider.Dispatcher
	store      *store.Store
	chunkCfg   chunker.Config
	gen        config.Generation
	log        *logger.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewService(dispatcher *provider.Dispatcher, st *store.Store, chunkCfg chunker.Config, gen config.Generation, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		dispatcher: dispatcher,
		store:      st,
		chunkCfg:   chunkCfg,
		gen:        gen,
		log:        log,
		sessions:   make(map[uuid.UUID]*Session),
	}
}

// NewSession registers a fresh session for a lesson.
func (s *Service) NewSession(lessonID uint) *Session {
	sess := &Session{
		ID:        uuid.New(),
		LessonID:  lessonID,
		Dedup:     dedup.New(s.gen.OverlapThreshold),
		Providers: provider.NewSession(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Session returns a previously registered session, for resuming.
func (s *Service) Session(id uuid.UUID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Generate runs the chapter loop for req against the given lesson text.
// When the provider pool is exhausted mid-run, everything accepted so far is
// already persisted and the result carries a resume index; calling Generate
// again with a fresh session and that index continues the run.
func (s *Service) Generate(ctx context.Context, sess *Session, req Request, lessonText string) (*Result, error) {
	levels := req.Levels
	if len(levels) == 0 {
		levels = models.AllLevels
	}
	for _, level := range levels {
		if !level.Valid() {
			return nil, fmt.Errorf("invalid solo level %q", level)
		}
	}

	units := chunker.Split(lessonText, s.chunkCfg)
	if len(units) == 0 {
		return nil, fmt.Errorf("lesson %d has no usable content", req.LessonID)
	}
	if req.ResumeFromChapter < 0 || req.ResumeFromChapter >= len(units) {
		return nil, fmt.Errorf("resume chapter %d out of range [0,%d)", req.ResumeFromChapter, len(units))
	}

	target := req.TargetCount
	if target <= 0 {
		target = autoTarget(lessonText)
	}

	extra := s.questionContext(ctx, sess, levels, req.LessonID, lessonText)

	result := &Result{SessionID: sess.ID, Checkpoint: Checkpoint{TargetCount: target}}
	meanDensity := averageDensity(units)

	for idx := req.ResumeFromChapter; idx < len(units); idx++ {
		remaining := target - len(result.Questions)
		if remaining <= 0 {
			break
		}
		unit := units[idx]
		quota := chapterQuota(target, len(units), unit.Density, meanDensity, s.gen)
		if quota > remaining {
			quota = remaining
		}

		accepted, exhausted := s.generateChapter(ctx, sess, unit, levels, quota, req.LessonID, extra)
		if len(accepted) > 0 {
			if err := s.store.BulkInsertQuestions(ctx, accepted); err != nil {
				return nil, fmt.Errorf("persist chapter %d questions: %w", idx, err)
			}
			result.Questions = append(result.Questions, accepted...)
		}

		if exhausted {
			cp := Checkpoint{
				ChaptersCompleted:  idx - req.ResumeFromChapter,
				QuestionsGenerated: len(result.Questions),
				TargetCount:        target,
				NextChapterIndex:   idx,
			}
			sess.updateCheckpoint(cp)
			result.Checkpoint = cp
			result.Exhausted = true
			resume := idx
			result.ResumeFromChapter = &resume
			s.log.Warn("provider pool exhausted, returning partial result",
				"session", sess.ID, "chapter", idx, "generated", len(result.Questions))
			return result, nil
		}

		cp := Checkpoint{
			ChaptersCompleted:  idx - req.ResumeFromChapter + 1,
			QuestionsGenerated: len(result.Questions),
			TargetCount:        target,
			NextChapterIndex:   idx + 1,
		}
		sess.updateCheckpoint(cp)
		result.Checkpoint = cp
	}

	s.log.Info("generation complete",
		"session", sess.ID, "lesson", req.LessonID,
		"questions", len(result.Questions), "target", target)
	return result, nil
}

// generateChapter fills one chapter's quota across the requested levels.
// The second return is true when the provider pool ran dry; the chapter is
// then incomplete and must be re-run.
func (s *Service) generateChapter(ctx context.Context, sess *Session, unit chunker.ContentUnit, levels []models.SoloLevel, quota int, lessonID uint, extra prompt.Context) ([]models.Question, bool) {
	var accepted []models.Question
	caps := parse.Caps{QuestionText: s.gen.QuestionTextCap, Explanation: s.gen.ExplanationCap}

	for levelIdx, level := range levels {
		levelTarget := quota / len(levels)
		if levelIdx < quota%len(levels) {
			levelTarget++
		}
		if levelTarget == 0 {
			continue
		}

		got := 0
		budget := levelTarget * s.gen.AttemptMultiplier
		for attempt := 0; attempt < budget && got < levelTarget; attempt++ {
			if sess.Providers.Exhausted() {
				return accepted, true
			}

			content := sliceContent(unit.Text, attempt)
			raw, outcome, err := s.dispatcher.Generate(ctx, sess.Providers, prompt.Question(content, level, extra))
			switch outcome {
			case provider.OutcomeExhausted:
				return accepted, true
			case provider.OutcomeRetryable:
				s.log.Debug("generation attempt failed", "level", string(level), "error", err)
				continue
			}

			q, err := parse.ParseQuestion(raw, level, caps)
			if err != nil {
				s.log.Debug("question rejected", "level", string(level), "error", err)
				continue
			}
			if !sess.Dedup.IsUnique(q.Text) {
				s.log.Debug("duplicate question rejected", "level", string(level))
				continue
			}
			sess.Dedup.Register(q.Text)

			question := models.Question{
				LessonID:     lessonID,
				ChapterIndex: unit.SequenceIndex,
				Text:         q.Text,
				CorrectIndex: q.CorrectIndex,
				Explanation:  q.Explanation,
				SoloLevel:    level,
				BloomLevel:   level.BloomLevel(),
			}
			question.SetOptions(q.Options)
			accepted = append(accepted, question)
			got++
		}

		if got < levelTarget {
			s.log.Info("level quota not met",
				"chapter", unit.SequenceIndex, "level", string(level),
				"wanted", levelTarget, "got", got)
		}
	}

	return accepted, false
}

// questionContext assembles the summary and relationship lines appended to
// relational and extended-abstract prompts. Lower-level-only runs skip the
// extra provider call.
func (s *Service) questionContext(ctx context.Context, sess *Session, levels []models.SoloLevel, lessonID uint, lessonText string) prompt.Context {
	needed := false
	for _, level := range levels {
		if level == models.Relational || level == models.ExtendedAbstract {
			needed = true
			break
		}
	}
	if !needed {
		return prompt.Context{}
	}

	var extra prompt.Context
	if raw, outcome, _ := s.dispatcher.Generate(ctx, sess.Providers, prompt.Summary(lessonText)); outcome == provider.OutcomeOK {
		extra.Summary = strings.TrimSpace(raw)
	}

	rels, err := s.store.RelationshipsForLesson(ctx, lessonID)
	if err != nil {
		s.log.Debug("relationship lookup failed", "lesson", lessonID, "error", err)
		return extra
	}
	objects, err := s.store.ObjectsForLesson(ctx, lessonID)
	if err != nil {
		return extra
	}
	titles := make(map[uint]string, len(objects))
	for _, obj := range objects {
		titles[obj.ID] = obj.Title
	}
	for _, rel := range rels {
		source, ok := titles[rel.SourceID]
		if !ok {
			continue
		}
		target, ok := titles[rel.TargetID]
		if !ok {
			continue
		}
		extra.Relationships = append(extra.Relationships,
			fmt.Sprintf("%s -> %s -> %s", source, rel.RelationshipType, target))
	}
	return extra
}

// autoTarget sizes the run from content volume.
func autoTarget(text string) int {
	chars := 0
	for _, r := range text {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			chars++
		}
	}
	target := chars / charsPerQuestion
	if target < minAutoTarget {
		return minAutoTarget
	}
	if target > maxAutoTarget {
		return maxAutoTarget
	}
	return target
}

// chapterQuota scales an even share of the target by the chapter's density
// relative to the lesson mean, clamped so no chapter dominates or starves.
func chapterQuota(target, chapters int, density, meanDensity float64, gen config.Generation) int {
	nominal := float64(target) / float64(chapters)
	factor := 1.0
	if meanDensity > 0 {
		factor = density / meanDensity
	}
	if factor < gen.MinDensityFactor {
		factor = gen.MinDensityFactor
	}
	if factor > gen.MaxDensityFactor {
		factor = gen.MaxDensityFactor
	}
	quota := int(math.Round(nominal * factor))
	if quota < 1 {
		quota = 1
	}
	return quota
}

func averageDensity(units []chunker.ContentUnit) float64 {
	if len(units) == 0 {
		return 0
	}
	sum := 0.0
	for _, u := range units {
		sum += u.Density
	}
	return sum / float64(len(units))
}

// sliceContent rotates the visible window of a chapter by attempt, so
// repeated attempts against the same chapter see different source material.
func sliceContent(text string, attempt int) string {
	if attempt == 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) < 40 {
		return text
	}
	step := len(words) / 4
	offset := (attempt * step) % (len(words) - step)
	return strings.Join(words[offset:], " ")
}
