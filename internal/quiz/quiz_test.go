package quiz

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"quizforge/internal/chunker"
	"quizforge/internal/config"
	"quizforge/internal/db"
	"quizforge/internal/models"
	"quizforge/internal/provider"
	"quizforge/internal/store"
)

// questionProvider emits a unique well-formed question per call. After
// failAfter successes (when positive) it rate-limits forever, and with
// duplicate set it repeats the same question text every time.
type questionProvider struct {
	calls     int
	successes int
	failAfter int
	duplicate bool
}

func (p *questionProvider) Name() string { return "fake" }

func (p *questionProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.calls++
	if strings.Contains(prompt, "Summarize") {
		return "a short summary of the lesson", nil
	}
	if p.failAfter > 0 && p.successes >= p.failAfter {
		return "", &provider.HTTPError{StatusCode: 429, Body: "quota exceeded"}
	}
	p.successes++
	n := p.successes
	if p.duplicate {
		n = 1
	}
	return fmt.Sprintf(`{
		"question": "Unique question number %d about a fresh topic %d?",
		"options": ["Right answer %d", "Wrong one", "Wrong two", "Wrong three"],
		"correct_answer": "Right answer %d",
		"explanation": "Because option one is correct."
	}`, n, n*13, n, n), nil
}

func (p *questionProvider) Healthy(ctx context.Context) bool { return true }

func testGen() config.Generation {
	return config.Generation{
		AttemptMultiplier: 3,
		OverlapThreshold:  0.7,
		MinDensityFactor:  0.5,
		MaxDensityFactor:  1.25,
		QuestionTextCap:   500,
		ExplanationCap:    700,
	}
}

func newTestService(t *testing.T, p provider.Provider) (*Service, *store.Store, uint) {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	st := store.New(conn)

	lesson := &models.Lesson{Title: "Test", StoredPath: "/tmp/" + t.Name(), Content: "text"}
	if err := st.CreateLesson(context.Background(), lesson); err != nil {
		t.Fatalf("create lesson: %v", err)
	}

	d := provider.NewDispatcher([]provider.Provider{p}, 0, time.Millisecond, time.Second, nil)
	return NewService(d, st, chunker.DefaultConfig(), testGen(), nil), st, lesson.ID
}

// pagedText builds a page-marked document that chunks into one unit per page,
// all of equal density.
func pagedText(pages int) string {
	page := strings.Repeat("substantial lesson material ", 80)
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		fmt.Fprintf(&b, "--- Page %d ---\n%s\n", i, page)
	}
	return b.String()
}

func twoChapterText() string { return pagedText(2) }

func TestGenerateCompleteRun(t *testing.T) {
	p := &questionProvider{}
	svc, st, lessonID := newTestService(t, p)
	sess := svc.NewSession(lessonID)

	result, err := svc.Generate(context.Background(), sess, Request{
		LessonID:    lessonID,
		Levels:      []models.SoloLevel{models.Unistructural, models.Multistructural},
		TargetCount: 4,
	}, twoChapterText())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if result.Exhausted {
		t.Error("run reported exhaustion")
	}
	if result.ResumeFromChapter != nil {
		t.Errorf("complete run carries resume index %d", *result.ResumeFromChapter)
	}
	if len(result.Questions) != 4 {
		t.Errorf("got %d questions, want 4", len(result.Questions))
	}
	if result.Checkpoint.NextChapterIndex != 2 {
		t.Errorf("checkpoint next chapter %d, want 2", result.Checkpoint.NextChapterIndex)
	}

	t.Run("QuestionsPersisted", func(t *testing.T) {
		stored, err := st.QuestionsForLesson(context.Background(), lessonID)
		if err != nil {
			t.Fatalf("load questions: %v", err)
		}
		if len(stored) != 4 {
			t.Fatalf("persisted %d questions, want 4", len(stored))
		}
		for _, q := range stored {
			if q.BloomLevel != q.SoloLevel.BloomLevel() {
				t.Errorf("bloom %q does not follow solo %q", q.BloomLevel, q.SoloLevel)
			}
			if len(q.OptionList()) != 4 {
				t.Errorf("question %d has %d options", q.ID, len(q.OptionList()))
			}
			if q.CorrectIndex != 0 {
				t.Errorf("question %d correct index %d, want 0", q.ID, q.CorrectIndex)
			}
		}
	})

	t.Run("BothChaptersCovered", func(t *testing.T) {
		chapters := map[int]bool{}
		for _, q := range result.Questions {
			chapters[q.ChapterIndex] = true
		}
		if len(chapters) != 2 {
			t.Errorf("questions cover chapters %v, want both", chapters)
		}
	})
}

func TestGenerateStopsAtTarget(t *testing.T) {
	// A small target over many chapters must not be inflated by the
	// per-chapter minimum quota.
	p := &questionProvider{}
	svc, st, lessonID := newTestService(t, p)
	sess := svc.NewSession(lessonID)

	result, err := svc.Generate(context.Background(), sess, Request{
		LessonID:    lessonID,
		Levels:      []models.SoloLevel{models.Unistructural},
		TargetCount: 2,
	}, pagedText(10))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(result.Questions) != 2 {
		t.Fatalf("got %d questions, want the 2 requested", len(result.Questions))
	}
	if result.Exhausted || result.ResumeFromChapter != nil {
		t.Errorf("target-limited run reported exhaustion %v resume %v",
			result.Exhausted, result.ResumeFromChapter)
	}
	if result.Checkpoint.QuestionsGenerated != 2 {
		t.Errorf("checkpoint counts %d questions, want 2", result.Checkpoint.QuestionsGenerated)
	}

	t.Run("NoCallsBeyondTarget", func(t *testing.T) {
		if p.calls != 2 {
			t.Errorf("provider saw %d calls, want 2", p.calls)
		}
	})

	t.Run("LaterChaptersUntouched", func(t *testing.T) {
		stored, err := st.QuestionsForLesson(context.Background(), lessonID)
		if err != nil {
			t.Fatalf("load questions: %v", err)
		}
		if len(stored) != 2 {
			t.Fatalf("persisted %d questions, want 2", len(stored))
		}
		for _, q := range stored {
			if q.ChapterIndex > 1 {
				t.Errorf("question generated for chapter %d after target was met", q.ChapterIndex)
			}
		}
	})
}

func TestGenerateExhaustionCheckpoint(t *testing.T) {
	// Two chapters, one question each; the provider dies after the first.
	p := &questionProvider{failAfter: 1}
	svc, st, lessonID := newTestService(t, p)
	sess := svc.NewSession(lessonID)

	req := Request{
		LessonID:    lessonID,
		Levels:      []models.SoloLevel{models.Unistructural},
		TargetCount: 2,
	}
	result, err := svc.Generate(context.Background(), sess, req, twoChapterText())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !result.Exhausted {
		t.Fatal("expected exhaustion")
	}
	if result.ResumeFromChapter == nil || *result.ResumeFromChapter != 1 {
		t.Fatalf("resume index %v, want 1", result.ResumeFromChapter)
	}
	if result.Checkpoint.NextChapterIndex != 1 {
		t.Errorf("checkpoint next chapter %d, want 1", result.Checkpoint.NextChapterIndex)
	}
	if len(result.Questions) != 1 {
		t.Fatalf("partial result has %d questions, want 1", len(result.Questions))
	}

	t.Run("PartialResultPersisted", func(t *testing.T) {
		stored, err := st.QuestionsForLesson(context.Background(), lessonID)
		if err != nil {
			t.Fatalf("load questions: %v", err)
		}
		if len(stored) != 1 {
			t.Errorf("persisted %d questions, want 1", len(stored))
		}
	})

	t.Run("ResumeContinuesWhereItStopped", func(t *testing.T) {
		p.failAfter = 0
		resumed := svc.NewSession(lessonID)

		req.ResumeFromChapter = *result.ResumeFromChapter
		second, err := svc.Generate(context.Background(), resumed, req, twoChapterText())
		if err != nil {
			t.Fatalf("resume: %v", err)
		}
		if second.Exhausted {
			t.Error("resumed run exhausted")
		}
		for _, q := range second.Questions {
			if q.ChapterIndex != 1 {
				t.Errorf("resumed run touched chapter %d", q.ChapterIndex)
			}
		}

		stored, err := st.QuestionsForLesson(context.Background(), lessonID)
		if err != nil {
			t.Fatalf("load questions: %v", err)
		}
		if len(stored) != 1+len(second.Questions) {
			t.Errorf("persisted %d questions total", len(stored))
		}
	})
}

func TestGenerateDuplicateShortfallIsNonFatal(t *testing.T) {
	p := &questionProvider{duplicate: true}
	svc, _, lessonID := newTestService(t, p)
	sess := svc.NewSession(lessonID)

	result, err := svc.Generate(context.Background(), sess, Request{
		LessonID:    lessonID,
		Levels:      []models.SoloLevel{models.Unistructural},
		TargetCount: 4,
	}, twoChapterText())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// The filter spans the whole session, so only the first occurrence is
	// accepted anywhere in the run.
	if len(result.Questions) != 1 {
		t.Errorf("got %d questions, want 1", len(result.Questions))
	}
	if result.Exhausted {
		t.Error("duplicate rejection must not count as exhaustion")
	}
}

func TestGenerateValidation(t *testing.T) {
	p := &questionProvider{}
	svc, _, lessonID := newTestService(t, p)

	t.Run("InvalidLevel", func(t *testing.T) {
		sess := svc.NewSession(lessonID)
		_, err := svc.Generate(context.Background(), sess, Request{
			LessonID: lessonID,
			Levels:   []models.SoloLevel{"remember"},
		}, twoChapterText())
		if err == nil {
			t.Fatal("expected error for invalid level")
		}
	})

	t.Run("ResumeOutOfRange", func(t *testing.T) {
		sess := svc.NewSession(lessonID)
		_, err := svc.Generate(context.Background(), sess, Request{
			LessonID:          lessonID,
			ResumeFromChapter: 99,
		}, twoChapterText())
		if err == nil {
			t.Fatal("expected error for out-of-range resume index")
		}
	})

	t.Run("EmptyContent", func(t *testing.T) {
		sess := svc.NewSession(lessonID)
		if _, err := svc.Generate(context.Background(), sess, Request{LessonID: lessonID}, "  "); err == nil {
			t.Fatal("expected error for blank lesson text")
		}
	})
}

func TestSessionRegistry(t *testing.T) {
	p := &questionProvider{}
	svc, _, lessonID := newTestService(t, p)

	sess := svc.NewSession(lessonID)
	got, ok := svc.Session(sess.ID)
	if !ok || got != sess {
		t.Error("registered session not retrievable")
	}

	if _, ok := svc.Session(sess.ID); !ok {
		t.Error("session lookup should be repeatable")
	}
}

func TestAutoTarget(t *testing.T) {
	t.Run("ShortTextFloor", func(t *testing.T) {
		if got := autoTarget("tiny"); got != minAutoTarget {
			t.Errorf("got %d, want floor %d", got, minAutoTarget)
		}
	})
	t.Run("HugeTextCeiling", func(t *testing.T) {
		if got := autoTarget(strings.Repeat("x", 500000)); got != maxAutoTarget {
			t.Errorf("got %d, want ceiling %d", got, maxAutoTarget)
		}
	})
	t.Run("ScalesWithVolume", func(t *testing.T) {
		small := autoTarget(strings.Repeat("word ", 3000))
		large := autoTarget(strings.Repeat("word ", 9000))
		if large <= small {
			t.Errorf("target did not grow: %d vs %d", small, large)
		}
	})
}

func TestChapterQuota(t *testing.T) {
	gen := testGen()

	t.Run("DenseChapterGetsMore", func(t *testing.T) {
		sparse := chapterQuota(20, 4, 0.4, 0.8, gen)
		dense := chapterQuota(20, 4, 1.0, 0.8, gen)
		if dense <= sparse {
			t.Errorf("dense %d should exceed sparse %d", dense, sparse)
		}
	})

	t.Run("ClampedBelow", func(t *testing.T) {
		// Density far below the mean clamps at the minimum factor.
		got := chapterQuota(40, 4, 0.01, 1.0, gen)
		want := chapterQuota(40, 4, 0.5, 1.0, gen)
		if got != want {
			t.Errorf("got %d, want clamp result %d", got, want)
		}
	})

	t.Run("ClampedAbove", func(t *testing.T) {
		got := chapterQuota(40, 4, 100.0, 1.0, gen)
		want := chapterQuota(40, 4, 1.25, 1.0, gen)
		if got != want {
			t.Errorf("got %d, want clamp result %d", got, want)
		}
	})

	t.Run("AtLeastOne", func(t *testing.T) {
		if got := chapterQuota(1, 10, 0.1, 1.0, gen); got < 1 {
			t.Errorf("quota %d below one", got)
		}
	})
}
