package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quizforge/internal/api"
	"quizforge/internal/chunker"
	"quizforge/internal/config"
	"quizforge/internal/db"
	"quizforge/internal/extract"
	"quizforge/internal/ontology"
	"quizforge/internal/pdftext"
	"quizforge/internal/provider"
	"quizforge/internal/quiz"
	"quizforge/internal/store"
)

// pipelineProvider serves every prompt kind the pipeline issues, emitting a
// unique question per quiz call.
type pipelineProvider struct {
	mu        sync.Mutex
	questions int
}

func (p *pipelineProvider) Name() string { return "pipeline" }

func (p *pipelineProvider) Generate(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "coherent sections"):
		return `[
			{"title": "Basics", "content": "Heat flows from hot to cold."},
			{"title": "Advanced", "content": "Entropy always increases."}
		]`, nil
	case strings.Contains(prompt, "concept ontology"):
		return `[{"source": "Heat Transfer", "target": "Entropy Growth", "type": "relates_to", "description": "linked"}]`, nil
	case strings.Contains(prompt, "learning objects"):
		return `[
			{"title": "Heat Transfer", "type": "process", "description": "thermal energy movement"},
			{"title": "Entropy Growth", "type": "principle", "description": "disorder increases"}
		]`, nil
	case strings.Contains(prompt, "key points"):
		return `["point one", "point two"]`, nil
	case strings.Contains(prompt, "keywords"):
		return `["heat", "entropy"]`, nil
	case strings.Contains(prompt, "Summarize"):
		return "a compact summary", nil
	case strings.Contains(prompt, "quiz question"):
		p.mu.Lock()
		p.questions++
		n := p.questions
		p.mu.Unlock()
		return fmt.Sprintf(`{
			"question": "Generated question %d about subtopic %d?",
			"options": ["Correct %d", "Wrong a", "Wrong b", "Wrong c"],
			"correct_answer": "Correct %d",
			"explanation": "Because it is."
		}`, n, n*7, n, n), nil
	}
	return "", fmt.Errorf("unhandled prompt")
}

func (p *pipelineProvider) Healthy(ctx context.Context) bool { return true }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	st := store.New(conn)

	d := provider.NewDispatcher([]provider.Provider{&pipelineProvider{}}, 0, time.Millisecond, time.Second, nil)
	chunkCfg := chunker.DefaultConfig()
	gen := config.Generation{
		AttemptMultiplier: 3,
		OverlapThreshold:  0.7,
		MinDensityFactor:  0.5,
		MaxDensityFactor:  1.25,
		QuestionTextCap:   500,
		ExplanationCap:    700,
		MinRelationships:  1,
	}

	server := api.NewServer(
		st,
		pdftext.NewExtractor(),
		extract.NewService(d, chunkCfg, nil),
		quiz.NewService(d, st, chunkCfg, gen, nil),
		ontology.NewExtractor(d, gen.MinRelationships, nil),
		d,
		t.TempDir(),
		nil,
	)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func uploadLesson(t *testing.T, srv *httptest.Server) (lessonID float64, jobID string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "thermo.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(fw, strings.Repeat("heat and entropy lesson material ", 120))
	w.WriteField("title", "Thermodynamics")
	w.Close()

	resp, err := http.Post(srv.URL+"/api/lessons", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	id, ok := out["lessonId"].(float64)
	if !ok {
		t.Fatalf("missing lessonId in %v", out)
	}
	job, ok := out["jobId"].(string)
	if !ok {
		t.Fatalf("missing jobId in %v", out)
	}
	return id, job
}

func waitForJob(t *testing.T, srv *httptest.Server, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var job map[string]any
		getJSON(t, srv.URL+"/api/jobs/"+jobID, &job)
		switch job["status"] {
		case api.JobStatusComplete:
			return job
		case api.JobStatusFailed:
			t.Fatalf("job failed: %v", job["error"])
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return nil
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var out map[string]any
	resp := getJSON(t, srv.URL+"/api/health", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if out["status"] != "ok" {
		t.Errorf("body %v", out)
	}
	if out["providers"].(float64) != 1 {
		t.Errorf("provider count %v", out["providers"])
	}
}

func TestLessonLifecycle(t *testing.T) {
	srv := newTestServer(t)
	lessonID, jobID := uploadLesson(t, srv)
	waitForJob(t, srv, jobID)
	base := fmt.Sprintf("%s/api/lessons/%d", srv.URL, int(lessonID))

	t.Run("GetLesson", func(t *testing.T) {
		var out map[string]any
		resp := getJSON(t, base, &out)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d", resp.StatusCode)
		}
		if out["title"] != "Thermodynamics" {
			t.Errorf("title %v", out["title"])
		}
	})

	t.Run("SectionsExtracted", func(t *testing.T) {
		var out struct {
			Sections []struct {
				Title   string           `json:"title"`
				Objects []map[string]any `json:"objects"`
			} `json:"sections"`
		}
		getJSON(t, base+"/sections", &out)
		if len(out.Sections) != 2 {
			t.Fatalf("got %d sections", len(out.Sections))
		}
		if out.Sections[0].Title != "Basics" {
			t.Errorf("first section %q", out.Sections[0].Title)
		}
		if len(out.Sections[0].Objects) != 2 {
			t.Errorf("got %d objects", len(out.Sections[0].Objects))
		}
	})

	t.Run("OntologyBuildAndExport", func(t *testing.T) {
		var out map[string]any
		resp := postJSON(t, base+"/ontology", nil, &out)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %v", resp.StatusCode, out)
		}
		if out["relationships"].(float64) < 1 {
			t.Error("no relationships created")
		}

		ttlResp, err := http.Get(base + "/ontology?format=turtle")
		if err != nil {
			t.Fatalf("export: %v", err)
		}
		defer ttlResp.Body.Close()
		if ct := ttlResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/turtle") {
			t.Errorf("content type %q", ct)
		}
	})

	t.Run("QuizGeneration", func(t *testing.T) {
		var out map[string]any
		resp := postJSON(t, base+"/quiz", map[string]any{
			"levels":      []string{"unistructural", "multistructural"},
			"targetCount": 4,
		}, &out)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status %d: %v", resp.StatusCode, out)
		}
		if out["sessionId"] == "" {
			t.Error("missing session id")
		}

		job := waitForJob(t, srv, out["jobId"].(string))
		if job["questionCount"].(float64) < 1 {
			t.Errorf("job reported %v questions", job["questionCount"])
		}

		var questions struct {
			Questions []struct {
				Question     string   `json:"question"`
				Options      []string `json:"options"`
				SoloLevel    string   `json:"soloLevel"`
				CorrectIndex int      `json:"correctIndex"`
			} `json:"questions"`
		}
		getJSON(t, base+"/questions", &questions)
		if len(questions.Questions) == 0 {
			t.Fatal("no questions persisted")
		}
		for _, q := range questions.Questions {
			if len(q.Options) != 4 {
				t.Errorf("question %q has %d options", q.Question, len(q.Options))
			}
		}
	})
}

func TestLessonErrors(t *testing.T) {
	srv := newTestServer(t)

	t.Run("UnknownLesson", func(t *testing.T) {
		resp := getJSON(t, srv.URL+"/api/lessons/424242", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("BadLessonID", func(t *testing.T) {
		resp := getJSON(t, srv.URL+"/api/lessons/abc", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, want 400", resp.StatusCode)
		}
	})

	t.Run("UploadWithoutFile", func(t *testing.T) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		w.WriteField("title", "no file")
		w.Close()
		resp, err := http.Post(srv.URL+"/api/lessons", w.FormDataContentType(), &buf)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, want 400", resp.StatusCode)
		}
	})

	t.Run("InvalidQuizLevel", func(t *testing.T) {
		lessonID, jobID := uploadLesson(t, srv)
		waitForJob(t, srv, jobID)
		resp := postJSON(t, fmt.Sprintf("%s/api/lessons/%d/quiz", srv.URL, int(lessonID)),
			map[string]any{"levels": []string{"bogus"}}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status %d, want 400", resp.StatusCode)
		}
	})

	t.Run("OntologyForUnknownLesson", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/lessons/424242/ontology", nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("UnknownJob", func(t *testing.T) {
		resp := getJSON(t, srv.URL+"/api/jobs/not-a-job", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status %d, want 404", resp.StatusCode)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/health", nil, nil)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status %d, want 405", resp.StatusCode)
		}
	})
}
