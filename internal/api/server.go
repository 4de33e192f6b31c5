// Package api exposes the lesson pipeline over HTTP: upload, extraction
// jobs, quiz generation, and ontology export.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"quizforge/internal/extract"
	"quizforge/internal/logger"
	"quizforge/internal/models"
	"quizforge/internal/ontology"
	"quizforge/internal/pdftext"
	"quizforge/internal/provider"
	"quizforge/internal/quiz"
	"quizforge/internal/store"
)

const maxMultipartMemory = 8 << 20 // 8 MB

type Server struct {
	mux        *http.ServeMux
	store      *store.Store
	texts      *pdftext.Extractor
	sections   *extract.Service
	quizzes    *quiz.Service
	ontologies *ontology.Extractor
	dispatcher *provider.Dispatcher
	uploadDir  string
	jobs       *JobManager
	log        *logger.Logger
}

func NewServer(
	st *store.Store,
	texts *pdftext.Extractor,
	sections *extract.Service,
	quizzes *quiz.Service,
	ontologies *ontology.Extractor,
	dispatcher *provider.Dispatcher,
	uploadDir string,
	log *logger.Logger,
) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		mux:        http.NewServeMux(),
		store:      st,
		texts:      texts,
		sections:   sections,
		quizzes:    quizzes,
		ontologies: ontologies,
		dispatcher: dispatcher,
		uploadDir:  uploadDir,
		jobs:       NewJobManager(),
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/lessons", s.handleLessons)
	s.mux.HandleFunc("/api/lessons/", s.handleLessonActions)
	s.mux.HandleFunc("/api/jobs", s.handleListJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.dispatcher.Providers(),
	})
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listLessons(w, r)
	case http.MethodPost:
		s.uploadLesson(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) listLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.store.ListLessons(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(lessons))
	for _, lesson := range lessons {
		out = append(out, map[string]any{
			"id":        lesson.ID,
			"title":     lesson.Title,
			"pageCount": lesson.PageCount,
			"createdAt": lesson.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"lessons": out})
}

func (s *Server) uploadLesson(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	storedPath, err := s.saveUpload(file, header)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("store upload: %v", err))
		return
	}

	text, pageCount, err := s.texts.Extract(storedPath)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("extract text: %v", err))
		return
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusUnprocessableEntity, "document contains no extractable text")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	lesson := &models.Lesson{
		Title:      title,
		StoredPath: storedPath,
		Content:    text,
		PageCount:  pageCount,
	}
	if err := s.store.CreateLesson(r.Context(), lesson); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := s.jobs.Create("ingestion", lesson.ID)
	go s.runIngestion(job.ID, lesson)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"lessonId":  lesson.ID,
		"jobId":     job.ID,
		"pageCount": pageCount,
	})
}

func (s *Server) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(s.uploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// runIngestion drives the section and learning-object extraction passes in
// the background. Progress lands in the job record the client polls.
func (s *Server) runIngestion(jobID string, lesson *models.Lesson) {
	ctx := context.Background()
	s.jobs.MarkProcessing(jobID)
	s.jobs.UpdateProgress(jobID, "sections", "Extracting sections and learning objects", 10)

	sess := provider.NewSession()
	sections, err := s.sections.Sections(ctx, sess, lesson.Content)
	if err != nil {
		s.jobs.MarkFailed(jobID, err.Error())
		s.log.Error("ingestion failed", "lesson", lesson.ID, "error", err)
		return
	}

	s.jobs.UpdateProgress(jobID, "persist", "Saving extracted structure", 80)
	if err := s.store.ReplaceSections(ctx, lesson.ID, sections); err != nil {
		s.jobs.MarkFailed(jobID, err.Error())
		s.log.Error("ingestion persist failed", "lesson", lesson.ID, "error", err)
		return
	}

	objects := 0
	for _, sec := range sections {
		objects += len(sec.Objects)
	}
	s.jobs.MarkComplete(jobID, func(job *Job) {
		job.Message = fmt.Sprintf("Extracted %d sections, %d learning objects", len(sections), objects)
	})
	s.log.Info("ingestion complete", "lesson", lesson.ID, "sections", len(sections), "objects", objects)
}

func (s *Server) handleLessonActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/lessons/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lesson id")
		return
	}
	lessonID := uint(id)

	action := ""
	if len(parts) == 2 {
		action = strings.Trim(parts[1], "/")
	}

	switch action {
	case "":
		s.getLesson(w, r, lessonID)
	case "sections":
		s.getSections(w, r, lessonID)
	case "questions":
		s.getQuestions(w, r, lessonID)
	case "quiz":
		s.startQuiz(w, r, lessonID)
	case "ontology":
		s.handleOntology(w, r, lessonID)
	default:
		writeError(w, http.StatusNotFound, "unknown lesson action")
	}
}

func (s *Server) getLesson(w http.ResponseWriter, r *http.Request, lessonID uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	lesson, err := s.store.GetLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, store.ErrLessonNotFound) {
			writeError(w, http.StatusNotFound, "lesson not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        lesson.ID,
		"title":     lesson.Title,
		"pageCount": lesson.PageCount,
		"createdAt": lesson.CreatedAt,
	})
}

func (s *Server) getSections(w http.ResponseWriter, r *http.Request, lessonID uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sections, err := s.store.SectionsForLesson(r.Context(), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(sections))
	for _, sec := range sections {
		objects := make([]map[string]any, 0, len(sec.Objects))
		for _, obj := range sec.Objects {
			objects = append(objects, map[string]any{
				"id":          obj.ID,
				"title":       obj.Title,
				"type":        obj.Type,
				"description": obj.Description,
				"keyPoints":   obj.KeyPointList(),
				"keywords":    obj.KeywordSet(),
			})
		}
		out = append(out, map[string]any{
			"id":      sec.ID,
			"title":   sec.Title,
			"index":   sec.SequenceIndex,
			"objects": objects,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": out})
}

func (s *Server) getQuestions(w http.ResponseWriter, r *http.Request, lessonID uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	questions, err := s.store.QuestionsForLesson(r.Context(), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		out = append(out, map[string]any{
			"id":           q.ID,
			"chapterIndex": q.ChapterIndex,
			"question":     q.Text,
			"options":      q.OptionList(),
			"correctIndex": q.CorrectIndex,
			"explanation":  q.Explanation,
			"soloLevel":    q.SoloLevel,
			"bloomLevel":   q.BloomLevel,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": out})
}

type quizRequest struct {
	Levels            []string `json:"levels"`
	TargetCount       int      `json:"targetCount"`
	SessionID         string   `json:"sessionId"`
	ResumeFromChapter int      `json:"resumeFromChapter"`
}

func (s *Server) startQuiz(w http.ResponseWriter, r *http.Request, lessonID uint) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req quizRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	levels := make([]models.SoloLevel, 0, len(req.Levels))
	for _, raw := range req.Levels {
		level := models.SoloLevel(strings.ToLower(strings.TrimSpace(raw)))
		if !level.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid solo level %q", raw))
			return
		}
		levels = append(levels, level)
	}

	lesson, err := s.store.GetLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, store.ErrLessonNotFound) {
			writeError(w, http.StatusNotFound, "lesson not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var sess *quiz.Session
	if req.SessionID != "" {
		sid, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		existing, ok := s.quizzes.Session(sid)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		sess = existing
	} else {
		sess = s.quizzes.NewSession(lessonID)
	}

	job := s.jobs.Create("quiz", lessonID)
	genReq := quiz.Request{
		LessonID:          lessonID,
		Levels:            levels,
		TargetCount:       req.TargetCount,
		ResumeFromChapter: req.ResumeFromChapter,
	}
	go s.runQuiz(job.ID, sess, genReq, lesson.Content)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":     job.ID,
		"sessionId": sess.ID.String(),
	})
}

func (s *Server) runQuiz(jobID string, sess *quiz.Session, req quiz.Request, lessonText string) {
	ctx := context.Background()
	s.jobs.MarkProcessing(jobID)
	s.jobs.UpdateProgress(jobID, "generate", "Generating questions", 5)

	result, err := s.quizzes.Generate(ctx, sess, req, lessonText)
	if err != nil {
		s.jobs.MarkFailed(jobID, err.Error())
		s.log.Error("quiz generation failed", "lesson", req.LessonID, "error", err)
		return
	}

	s.jobs.MarkComplete(jobID, func(job *Job) {
		job.SessionID = result.SessionID.String()
		job.QuestionCount = len(result.Questions)
		job.TargetCount = result.Checkpoint.TargetCount
		job.Exhausted = result.Exhausted
		job.ResumeFromChapter = result.ResumeFromChapter
		if result.Exhausted {
			job.Message = "Provider quota exhausted, partial result saved"
		} else {
			job.Message = fmt.Sprintf("Generated %d questions", len(result.Questions))
		}
	})
}

func (s *Server) handleOntology(w http.ResponseWriter, r *http.Request, lessonID uint) {
	switch r.Method {
	case http.MethodPost:
		s.buildOntology(w, r, lessonID)
	case http.MethodGet:
		s.exportOntology(w, r, lessonID)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) buildOntology(w http.ResponseWriter, r *http.Request, lessonID uint) {
	lesson, err := s.store.GetLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, store.ErrLessonNotFound) {
			writeError(w, http.StatusNotFound, "lesson not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	objects, err := s.store.ObjectsForLesson(r.Context(), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(objects) < 2 {
		writeError(w, http.StatusConflict, "lesson needs at least two learning objects; run ingestion first")
		return
	}

	edges := s.ontologies.Extract(r.Context(), provider.NewSession(), objects, lesson.Content)
	if err := s.store.ReplaceRelationships(r.Context(), lessonID, edges); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lessonId":      lessonID,
		"relationships": len(edges),
	})
}

func (s *Server) exportOntology(w http.ResponseWriter, r *http.Request, lessonID uint) {
	objects, err := s.store.ObjectsForLesson(r.Context(), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	edges, err := s.store.RelationshipsForLesson(r.Context(), lessonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "turtle", "ttl":
		w.Header().Set("Content-Type", "text/turtle; charset=utf-8")
		fmt.Fprint(w, ontology.ExportTurtle(objects, edges))
	case "owl":
		w.Header().Set("Content-Type", "application/owl+xml; charset=utf-8")
		fmt.Fprint(w, ontology.ExportOWL(objects, edges))
	default:
		titles := make(map[uint]string, len(objects))
		for _, obj := range objects {
			titles[obj.ID] = obj.Title
		}
		out := make([]map[string]any, 0, len(edges))
		for _, edge := range edges {
			out = append(out, map[string]any{
				"source":      titles[edge.SourceID],
				"target":      titles[edge.TargetID],
				"type":        edge.RelationshipType,
				"description": edge.Description,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"relationships": out})
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
