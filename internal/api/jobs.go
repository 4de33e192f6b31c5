package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// Job tracks one long-running operation (lesson ingestion or quiz
// generation) that the client polls.
type Job struct {
	ID        string    `json:"jobId"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	LessonID uint   `json:"lessonId"`
	Step     string `json:"step,omitempty"`
	Message  string `json:"message,omitempty"`
	Percent  int    `json:"percent"`

	// Quiz-specific fields, zero for ingestion jobs.
	SessionID         string `json:"sessionId,omitempty"`
	QuestionCount     int    `json:"questionCount,omitempty"`
	TargetCount       int    `json:"targetCount,omitempty"`
	Exhausted         bool   `json:"exhausted,omitempty"`
	ResumeFromChapter *int   `json:"resumeFromChapter,omitempty"`

	Error string `json:"error,omitempty"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

func (m *JobManager) Create(kind string, lessonID uint) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		LessonID:  lessonID,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job.clone()
}

func (m *JobManager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.clone())
	}
	return out
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *Job) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) UpdateProgress(id, step, message string, percent int) {
	m.withJob(id, func(job *Job) {
		job.Status = JobStatusProcessing
		job.Step = step
		job.Message = message
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		job.Percent = percent
	})
}

func (m *JobManager) MarkComplete(id string, update func(*Job)) {
	m.withJob(id, func(job *Job) {
		job.Status = JobStatusComplete
		job.Step = "complete"
		job.Percent = 100
		if update != nil {
			update(job)
		}
	})
}

func (m *JobManager) MarkFailed(id, msg string) {
	m.withJob(id, func(job *Job) {
		job.Status = JobStatusFailed
		job.Error = strings.TrimSpace(msg)
	})
}

func (m *JobManager) withJob(id string, apply func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	apply(job)
	job.UpdatedAt = time.Now().UTC()
}

func (j *Job) clone() *Job {
	cp := *j
	if j.ResumeFromChapter != nil {
		v := *j.ResumeFromChapter
		cp.ResumeFromChapter = &v
	}
	return &cp
}
