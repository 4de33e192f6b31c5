package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"quizforge/internal/models"
)

var (
	// ErrLessonNotFound indicates an unknown lesson id.
	ErrLessonNotFound = errors.New("lesson not found")
)

// Store is the persistence collaborator for the pipeline. Every write either
// fully succeeds or surfaces an error; the pipeline never retries storage
// failures because partial writes would corrupt the lesson graph.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateLesson persists a newly ingested document.
func (s *Store) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	if err := s.db.WithContext(ctx).Create(lesson).Error; err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// GetLesson loads one lesson by id.
func (s *Store) GetLesson(ctx context.Context, id uint) (*models.Lesson, error) {
	var lesson models.Lesson
	err := s.db.WithContext(ctx).First(&lesson, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load lesson %d: %w", id, err)
	}
	return &lesson, nil
}

// ListLessons returns lessons newest-first.
func (s *Store) ListLessons(ctx context.Context, limit int) ([]models.Lesson, error) {
	var lessons []models.Lesson
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&lessons).Error; err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// ReplaceSections atomically swaps a lesson's sections (and their learning
// objects, via cascade) for a freshly extracted set.
func (s *Store) ReplaceSections(ctx context.Context, lessonID uint, sections []models.Section) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lesson_id = ?", lessonID).Delete(&models.Section{}).Error; err != nil {
			return fmt.Errorf("clear sections: %w", err)
		}
		for i := range sections {
			sections[i].LessonID = lessonID
			if err := tx.Create(&sections[i]).Error; err != nil {
				return fmt.Errorf("insert section %q: %w", sections[i].Title, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace sections for lesson %d: %w", lessonID, err)
	}
	return nil
}

// SectionsForLesson loads sections with their learning objects, in sequence
// order. Reading existing sections lets callers skip re-parsing a lesson.
func (s *Store) SectionsForLesson(ctx context.Context, lessonID uint) ([]models.Section, error) {
	var sections []models.Section
	err := s.db.WithContext(ctx).
		Preload("Objects").
		Where("lesson_id = ?", lessonID).
		Order("sequence_index ASC").
		Find(&sections).Error
	if err != nil {
		return nil, fmt.Errorf("load sections for lesson %d: %w", lessonID, err)
	}
	return sections, nil
}

// ObjectsForLesson flattens all learning objects of a lesson in section order.
func (s *Store) ObjectsForLesson(ctx context.Context, lessonID uint) ([]models.LearningObject, error) {
	sections, err := s.SectionsForLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	var objects []models.LearningObject
	for _, sec := range sections {
		objects = append(objects, sec.Objects...)
	}
	return objects, nil
}

// UpdateObject persists enrichment-pass mutations on a learning object.
func (s *Store) UpdateObject(ctx context.Context, obj *models.LearningObject) error {
	if err := s.db.WithContext(ctx).Save(obj).Error; err != nil {
		return fmt.Errorf("update learning object %d: %w", obj.ID, err)
	}
	return nil
}

// BulkInsertQuestions persists a batch of accepted questions in one
// transaction.
func (s *Store) BulkInsertQuestions(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&questions).Error; err != nil {
		return fmt.Errorf("insert %d questions: %w", len(questions), err)
	}
	return nil
}

// QuestionsForLesson returns persisted questions grouped by creation order.
func (s *Store) QuestionsForLesson(ctx context.Context, lessonID uint) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("chapter_index ASC, id ASC").
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("load questions for lesson %d: %w", lessonID, err)
	}
	return questions, nil
}

// ReplaceRelationships swaps the lesson's concept relationships for a new set.
func (s *Store) ReplaceRelationships(ctx context.Context, lessonID uint, rels []models.ConceptRelationship) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lesson_id = ?", lessonID).Delete(&models.ConceptRelationship{}).Error; err != nil {
			return fmt.Errorf("clear relationships: %w", err)
		}
		for i := range rels {
			rels[i].LessonID = lessonID
		}
		if len(rels) == 0 {
			return nil
		}
		if err := tx.Create(&rels).Error; err != nil {
			return fmt.Errorf("insert relationships: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace relationships for lesson %d: %w", lessonID, err)
	}
	return nil
}

// RelationshipsForLesson loads the lesson's concept relationships.
func (s *Store) RelationshipsForLesson(ctx context.Context, lessonID uint) ([]models.ConceptRelationship, error) {
	var rels []models.ConceptRelationship
	err := s.db.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("id ASC").
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("load relationships for lesson %d: %w", lessonID, err)
	}
	return rels, nil
}
