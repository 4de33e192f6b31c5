package models

import (
	"encoding/json"
	"time"
)

// SoloLevel names one tier of the SOLO taxonomy.
type SoloLevel string

const (
	Unistructural    SoloLevel = "unistructural"
	Multistructural  SoloLevel = "multistructural"
	Relational       SoloLevel = "relational"
	ExtendedAbstract SoloLevel = "extended_abstract"
)

// AllLevels lists the taxonomy tiers in ascending cognitive order.
var AllLevels = []SoloLevel{Unistructural, Multistructural, Relational, ExtendedAbstract}

// Valid reports whether the level is one of the four known tiers.
func (l SoloLevel) Valid() bool {
	switch l {
	case Unistructural, Multistructural, Relational, ExtendedAbstract:
		return true
	}
	return false
}

// BloomLevel returns the Bloom taxonomy tier derived 1:1 from the SOLO tier.
func (l SoloLevel) BloomLevel() string {
	switch l {
	case Unistructural:
		return "remember"
	case Multistructural:
		return "understand"
	case Relational:
		return "analyze"
	case ExtendedAbstract:
		return "create"
	}
	return "remember"
}

// LearningObjectType is the normalized vocabulary of extracted knowledge units.
type LearningObjectType string

const (
	TypeConcept    LearningObjectType = "concept"
	TypeDefinition LearningObjectType = "definition"
	TypeProcedure  LearningObjectType = "procedure"
	TypeExample    LearningObjectType = "example"
	TypePrinciple  LearningObjectType = "principle"
	TypeFact       LearningObjectType = "fact"
	TypeTheory     LearningObjectType = "theory"
	TypeProcess    LearningObjectType = "process"
)

// NormalizeObjectType maps free-form model output onto the known vocabulary,
// defaulting to concept.
func NormalizeObjectType(raw string) LearningObjectType {
	switch LearningObjectType(raw) {
	case TypeConcept, TypeDefinition, TypeProcedure, TypeExample,
		TypePrinciple, TypeFact, TypeTheory, TypeProcess:
		return LearningObjectType(raw)
	}
	return TypeConcept
}

// Lesson is one ingested source document.
type Lesson struct {
	ID         uint   `gorm:"primaryKey"`
	Title      string `gorm:"not null"`
	StoredPath string `gorm:"uniqueIndex"`
	Content    string // full text, page sentinels included when known
	PageCount  int
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Sections []Section `gorm:"constraint:OnDelete:CASCADE"`
}

// Section is a structural slice of a lesson owning its learning objects.
type Section struct {
	ID            uint `gorm:"primaryKey"`
	LessonID      uint `gorm:"index;not null"`
	Title         string
	Content       string
	SequenceIndex int
	CreatedAt     time.Time

	Objects []LearningObject `gorm:"constraint:OnDelete:CASCADE"`
}

// LearningObject is an atomic extracted knowledge unit. Key points and
// keywords are JSON-encoded text columns; the typed accessors keep callers
// away from the encoding.
type LearningObject struct {
	ID          uint               `gorm:"primaryKey"`
	SectionID   uint               `gorm:"index;not null"`
	Title       string             `gorm:"not null"`
	Type        LearningObjectType `gorm:"not null;default:concept"`
	Description string
	KeyPoints   string // JSON array, ordered
	Keywords    string // JSON array, set semantics
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KeyPointList decodes the ordered key points.
func (o *LearningObject) KeyPointList() []string {
	return decodeStringList(o.KeyPoints)
}

// SetKeyPoints encodes the ordered key points.
func (o *LearningObject) SetKeyPoints(points []string) {
	o.KeyPoints = encodeStringList(points)
}

// KeywordSet decodes the keywords.
func (o *LearningObject) KeywordSet() []string {
	return decodeStringList(o.Keywords)
}

// SetKeywords encodes the keywords, dropping duplicates while keeping order.
func (o *LearningObject) SetKeywords(words []string) {
	seen := make(map[string]bool, len(words))
	var unique []string
	for _, w := range words {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		unique = append(unique, w)
	}
	o.Keywords = encodeStringList(unique)
}

// ConceptRelationship is a directed typed edge between two learning objects.
// Source and target must differ and must reference objects from the same
// extraction run; the ontology package enforces both before persistence.
type ConceptRelationship struct {
	ID               uint   `gorm:"primaryKey"`
	LessonID         uint   `gorm:"index;not null"`
	SourceID         uint   `gorm:"not null"`
	TargetID         uint   `gorm:"not null"`
	RelationshipType string `gorm:"not null"`
	Description      string
	CreatedAt        time.Time
}

// Question is one persisted quiz item.
type Question struct {
	ID           uint      `gorm:"primaryKey"`
	LessonID     uint      `gorm:"index;not null"`
	ChapterIndex int       // index of the content unit the question was generated from
	Text         string    `gorm:"not null"`
	Options      string    `gorm:"not null"` // JSON array of exactly 4 strings
	CorrectIndex int       `gorm:"not null"`
	Explanation  string
	SoloLevel    SoloLevel `gorm:"not null"`
	BloomLevel   string    `gorm:"not null"`
	CreatedAt    time.Time
}

// OptionList decodes the four answer options.
func (q *Question) OptionList() []string {
	return decodeStringList(q.Options)
}

// SetOptions encodes the answer options.
func (q *Question) SetOptions(options []string) {
	q.Options = encodeStringList(options)
}

func encodeStringList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}
