package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	GradePrimary = "primary"
	GradeJunior  = "junior"
	GradeSenior  = "senior"
	GradeCollege = "college"
)

func ValidGrade(g string) bool {
	switch g {
	case GradePrimary, GradeJunior, GradeSenior, GradeCollege:
		return true
	}
	return false
}

// Essay is one user submission. Its status/score mirror the latest non-deleted
// completed Correction; the Correction row is always the source of truth.
type Essay struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Title   string    `gorm:"column:title" json:"title"`
	Content string    `gorm:"column:content;not null" json:"content"`
	Grade   string    `gorm:"column:grade;not null" json:"grade"`
	Status  string    `gorm:"column:status;not null;default:pending;index" json:"status"`

	Score             *int `gorm:"column:score" json:"score,omitempty"`
	ContentScore      *int `gorm:"column:content_score" json:"content_score,omitempty"`
	LanguageScore     *int `gorm:"column:language_score" json:"language_score,omitempty"`
	StructureScore    *int `gorm:"column:structure_score" json:"structure_score,omitempty"`
	PresentationScore *int `gorm:"column:presentation_score" json:"presentation_score,omitempty"`

	OverallComment      string `gorm:"column:overall_comment" json:"overall_comment,omitempty"`
	ContentComment      string `gorm:"column:content_comment" json:"content_comment,omitempty"`
	LanguageComment     string `gorm:"column:language_comment" json:"language_comment,omitempty"`
	StructureComment    string `gorm:"column:structure_comment" json:"structure_comment,omitempty"`
	PresentationComment string `gorm:"column:presentation_comment" json:"presentation_comment,omitempty"`

	// Version increments on every mutation so out-of-band subsystems can do
	// optimistic-concurrency updates against a stable counter.
	Version   int            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Essay) TableName() string { return "essays" }
