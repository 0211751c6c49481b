package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CorrectionKindAutomated = "automated"
	// CorrectionKindHuman is reserved for a manual review lane.
	CorrectionKindHuman = "human"
)

// Correction is one scoring attempt against an essay. Retries and
// resubmissions create new rows; a failed attempt is never mutated back into
// processing. At most one non-deleted row per essay may be completed.
type Correction struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EssayID uuid.UUID `gorm:"type:uuid;not null;index" json:"essay_id"`
	Essay   *Essay    `gorm:"constraint:OnDelete:CASCADE;foreignKey:EssayID;references:ID" json:"essay,omitempty"`
	Kind    string    `gorm:"column:kind;not null;default:automated" json:"kind"`
	Status  string    `gorm:"column:status;not null;default:pending;index" json:"status"`

	Score             *int `gorm:"column:score" json:"score,omitempty"`
	ContentScore      *int `gorm:"column:content_score" json:"content_score,omitempty"`
	LanguageScore     *int `gorm:"column:language_score" json:"language_score,omitempty"`
	StructureScore    *int `gorm:"column:structure_score" json:"structure_score,omitempty"`
	PresentationScore *int `gorm:"column:presentation_score" json:"presentation_score,omitempty"`

	// Results holds the full ScoreResult as produced by the interpreter,
	// including flagged lexical errors and narrative text.
	Results      datatypes.JSON `gorm:"column:results;type:jsonb" json:"results,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	RetryCount   int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`

	Version   int            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Correction) TableName() string { return "corrections" }
