package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/realtime/bus"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

const (
	MinContentRunes = 50
	MaxContentRunes = 10000
	MaxTitleRunes   = 100
)

// Orchestrator drives a submission from acceptance through dispatch, the
// provider call, interpretation and persistence. Every per-attempt error is
// captured onto the Correction row; nothing escapes ProcessAttempt.
type Orchestrator struct {
	db          *gorm.DB
	log         *logger.Logger
	essays      repos.EssayRepo
	corrections repos.CorrectionRepo
	scorer      ScoringClient
	interp      *Interpreter
	registry    *ActiveRegistry
	events      bus.EventBus
	tracer      trace.Tracer

	attemptTimeout time.Duration
}

func NewOrchestrator(
	db *gorm.DB,
	baseLog *logger.Logger,
	essays repos.EssayRepo,
	corrections repos.CorrectionRepo,
	scorer ScoringClient,
	interp *Interpreter,
	registry *ActiveRegistry,
	events bus.EventBus,
	attemptTimeout time.Duration,
) *Orchestrator {
	if attemptTimeout <= 0 {
		attemptTimeout = 3 * time.Minute
	}
	return &Orchestrator{
		db:             db,
		log:            baseLog.With("service", "Orchestrator"),
		essays:         essays,
		corrections:    corrections,
		scorer:         scorer,
		interp:         interp,
		registry:       registry,
		events:         events,
		tracer:         otel.Tracer("orchestrator"),
		attemptTimeout: attemptTimeout,
	}
}

// Submit validates the request, creates the essay and dispatches the first
// correction attempt.
func (o *Orchestrator) Submit(dbc dbctx.Context, userID uuid.UUID, title, content, grade string) (*types.Essay, error) {
	if userID == uuid.Nil {
		return nil, &ValidationError{Field: "user_id", Reason: "missing"}
	}
	n := len([]rune(content))
	if n < MinContentRunes {
		return nil, &ValidationError{Field: "content", Reason: "too short (min 50 characters)"}
	}
	if n > MaxContentRunes {
		return nil, &ValidationError{Field: "content", Reason: "too long (max 10000 characters)"}
	}
	if len([]rune(title)) > MaxTitleRunes {
		return nil, &ValidationError{Field: "title", Reason: "too long (max 100 characters)"}
	}
	if !types.ValidGrade(grade) {
		return nil, &ValidationError{Field: "grade", Reason: "must be one of primary|junior|senior|college"}
	}

	essay := &types.Essay{
		UserID:  userID,
		Title:   title,
		Content: content,
		Grade:   grade,
		Status:  types.StatusPending,
	}
	if err := o.essays.Create(dbc, essay); err != nil {
		return nil, err
	}
	if err := o.Dispatch(dbc, essay.ID); err != nil {
		return nil, err
	}
	return essay, nil
}

// Dispatch enqueues a correction attempt for the essay. A second dispatch
// while one is in flight returns ErrAlreadyActive; callers treat that as
// coalesced, not failed.
func (o *Orchestrator) Dispatch(dbc dbctx.Context, essayID uuid.UUID) error {
	essay, err := o.essays.GetByID(dbc, essayID)
	if err != nil {
		return err
	}
	if essay == nil {
		return &ValidationError{Field: "essay_id", Reason: "essay not found"}
	}

	if !o.registry.Acquire(essayID) {
		return ErrAlreadyActive
	}

	err = o.db.WithContext(ctxOf(dbc)).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		if err := o.essays.UpdateFields(txc, essayID, map[string]interface{}{
			"status": types.StatusProcessing,
		}); err != nil {
			return err
		}
		return o.corrections.Create(txc, &types.Correction{
			EssayID: essayID,
			Kind:    types.CorrectionKindAutomated,
			Status:  types.StatusPending,
		})
	})
	if err != nil {
		o.registry.Release(essayID)
		return err
	}

	o.log.Info("correction dispatched", "essay_id", essayID)
	return nil
}

// Resubmit starts a fresh attempt for an essay in a terminal state. The old
// attempt rows are kept as history.
func (o *Orchestrator) Resubmit(dbc dbctx.Context, essayID, userID uuid.UUID) error {
	essay, err := o.essays.GetByIDForUser(dbc, essayID, userID)
	if err != nil {
		return err
	}
	if essay == nil {
		return &ValidationError{Field: "essay_id", Reason: "essay not found"}
	}
	return o.Dispatch(dbc, essayID)
}

type StatusView struct {
	EssayID  uuid.UUID `json:"essay_id"`
	Status   string    `json:"status"`
	IsActive bool      `json:"is_active"`
	Score    *int      `json:"score,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func (o *Orchestrator) Status(dbc dbctx.Context, essayID uuid.UUID) (*StatusView, error) {
	essay, err := o.essays.GetByID(dbc, essayID)
	if err != nil {
		return nil, err
	}
	if essay == nil {
		return nil, &ValidationError{Field: "essay_id", Reason: "essay not found"}
	}

	view := &StatusView{
		EssayID:  essay.ID,
		Status:   essay.Status,
		IsActive: o.registry.IsActive(essayID),
		Score:    essay.Score,
	}
	if essay.Status == types.StatusFailed {
		attempts, err := o.corrections.ListForEssay(dbc, essayID)
		if err != nil {
			return nil, err
		}
		if len(attempts) > 0 {
			view.Message = attempts[0].ErrorMessage
		}
	}
	return view, nil
}

type ResultView struct {
	EssayID    uuid.UUID            `json:"essay_id"`
	Status     string               `json:"status"`
	Score      *int                 `json:"score,omitempty"`
	SubScores  *types.SubScores     `json:"sub_scores,omitempty"`
	Errors     []types.LexicalError `json:"errors"`
	Assessment types.Assessment     `json:"assessment"`
}

func (o *Orchestrator) Result(dbc dbctx.Context, essayID uuid.UUID) (*ResultView, error) {
	essay, err := o.essays.GetByID(dbc, essayID)
	if err != nil {
		return nil, err
	}
	if essay == nil {
		return nil, &ValidationError{Field: "essay_id", Reason: "essay not found"}
	}

	view := &ResultView{
		EssayID: essay.ID,
		Status:  essay.Status,
		Score:   essay.Score,
		Errors:  []types.LexicalError{},
	}

	winner, err := o.corrections.GetLatestCompletedForEssay(dbc, essayID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return view, nil
	}

	var res types.ScoreResult
	if len(winner.Results) > 0 {
		if err := json.Unmarshal(winner.Results, &res); err == nil {
			view.SubScores = &res.SubScores
			if res.Errors != nil {
				view.Errors = res.Errors
			}
			view.Assessment = res.Assessment
		}
	}
	return view, nil
}

// ProcessAttempt is the worker entry point for a claimed correction. Provider
// and interpretation failures are recorded on the row; the registry entry is
// always released so a stuck attempt cannot block resubmission.
func (o *Orchestrator) ProcessAttempt(ctx context.Context, corr *types.Correction) {
	if corr == nil {
		return
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessAttempt",
		trace.WithAttributes(attribute.String("correction.id", corr.ID.String())))
	defer span.End()

	dbc := dbctx.New(ctx)
	if !o.registry.IsActive(corr.EssayID) {
		o.registry.Acquire(corr.EssayID)
	}
	defer o.registry.Release(corr.EssayID)

	essay, err := o.essays.GetByID(dbc, corr.EssayID)
	if err != nil {
		o.log.Error("attempt aborted (load essay)", "error", err, "correction_id", corr.ID)
		return
	}
	if essay == nil {
		// Orphan attempt; the essay was deleted after dispatch.
		o.log.Warn("soft-deleting orphan correction", "correction_id", corr.ID, "essay_id", corr.EssayID)
		_ = o.corrections.SoftDeleteByIDs(dbc, []uuid.UUID{corr.ID})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	raw, retries, err := o.scorer.Score(callCtx, essay.Title, essay.Content, essay.Grade)
	if retries > 0 {
		if uErr := o.corrections.UpdateFields(dbc, corr.ID, map[string]interface{}{
			"retry_count": corr.RetryCount + retries,
		}); uErr != nil {
			o.log.Warn("retry count update failed", "error", uErr, "correction_id", corr.ID)
		}
	}
	if err != nil {
		o.FailAttempt(ctx, corr.ID, err)
		return
	}

	result, err := o.interp.Interpret(raw)
	if err != nil {
		o.FailAttempt(ctx, corr.ID, err)
		return
	}

	if err := o.completeAttempt(dbc, corr, raw, result); err != nil {
		o.log.Error("attempt completion failed", "error", err, "correction_id", corr.ID)
		o.FailAttempt(ctx, corr.ID, err)
		return
	}

	o.publish(ctx, bus.CorrectionEvent{
		EssayID:      corr.EssayID.String(),
		CorrectionID: corr.ID.String(),
		Status:       types.StatusCompleted,
		Score:        &result.TotalScore,
	})
	o.log.Info("correction completed",
		"essay_id", corr.EssayID,
		"correction_id", corr.ID,
		"score", result.TotalScore,
		"provenance", result.Provenance,
	)
}

// completeAttempt persists the winning result and mirrors it into the essay
// in one transaction, superseding any previous winner first.
func (o *Orchestrator) completeAttempt(dbc dbctx.Context, corr *types.Correction, raw string, result *types.ScoreResult) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return o.db.WithContext(ctxOf(dbc)).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)

		superseded, err := o.corrections.SupersedeCompleted(txc, corr.EssayID, corr.ID)
		if err != nil {
			return err
		}
		if superseded > 0 {
			o.log.Info("superseded previous winner", "essay_id", corr.EssayID, "count", superseded)
		}

		if err := o.corrections.UpdateFields(txc, corr.ID, map[string]interface{}{
			"status":             types.StatusCompleted,
			"score":              result.TotalScore,
			"content_score":      result.SubScores.Content,
			"language_score":     result.SubScores.Language,
			"structure_score":    result.SubScores.Structure,
			"presentation_score": result.SubScores.Presentation,
			"results":            datatypes.JSON(blob),
			"error_message":      "",
		}); err != nil {
			return err
		}

		return o.essays.UpdateFields(txc, corr.EssayID, map[string]interface{}{
			"status":               types.StatusCompleted,
			"score":                result.TotalScore,
			"content_score":        result.SubScores.Content,
			"language_score":       result.SubScores.Language,
			"structure_score":      result.SubScores.Structure,
			"presentation_score":   result.SubScores.Presentation,
			"overall_comment":      result.Assessment.Overall,
			"content_comment":      result.Assessment.Content,
			"language_comment":     result.Assessment.Language,
			"structure_comment":    result.Assessment.Structure,
			"presentation_comment": result.Assessment.Presentation,
		})
	})
}

// FailAttempt records a terminal failure for the attempt. The essay keeps a
// previously completed result if it has one; otherwise it goes to failed.
func (o *Orchestrator) FailAttempt(ctx context.Context, correctionID uuid.UUID, cause error) {
	dbc := dbctx.New(ctx)
	msg := "correction failed"
	if cause != nil {
		msg = cause.Error()
	}

	corr, err := o.corrections.GetByID(dbc, correctionID)
	if err != nil || corr == nil {
		o.log.Error("fail attempt: correction lookup failed", "error", err, "correction_id", correctionID)
		return
	}

	err = o.db.WithContext(ctxOf(dbc)).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		if err := o.corrections.UpdateFields(txc, correctionID, map[string]interface{}{
			"status":        types.StatusFailed,
			"error_message": msg,
		}); err != nil {
			return err
		}

		winner, err := o.corrections.GetLatestCompletedForEssay(txc, corr.EssayID)
		if err != nil {
			return err
		}
		if winner != nil {
			// A prior completed result stays visible; the failed retry only
			// lands in attempt history.
			return nil
		}
		return o.essays.UpdateFields(txc, corr.EssayID, map[string]interface{}{
			"status": types.StatusFailed,
		})
	})
	if err != nil {
		o.log.Error("fail attempt: persist failed", "error", err, "correction_id", correctionID)
		return
	}

	o.publish(ctx, bus.CorrectionEvent{
		EssayID:      corr.EssayID.String(),
		CorrectionID: correctionID.String(),
		Status:       types.StatusFailed,
		Message:      msg,
	})
	o.log.Warn("correction failed", "essay_id", corr.EssayID, "correction_id", correctionID, "error", msg)
}

func (o *Orchestrator) publish(ctx context.Context, ev bus.CorrectionEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.log.Warn("event publish failed", "error", err, "essay_id", ev.EssayID)
	}
}

func ctxOf(dbc dbctx.Context) context.Context {
	if dbc.Ctx != nil {
		return dbc.Ctx
	}
	return context.Background()
}
