package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

const (
	DiscrepancyMissingWinner   = "missing_winner"
	DiscrepancyScoreMismatch   = "score_mismatch"
	DiscrepancyMultipleWinners = "multiple_winners"
	DiscrepancyOrphan          = "orphan_correction"
)

type Discrepancy struct {
	Kind         string    `json:"kind"`
	EssayID      uuid.UUID `json:"essay_id"`
	CorrectionID uuid.UUID `json:"correction_id,omitempty"`
	Detail       string    `json:"detail"`
}

type SweepReport struct {
	Found      int       `json:"found"`
	Repaired   int       `json:"repaired"`
	Unrepaired int       `json:"unrepaired"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Guardian is the backstop behind the orchestrator's transactional writes:
// direct legacy writes or a crashed worker can still break the essay ↔
// correction invariants, and the guardian makes them eventually true again.
// The correction row is authoritative in every repair.
type Guardian struct {
	db          *gorm.DB
	log         *logger.Logger
	essays      repos.EssayRepo
	corrections repos.CorrectionRepo
}

func NewGuardian(db *gorm.DB, baseLog *logger.Logger, essays repos.EssayRepo, corrections repos.CorrectionRepo) *Guardian {
	return &Guardian{
		db:          db,
		log:         baseLog.With("service", "Guardian"),
		essays:      essays,
		corrections: corrections,
	}
}

func (g *Guardian) Audit(dbc dbctx.Context) ([]Discrepancy, error) {
	var out []Discrepancy

	completed, err := g.essays.ListByStatus(dbc, []string{types.StatusCompleted})
	if err != nil {
		return nil, err
	}
	for _, essay := range completed {
		winner, err := g.corrections.GetLatestCompletedForEssay(dbc, essay.ID)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			out = append(out, Discrepancy{
				Kind:    DiscrepancyMissingWinner,
				EssayID: essay.ID,
				Detail:  "essay completed but no completed correction exists",
			})
			continue
		}
		if !scoresEqual(essay.Score, winner.Score) {
			out = append(out, Discrepancy{
				Kind:         DiscrepancyScoreMismatch,
				EssayID:      essay.ID,
				CorrectionID: winner.ID,
				Detail:       fmt.Sprintf("essay score %s != correction score %s", fmtScore(essay.Score), fmtScore(winner.Score)),
			})
		}
	}

	multiIDs, err := g.corrections.ListEssayIDsWithMultipleCompleted(dbc)
	if err != nil {
		return nil, err
	}
	for _, id := range multiIDs {
		out = append(out, Discrepancy{
			Kind:    DiscrepancyMultipleWinners,
			EssayID: id,
			Detail:  "more than one non-deleted completed correction",
		})
	}

	orphans, err := g.corrections.ListOrphans(dbc)
	if err != nil {
		return nil, err
	}
	for _, c := range orphans {
		out = append(out, Discrepancy{
			Kind:         DiscrepancyOrphan,
			EssayID:      c.EssayID,
			CorrectionID: c.ID,
			Detail:       "correction references missing or deleted essay",
		})
	}

	return out, nil
}

// Repair fixes one discrepancy. It returns false without error when the
// correct source of truth is not derivable; those cases are logged for manual
// review.
func (g *Guardian) Repair(dbc dbctx.Context, d Discrepancy) (bool, error) {
	switch d.Kind {
	case DiscrepancyMissingWinner:
		return g.repairMissingWinner(dbc, d.EssayID)
	case DiscrepancyScoreMismatch, DiscrepancyMultipleWinners:
		return g.repairFromWinner(dbc, d.EssayID)
	case DiscrepancyOrphan:
		if err := g.corrections.SoftDeleteByIDs(dbc, []uuid.UUID{d.CorrectionID}); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown discrepancy kind %q", d.Kind)
	}
}

func (g *Guardian) repairMissingWinner(dbc dbctx.Context, essayID uuid.UUID) (bool, error) {
	attempts, err := g.corrections.ListForEssay(dbc, essayID)
	if err != nil {
		return false, err
	}
	if len(attempts) == 0 {
		cerr := &ConsistencyError{
			Kind:   DiscrepancyMissingWinner,
			Detail: fmt.Sprintf("essay %s completed with no correction history", essayID),
		}
		g.log.Error("manual review required", "error", cerr, "essay_id", essayID)
		return false, nil
	}

	// Re-derive from the latest attempt: its status becomes the essay's, and
	// stale score columns are cleared since no winner exists.
	latest := attempts[0]
	status := latest.Status
	if status == types.StatusPending {
		status = types.StatusProcessing
	}
	err = g.essays.UpdateFields(dbc, essayID, map[string]interface{}{
		"status":             status,
		"score":              nil,
		"content_score":      nil,
		"language_score":     nil,
		"structure_score":    nil,
		"presentation_score": nil,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// repairFromWinner re-elects the most recently updated completed correction,
// supersedes the rest and mirrors the winner into the essay, all in one
// transaction.
func (g *Guardian) repairFromWinner(dbc dbctx.Context, essayID uuid.UUID) (bool, error) {
	err := g.db.WithContext(ctxOf(dbc)).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)

		winner, err := g.corrections.GetLatestCompletedForEssay(txc, essayID)
		if err != nil {
			return err
		}
		if winner == nil {
			return nil
		}

		if _, err := g.corrections.SupersedeCompleted(txc, essayID, winner.ID); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":             types.StatusCompleted,
			"score":              winner.Score,
			"content_score":      winner.ContentScore,
			"language_score":     winner.LanguageScore,
			"structure_score":    winner.StructureScore,
			"presentation_score": winner.PresentationScore,
		}
		if len(winner.Results) > 0 {
			var res types.ScoreResult
			if err := json.Unmarshal(winner.Results, &res); err == nil {
				updates["overall_comment"] = res.Assessment.Overall
				updates["content_comment"] = res.Assessment.Content
				updates["language_comment"] = res.Assessment.Language
				updates["structure_comment"] = res.Assessment.Structure
				updates["presentation_comment"] = res.Assessment.Presentation
			}
		}
		return g.essays.UpdateFields(txc, essayID, updates)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Sweep runs Audit and repairs everything it can. Running it twice in a row
// yields zero discrepancies on the second pass.
func (g *Guardian) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: time.Now().UTC()}
	dbc := dbctx.New(ctx)

	found, err := g.Audit(dbc)
	if err != nil {
		return nil, err
	}
	report.Found = len(found)

	for _, d := range found {
		repaired, err := g.Repair(dbc, d)
		if err != nil {
			g.log.Error("repair failed", "error", err, "kind", d.Kind, "essay_id", d.EssayID)
			report.Unrepaired++
			continue
		}
		if repaired {
			report.Repaired++
		} else {
			report.Unrepaired++
		}
	}

	report.FinishedAt = time.Now().UTC()
	if report.Found > 0 {
		g.log.Info("consistency sweep finished",
			"found", report.Found,
			"repaired", report.Repaired,
			"unrepaired", report.Unrepaired,
		)
	}
	return report, nil
}

// Start runs the sweep on a fixed interval until ctx is canceled.
func (g *Guardian) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := g.Sweep(ctx); err != nil {
					g.log.Error("scheduled sweep failed", "error", err)
				}
			}
		}
	}()
}

func scoresEqual(a, b *int) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func fmtScore(v *int) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%d", *v)
}
