package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

type CorrectionRepo interface {
	Create(dbc dbctx.Context, row *types.Correction) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Correction, error)
	ListForEssay(dbc dbctx.Context, essayID uuid.UUID) ([]*types.Correction, error)
	ListCompletedForEssay(dbc dbctx.Context, essayID uuid.UUID) ([]*types.Correction, error)
	GetLatestCompletedForEssay(dbc dbctx.Context, essayID uuid.UUID) (*types.Correction, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error

	// ClaimNextPending atomically claims the oldest pending correction, or one
	// stuck in processing longer than staleAfter, and flips it to processing.
	// Stale reclaims bump retry_count. Returns nil when the queue is empty.
	ClaimNextPending(dbc dbctx.Context, staleAfter time.Duration) (*types.Correction, error)

	// SupersedeCompleted soft-deletes every completed correction for the essay
	// except keepID, enforcing the at-most-one-winner invariant.
	SupersedeCompleted(dbc dbctx.Context, essayID, keepID uuid.UUID) (int64, error)

	// ListEssayIDsWithMultipleCompleted and ListOrphans back the consistency
	// sweep.
	ListEssayIDsWithMultipleCompleted(dbc dbctx.Context) ([]uuid.UUID, error)
	ListOrphans(dbc dbctx.Context) ([]*types.Correction, error)
}

type correctionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCorrectionRepo(db *gorm.DB, baseLog *logger.Logger) CorrectionRepo {
	return &correctionRepo{db: db, log: baseLog.With("repo", "CorrectionRepo")}
}

func (r *correctionRepo) Create(dbc dbctx.Context, row *types.Correction) error {
	if row == nil {
		return errors.New("nil correction row")
	}
	if row.EssayID == uuid.Nil {
		return errors.New("missing essay id")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Kind == "" {
		row.Kind = types.CorrectionKindAutomated
	}
	if row.Status == "" {
		row.Status = types.StatusPending
	}
	if row.Version == 0 {
		row.Version = 1
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *correctionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Correction, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Correction
	err := dbc.DB(r.db).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *correctionRepo) ListForEssay(dbc dbctx.Context, essayID uuid.UUID) ([]*types.Correction, error) {
	var out []*types.Correction
	if essayID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("essay_id = ?", essayID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *correctionRepo) ListCompletedForEssay(dbc dbctx.Context, essayID uuid.UUID) ([]*types.Correction, error) {
	var out []*types.Correction
	if essayID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("essay_id = ? AND status = ?", essayID, types.StatusCompleted).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *correctionRepo) GetLatestCompletedForEssay(dbc dbctx.Context, essayID uuid.UUID) (*types.Correction, error) {
	rows, err := r.ListCompletedForEssay(dbc, essayID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *correctionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return errors.New("missing correction id")
	}
	if len(updates) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version"] = gorm.Expr("version + 1")
	return dbc.DB(r.db).Model(&types.Correction{}).Where("id = ?", id).Updates(merged).Error
}

func (r *correctionRepo) SoftDeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.DB(r.db).Where("id IN ?", ids).Delete(&types.Correction{}).Error
}

func (r *correctionRepo) ClaimNextPending(dbc dbctx.Context, staleAfter time.Duration) (*types.Correction, error) {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	var claimed *types.Correction
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		var row types.Correction
		err := tx.
			Where("status = ?", types.StatusPending).
			Order("created_at ASC").
			First(&row).Error
		stale := false
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.
				Where("status = ? AND updated_at < ?", types.StatusProcessing, cutoff).
				Order("updated_at ASC").
				First(&row).Error
			stale = true
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":  types.StatusProcessing,
			"version": gorm.Expr("version + 1"),
		}
		if stale {
			updates["retry_count"] = gorm.Expr("retry_count + 1")
		}
		// Guard on the version we read: a concurrent claimer loses here and
		// picks the next row on its following tick.
		res := tx.Model(&types.Correction{}).
			Where("id = ? AND version = ?", row.ID, row.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		row.Status = types.StatusProcessing
		row.Version++
		if stale {
			row.RetryCount++
		}
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *correctionRepo) SupersedeCompleted(dbc dbctx.Context, essayID, keepID uuid.UUID) (int64, error) {
	if essayID == uuid.Nil {
		return 0, errors.New("missing essay id")
	}
	res := dbc.DB(r.db).
		Where("essay_id = ? AND status = ? AND id <> ?", essayID, types.StatusCompleted, keepID).
		Delete(&types.Correction{})
	return res.RowsAffected, res.Error
}

func (r *correctionRepo) ListEssayIDsWithMultipleCompleted(dbc dbctx.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := dbc.DB(r.db).
		Model(&types.Correction{}).
		Select("essay_id").
		Where("status = ?", types.StatusCompleted).
		Group("essay_id").
		Having("COUNT(*) > 1").
		Pluck("essay_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *correctionRepo) ListOrphans(dbc dbctx.Context) ([]*types.Correction, error) {
	var out []*types.Correction
	err := dbc.DB(r.db).
		Where("essay_id NOT IN (?)",
			dbc.DB(r.db).Model(&types.Essay{}).Select("id"),
		).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
