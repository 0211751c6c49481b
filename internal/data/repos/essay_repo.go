package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

type EssayRepo interface {
	Create(dbc dbctx.Context, row *types.Essay) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Essay, error)
	GetByIDForUser(dbc dbctx.Context, id, userID uuid.UUID) (*types.Essay, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Essay, error)
	ListByStatus(dbc dbctx.Context, statuses []string) ([]*types.Essay, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByID(dbc dbctx.Context, id uuid.UUID) error
}

type essayRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEssayRepo(db *gorm.DB, baseLog *logger.Logger) EssayRepo {
	return &essayRepo{db: db, log: baseLog.With("repo", "EssayRepo")}
}

func (r *essayRepo) Create(dbc dbctx.Context, row *types.Essay) error {
	if row == nil {
		return errors.New("nil essay row")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Version == 0 {
		row.Version = 1
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *essayRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Essay, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Essay
	err := dbc.DB(r.db).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *essayRepo) GetByIDForUser(dbc dbctx.Context, id, userID uuid.UUID) (*types.Essay, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var row types.Essay
	err := dbc.DB(r.db).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *essayRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Essay, error) {
	var out []*types.Essay
	if userID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *essayRepo) ListByStatus(dbc dbctx.Context, statuses []string) ([]*types.Essay, error) {
	var out []*types.Essay
	if len(statuses) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFields applies the given column updates and bumps the version counter
// in the same statement.
func (r *essayRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return errors.New("missing essay id")
	}
	if len(updates) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version"] = gorm.Expr("version + 1")
	return dbc.DB(r.db).Model(&types.Essay{}).Where("id = ?", id).Updates(merged).Error
}

func (r *essayRepo) SoftDeleteByID(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Where("id = ?", id).Delete(&types.Essay{}).Error
}
