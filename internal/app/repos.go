package app

import (
	"gorm.io/gorm"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
)

type Repos struct {
	Essays      repos.EssayRepo
	Corrections repos.CorrectionRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Essays:      repos.NewEssayRepo(db, log),
		Corrections: repos.NewCorrectionRepo(db, log),
	}
}
