package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A second pool connection would see a different in-memory database.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&types.Essay{}, &types.Correction{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return gdb
}

func testDBC() dbctx.Context {
	return dbctx.New(context.Background())
}

// sampleProviderJSON is a well-formed provider response: 18+14+9+4 = 45, no
// lexical errors.
const sampleProviderJSON = `{
  "总得分": 45,
  "等级": "良",
  "分项得分": {
    "内容主旨": 18,
    "语言文采": 14,
    "文章结构": 9,
    "文面书写": 4
  },
  "错别字": [],
  "评语": {
    "总评": "整体表现良好",
    "内容分析": "立意明确",
    "语言分析": "语言通顺",
    "结构分析": "结构完整",
    "书写分析": "书写规范"
  }
}`

type fakeScorer struct {
	mu      sync.Mutex
	raw     string
	retries int
	err     error
	calls   int
}

func (f *fakeScorer) Score(ctx context.Context, title, content, grade string) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.raw, f.retries, f.err
}

func (f *fakeScorer) set(raw string, retries int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw, f.retries, f.err = raw, retries, err
}

type pipeline struct {
	db          *gorm.DB
	essays      repos.EssayRepo
	corrections repos.CorrectionRepo
	registry    *ActiveRegistry
	scorer      *fakeScorer
	orch        *Orchestrator
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db := newTestDB(t)
	log := newTestLogger(t)
	essays := repos.NewEssayRepo(db, log)
	corrections := repos.NewCorrectionRepo(db, log)
	registry := NewActiveRegistry(time.Minute)
	scorer := &fakeScorer{raw: sampleProviderJSON}
	orch := NewOrchestrator(db, log, essays, corrections, scorer, NewInterpreter(log), registry, nil, time.Minute)
	return &pipeline{
		db:          db,
		essays:      essays,
		corrections: corrections,
		registry:    registry,
		scorer:      scorer,
		orch:        orch,
	}
}

func intPtr(v int) *int { return &v }
