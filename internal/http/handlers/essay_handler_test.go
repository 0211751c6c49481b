package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/services"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

const handlerTestContent = "冬天的早晨，窗户上结了一层薄薄的冰花，像一幅幅精致的画。我哈一口气，用手指在玻璃上写字，字迹很快又被新的冰花盖住了。"

type handlerScorer struct{}

func (s *handlerScorer) Score(ctx context.Context, title, content, grade string) (string, int, error) {
	return `{"分项得分": {"内容主旨": 18, "语言文采": 14, "文章结构": 9, "文面书写": 4}, "评语": {"总评": "好"}}`, 0, nil
}

type handlerFixture struct {
	router      *gin.Engine
	essays      repos.EssayRepo
	corrections repos.CorrectionRepo
	orch        *services.Orchestrator
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&types.Essay{}, &types.Correction{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	essays := repos.NewEssayRepo(gdb, log)
	corrections := repos.NewCorrectionRepo(gdb, log)
	orch := services.NewOrchestrator(
		gdb, log, essays, corrections,
		&handlerScorer{}, services.NewInterpreter(log), services.NewActiveRegistry(time.Minute), nil,
		time.Minute,
	)

	h := NewEssayHandler(log, essays, orch)
	router := gin.New()
	api := router.Group("/api")
	api.POST("/essays", h.Submit)
	api.GET("/essays", h.List)
	api.GET("/essays/:id/status", h.Status)
	api.GET("/essays/:id/result", h.Result)
	api.POST("/essays/:id/resubmit", h.Resubmit)
	api.DELETE("/essays/:id", h.Delete)

	return &handlerFixture{router: router, essays: essays, corrections: corrections, orch: orch}
}

func (f *handlerFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestSubmitRequiresUserHeader(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/essays", "", map[string]any{
		"title": "t", "content": handlerTestContent, "grade": types.GradeJunior,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code: want=401 got=%d", rec.Code)
	}
}

func TestSubmitRejectsInvalidBody(t *testing.T) {
	f := newHandlerFixture(t)
	userID := uuid.New().String()

	rec := f.do(t, http.MethodPost, "/api/essays", userID, map[string]any{"title": "t"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: want=400 got=%d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/essays", userID, map[string]any{
		"title": "t", "content": "太短", "grade": types.GradeJunior,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short content: want=400 got=%d", rec.Code)
	}
	body := decodeBody(t, rec)
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "validation_failed" {
		t.Fatalf("error code: got=%v", errObj["code"])
	}
}

func TestSubmitCreatesEssay(t *testing.T) {
	f := newHandlerFixture(t)
	userID := uuid.New().String()

	rec := f.do(t, http.MethodPost, "/api/essays", userID, map[string]any{
		"title": "冬晨", "content": handlerTestContent, "grade": types.GradeJunior,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("code: want=201 got=%d (%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["essay_id"] == nil || body["essay_id"] == "" {
		t.Fatalf("essay_id missing in response: %v", body)
	}
}

func TestStatusScopesToOwner(t *testing.T) {
	f := newHandlerFixture(t)
	owner := uuid.New()

	essay, err := f.orch.Submit(dbctx.New(context.Background()), owner, "t", handlerTestContent, types.GradeJunior)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/essays/"+essay.ID.String()+"/status", owner.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status: want=200 got=%d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != types.StatusProcessing {
		t.Fatalf("status: want=processing got=%v", body["status"])
	}

	rec = f.do(t, http.MethodGet, "/api/essays/"+essay.ID.String()+"/status", uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign status: want=404 got=%d", rec.Code)
	}
}

func TestResubmitCoalescesActiveAttempt(t *testing.T) {
	f := newHandlerFixture(t)
	owner := uuid.New()

	essay, err := f.orch.Submit(dbctx.New(context.Background()), owner, "t", handlerTestContent, types.GradeJunior)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/essays/"+essay.ID.String()+"/resubmit", owner.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("coalesced resubmit: want=200 got=%d", rec.Code)
	}

	attempts, _ := f.corrections.ListForEssay(dbctx.New(context.Background()), essay.ID)
	if len(attempts) != 1 {
		t.Fatalf("coalesced resubmit must not add attempts, got %d", len(attempts))
	}
}

func TestResultAfterCompletion(t *testing.T) {
	f := newHandlerFixture(t)
	owner := uuid.New()
	dbc := dbctx.New(context.Background())

	essay, err := f.orch.Submit(dbc, owner, "t", handlerTestContent, types.GradeJunior)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, err := f.corrections.ClaimNextPending(dbc, time.Minute)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	f.orch.ProcessAttempt(context.Background(), job)

	rec := f.do(t, http.MethodGet, "/api/essays/"+essay.ID.String()+"/result", owner.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result: want=200 got=%d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != types.StatusCompleted {
		t.Fatalf("result status: got=%v", body["status"])
	}
	if body["score"] != float64(45) {
		t.Fatalf("result score: want=45 got=%v", body["score"])
	}
	subs, _ := body["sub_scores"].(map[string]any)
	if subs == nil || subs["content"] != float64(18) {
		t.Fatalf("sub scores: got=%v", body["sub_scores"])
	}
}

func TestDeleteHidesEssay(t *testing.T) {
	f := newHandlerFixture(t)
	owner := uuid.New()

	essay, err := f.orch.Submit(dbctx.New(context.Background()), owner, "t", handlerTestContent, types.GradeJunior)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := f.do(t, http.MethodDelete, "/api/essays/"+essay.ID.String(), owner.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: want=200 got=%d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/essays/"+essay.ID.String()+"/status", owner.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after delete: want=404 got=%d", rec.Code)
	}
}

func TestInvalidEssayIDRejected(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/essays/not-a-uuid/status", uuid.New().String(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code: want=400 got=%d", rec.Code)
	}
}
