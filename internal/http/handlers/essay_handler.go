package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/data/repos"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/http/response"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/dbctx"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/services"
)

// EssayHandler exposes the pipeline over HTTP. Authentication lives in front
// of this service; the authenticated user id arrives in X-User-ID.
type EssayHandler struct {
	log    *logger.Logger
	essays repos.EssayRepo
	orch   *services.Orchestrator
}

func NewEssayHandler(log *logger.Logger, essays repos.EssayRepo, orch *services.Orchestrator) *EssayHandler {
	return &EssayHandler{
		log:    log.With("handler", "EssayHandler"),
		essays: essays,
		orch:   orch,
	}
}

func requestUser(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

type submitRequest struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
	Grade   string `json:"grade" binding:"required"`
}

// POST /api/essays
func (h *EssayHandler) Submit(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", nil)
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	essay, err := h.orch.Submit(dbc, userID, req.Title, req.Content, req.Grade)
	if err != nil {
		var vErr *services.ValidationError
		if errors.As(err, &vErr) {
			response.RespondError(c, http.StatusBadRequest, "validation_failed", vErr)
			return
		}
		h.log.Error("Submit failed", "error", err, "user_id", userID)
		response.RespondError(c, http.StatusInternalServerError, "submit_failed", err)
		return
	}

	response.RespondCreated(c, gin.H{"essay_id": essay.ID, "status": essay.Status})
}

// GET /api/essays/:id/status
func (h *EssayHandler) Status(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", nil)
		return
	}
	essayID, err := uuid.Parse(c.Param("id"))
	if err != nil || essayID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_essay_id", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if ok := h.ownedBy(dbc, c, essayID, userID); !ok {
		return
	}

	view, err := h.orch.Status(dbc, essayID)
	if err != nil {
		h.log.Error("Status failed", "error", err, "essay_id", essayID)
		response.RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	response.RespondOK(c, view)
}

// GET /api/essays/:id/result
func (h *EssayHandler) Result(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", nil)
		return
	}
	essayID, err := uuid.Parse(c.Param("id"))
	if err != nil || essayID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_essay_id", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if ok := h.ownedBy(dbc, c, essayID, userID); !ok {
		return
	}

	view, err := h.orch.Result(dbc, essayID)
	if err != nil {
		h.log.Error("Result failed", "error", err, "essay_id", essayID)
		response.RespondError(c, http.StatusInternalServerError, "result_failed", err)
		return
	}
	response.RespondOK(c, view)
}

// GET /api/essays
func (h *EssayHandler) List(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", nil)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	rows, err := h.essays.ListByUser(dbc, userID)
	if err != nil {
		h.log.Error("List failed", "error", err, "user_id", userID)
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"essays": rows})
}

// POST /api/essays/:id/resubmit
func (h *EssayHandler) Resubmit(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", nil)
		return
	}
	essayID, err := uuid.Parse(c.Param("id"))
	if err != nil || essayID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_essay_id", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	err = h.orch.Resubmit(dbc, essayID, userID)
	if errors.Is(err, services.ErrAlreadyActive) {
		// Coalesced with the attempt already in flight.
		response.RespondOK(c, gin.H{"essay_id": essayID, "status": "processing"})
		return
	}
	if err != nil {
		var vErr *services.ValidationError
		if errors.As(err, &vErr) {
			response.RespondError(c, http.StatusNotFound, "essay_not_found", vErr)
			return
		}
		h.log.Error("Resubmit failed", "error", err, "essay_id", essayID)
		response.RespondError(c, http.StatusInternalServerError, "resubmit_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"essay_id": essayID, "status": "processing"})
}

// DELETE /api/essays/:id
func (h *EssayHandler) Delete(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", nil)
		return
	}
	essayID, err := uuid.Parse(c.Param("id"))
	if err != nil || essayID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_essay_id", err)
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if ok := h.ownedBy(dbc, c, essayID, userID); !ok {
		return
	}

	if err := h.essays.SoftDeleteByID(dbc, essayID); err != nil {
		h.log.Error("Delete failed", "error", err, "essay_id", essayID)
		response.RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}

func (h *EssayHandler) ownedBy(dbc dbctx.Context, c *gin.Context, essayID, userID uuid.UUID) bool {
	row, err := h.essays.GetByIDForUser(dbc, essayID, userID)
	if err != nil {
		h.log.Error("ownership check failed", "error", err, "essay_id", essayID)
		response.RespondError(c, http.StatusInternalServerError, "load_essay_failed", err)
		return false
	}
	if row == nil {
		response.RespondError(c, http.StatusNotFound, "essay_not_found", nil)
		return false
	}
	return true
}
