package intake

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/econsult/internal/handler"
	flow "github.com/jwalitptl/econsult/internal/intake"
	"github.com/jwalitptl/econsult/internal/model"
	intakesvc "github.com/jwalitptl/econsult/internal/service/intake"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
)

type Handler struct {
	service *intakesvc.Service
}

func NewHandler(service *intakesvc.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	intakes := r.Group("/intakes")
	{
		intakes.POST("", h.Start)
		intakes.GET("/:id", h.Get)
		intakes.DELETE("/:id", h.Cancel)
		intakes.PATCH("/:id/fields", h.UpdateFields)
		intakes.GET("/:id/steps/:step/validation", h.ValidateStep)
		intakes.POST("/:id/next", h.Next)
		intakes.POST("/:id/back", h.Back)
		intakes.POST("/:id/submit", h.Submit)
	}
}

// UpdateFieldsRequest accepts either one edit or a batch.
type UpdateFieldsRequest struct {
	Key    string                  `json:"key"`
	Value  string                  `json:"value"`
	Fields []intakesvc.FieldUpdate `json:"fields" binding:"omitempty,dive"`
}

func (r UpdateFieldsRequest) updates() []intakesvc.FieldUpdate {
	if len(r.Fields) > 0 {
		return r.Fields
	}
	if r.Key == "" {
		return nil
	}
	return []intakesvc.FieldUpdate{{Key: r.Key, Value: r.Value}}
}

func (h *Handler) Start(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	view, err := h.service.Start(c.Request.Context(), owner)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(view))
}

func (h *Handler) Get(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	view, err := h.service.Get(c.Request.Context(), owner, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(view))
}

// UpdateFields answers 422 when any edit was rejected; the body still carries the session
// so the client can re-render.
func (h *Handler) UpdateFields(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var req UpdateFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	updates := req.updates()
	if len(updates) == 0 {
		handler.RespondError(c, apperrors.BadRequest("no fields to update", nil))
		return
	}

	view, err := h.service.UpdateFields(c.Request.Context(), owner, id, updates)
	if err != nil {
		appErr, ok := apperrors.As(err)
		if ok && appErr.Code == apperrors.ErrUnprocessable && view != nil {
			resp := handler.NewErrorResponse(appErr.Message)
			resp.Errors = appErr.Fields
			resp.Data = view
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(view))
}

func (h *Handler) ValidateStep(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	step, ok := flow.ParseStep(c.Param("step"))
	if !ok {
		handler.RespondError(c, apperrors.BadRequest("unknown step", nil))
		return
	}

	result, err := h.service.ValidateStep(c.Request.Context(), owner, id, step)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Next(c *gin.Context) {
	h.navigate(c, h.service.Next)
}

func (h *Handler) Back(c *gin.Context) {
	h.navigate(c, h.service.Back)
}

type navigateFunc func(ctx context.Context, owner model.Owner, id uuid.UUID) (*intakesvc.NavigationResult, error)

// navigate answers 200 whether or not the step changed; moved=false comes with the
// missing fields that blocked it.
func (h *Handler) navigate(c *gin.Context, move navigateFunc) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	result, err := move(c.Request.Context(), owner, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Cancel(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	if err := h.service.Cancel(c.Request.Context(), owner, id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Submit answers 201 with the receipt. A 503 means the draft was kept and the call may be
// repeated.
func (h *Handler) Submit(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	receipt, err := h.service.Submit(c.Request.Context(), owner, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(receipt))
}
