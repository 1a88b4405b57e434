package consult

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/econsult/internal/handler"
	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/service/dashboard"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	service *dashboard.Service
}

func NewHandler(service *dashboard.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	consults := r.Group("/consults")
	{
		consults.GET("", h.Dashboard)
		consults.GET("/export", h.Export)
		consults.GET("/:id", h.Get)
	}
}

// Dashboard returns summary counters plus the active and completed lists. Each list takes
// its own sort: active_sort and completed_sort, "newest" (default) or "oldest".
func (h *Handler) Dashboard(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	q := dashboard.Query{
		ActiveSort:    model.ParseSortOrder(c.Query("active_sort")),
		CompletedSort: model.ParseSortOrder(c.Query("completed_sort")),
	}
	result, err := h.service.Dashboard(c.Request.Context(), owner, q)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
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

	record, err := h.service.Get(c.Request.Context(), owner, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(record))
}

func (h *Handler) Export(c *gin.Context) {
	owner, err := handler.OwnerFrom(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	data, err := h.service.Export(c.Request.Context(), owner)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="consults-%s.xlsx"`, time.Now().UTC().Format("2006-01-02")))
	c.Data(http.StatusOK, xlsxContentType, data)
}
