package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/econsult/internal/model"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
)

// ContextOwner is the gin context key holding the authenticated model.Owner.
const ContextOwner = "owner"

type Response struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    interface{}            `json:"data,omitempty"`
	Errors  []apperrors.FieldError `json:"errors,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError writes err using the AppError status when there is one. Unknown errors
// become a 500 with a generic message.
func RespondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal(err)
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
	}

	resp := NewErrorResponse(appErr.Message)
	resp.Errors = appErr.Fields
	resp.TraceID = c.GetString("request_id")
	if appErr.Retryable() {
		resp.Data = gin.H{"retryable": true}
	}
	c.AbortWithStatusJSON(status, resp)
}

// OwnerFrom returns the owner set by the auth middleware.
func OwnerFrom(c *gin.Context) (model.Owner, error) {
	v, ok := c.Get(ContextOwner)
	if !ok {
		return model.Owner{}, apperrors.Unauthorized(errors.New("no authenticated owner"))
	}
	owner, ok := v.(model.Owner)
	if !ok || owner.ID == uuid.Nil {
		return model.Owner{}, apperrors.Unauthorized(errors.New("invalid owner in context"))
	}
	return owner, nil
}

// ParseID reads a UUID path parameter.
func ParseID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid "+name, err)
	}
	return id, nil
}
