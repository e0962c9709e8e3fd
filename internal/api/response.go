package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/sections"
	"cvforge/internal/validate"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// ValidationFailed 以字段粒度返回校验错误。
func ValidationFailed(c *gin.Context, verr *validate.Error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":  "validation failed",
		"fields": verr.Fields,
	})
}

// sectionError 把分区集合层的哨兵错误映射为 HTTP 响应。
// 未识别的错误一律按内部错误处理。
func sectionError(c *gin.Context, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		ValidationFailed(c, verr)
	case errors.Is(err, sections.ErrNotAuthenticated):
		Unauthorized(c)
	case errors.Is(err, sections.ErrNotFound):
		NotFound(c, "not found")
	case errors.Is(err, sections.ErrInvalidReorderSet):
		BadRequest(c, "reorder set must match existing entries exactly")
	default:
		Internal(c, "internal error")
	}
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}
