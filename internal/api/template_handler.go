package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// TemplateHandler 负责模板相关的 API。
type TemplateHandler struct {
	db *gorm.DB
}

func NewTemplateHandler(db *gorm.DB) *TemplateHandler {
	return &TemplateHandler{db: db}
}

type createTemplateRequest struct {
	Title           string         `json:"title" binding:"required,max=255"`
	Content         datatypes.JSON `json:"content" binding:"required"`
	PreviewImageURL *string        `json:"preview_image_url"`
	// 目前创建默认私有，若后续需要开放，可增加 IsPublic 入参并严格校验
}

type templateListItem struct {
	ID              uint   `json:"id"`
	Title           string `json:"title"`
	IsPublic        bool   `json:"is_public"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
}

type templateDetailResponse struct {
	ID              uint           `json:"id"`
	Title           string         `json:"title"`
	Content         datatypes.JSON `json:"content"`
	IsPublic        bool           `json:"is_public"`
	PreviewImageURL string         `json:"preview_image_url,omitempty"`
}

// CreateTemplate 创建模板：默认私有，Owner 为当前用户。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	model := database.Template{
		Title:    req.Title,
		Content:  req.Content,
		UserID:   userID,
		IsPublic: false,
	}
	if req.PreviewImageURL != nil {
		model.PreviewImageURL = *req.PreviewImageURL
	}

	if err := h.db.WithContext(c.Request.Context()).Create(&model).Error; err != nil {
		Internal(c, "failed to create template")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":    model.ID,
		"title": model.Title,
	})
}

// ListTemplates 返回当前用户模板 ∪ 所有公开模板（去重由主键自然保证）。
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var templates []database.Template
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ? OR is_public = ?", userID, true).
		Order("updated_at DESC").
		Find(&templates).Error; err != nil {
		Internal(c, "failed to list templates")
		return
	}

	items := make([]templateListItem, 0, len(templates))
	for _, t := range templates {
		items = append(items, templateListItem{
			ID:              t.ID,
			Title:           t.Title,
			IsPublic:        t.IsPublic,
			PreviewImageURL: t.PreviewImageURL,
		})
	}
	c.JSON(http.StatusOK, items)
}

// GetTemplate 返回模板详情：允许 Owner 或公开模板的任何已登录用户访问。
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, err := parseResumeID(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid template id")
		return
	}

	var model database.Template
	if err := h.db.WithContext(c.Request.Context()).
		First(&model, id).Error; err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "template not found")
		default:
			Internal(c, "failed to query template")
		}
		return
	}

	if model.UserID != userID && !model.IsPublic {
		Forbidden(c, "access denied")
		return
	}

	c.JSON(http.StatusOK, templateDetailResponse{
		ID:              model.ID,
		Title:           model.Title,
		Content:         model.Content,
		IsPublic:        model.IsPublic,
		PreviewImageURL: model.PreviewImageURL,
	})
}

// DeleteTemplate 删除当前用户自己的模板。
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, err := parseResumeID(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid template id")
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&database.Template{})
	if result.Error != nil {
		Internal(c, "failed to delete template")
		return
	}
	if result.RowsAffected == 0 {
		NotFound(c, "template not found")
		return
	}

	c.Status(http.StatusNoContent)
}
