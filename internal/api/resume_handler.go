package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
	"cvforge/internal/document"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
	"cvforge/internal/worker"
)

// ResumeHandler 负责处理简历元数据、文档视图与导出相关的 API 请求。
type ResumeHandler struct {
	db          *gorm.DB
	store       *document.Store
	asynqClient *asynq.Client
	storage     *storage.Client
	redis       redis.UniversalClient
	logger      *slog.Logger
	maxResumes  int
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, store *document.Store, asynqClient *asynq.Client, storageClient *storage.Client, redisClient redis.UniversalClient, logger *slog.Logger, maxResumes int) *ResumeHandler {
	return &ResumeHandler{
		db:          db,
		store:       store,
		asynqClient: asynqClient,
		storage:     storageClient,
		redis:       redisClient,
		logger:      logger,
		maxResumes:  maxResumes,
	}
}

var errInvalidResumeID = errors.New("invalid resume id")

const documentCacheTTL = 5 * time.Minute

type createResumeRequest struct {
	Title      string `json:"title" binding:"required,max=255"`
	TemplateID *uint  `json:"template_id"`
	ThemeColor string `json:"theme_color" binding:"max=32"`
	FontFamily string `json:"font_family" binding:"max=64"`
}

type updateResumeRequest struct {
	Title          *string `json:"title" binding:"omitempty,max=255"`
	TemplateID     *uint   `json:"template_id"`
	ThemeColor     *string `json:"theme_color" binding:"omitempty,max=32"`
	FontFamily     *string `json:"font_family" binding:"omitempty,max=64"`
	PhotoObjectKey *string `json:"photo_object_key" binding:"omitempty,max=512"`
}

type resumeListItem struct {
	ID              uint      `json:"id"`
	Title           string    `json:"title"`
	Status          string    `json:"status,omitempty"`
	PreviewImageURL string    `json:"preview_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type resumeResponse struct {
	ID              uint      `json:"id"`
	Title           string    `json:"title"`
	TemplateID      *uint     `json:"template_id,omitempty"`
	ThemeColor      string    `json:"theme_color"`
	FontFamily      string    `json:"font_family"`
	Status          string    `json:"status,omitempty"`
	PreviewImageURL string    `json:"preview_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newResumeResponse(r database.Resume) resumeResponse {
	return resumeResponse{
		ID:              r.ID,
		Title:           r.Title,
		TemplateID:      r.TemplateID,
		ThemeColor:      r.ThemeColor,
		FontFamily:      r.FontFamily,
		Status:          r.Status,
		PreviewImageURL: r.PreviewImageURL,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// CreateResume 创建一份新简历，超过限额则提示升级。
func (h *ResumeHandler) CreateResume(c *gin.Context) {
	var req createResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()

	var count int64
	if err := h.db.WithContext(ctx).
		Model(&database.Resume{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		Internal(c, "failed to count resumes")
		return
	}

	if h.maxResumes > 0 && count >= int64(h.maxResumes) {
		Forbidden(c, "resume limit reached")
		return
	}

	resume := database.Resume{
		Title:      req.Title,
		UserID:     userID,
		TemplateID: req.TemplateID,
		ThemeColor: req.ThemeColor,
		FontFamily: req.FontFamily,
	}

	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		Internal(c, "failed to create resume")
		return
	}

	if err := h.setActiveResumeID(ctx, userID, &resume.ID); err != nil {
		Internal(c, "failed to mark active resume")
		return
	}

	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

// ListResumes 列出用户全部简历。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var resumes []database.Resume
	if err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&resumes).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeListItem, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, resumeListItem{
			ID:              r.ID,
			Title:           r.Title,
			Status:          r.Status,
			PreviewImageURL: r.PreviewImageURL,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, items)
}

// GetLatestResume 返回用户当前活跃（或最近更新）的简历。
func (h *ResumeHandler) GetLatestResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	resume, err := h.findActiveOrLatestResume(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no resumes yet")
			return
		}
		Internal(c, "failed to query latest resume")
		return
	}

	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// GetResume 返回指定 ID 的简历并标记为当前正在编辑。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	if err := h.setActiveResumeID(c.Request.Context(), userID, &resume.ID); err != nil {
		Internal(c, "failed to mark active resume")
		return
	}

	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// UpdateResume 更新简历的元数据（标题、模板、主题）。
func (h *ResumeHandler) UpdateResume(c *gin.Context) {
	var req updateResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.TemplateID != nil {
		updates["template_id"] = *req.TemplateID
	}
	if req.ThemeColor != nil {
		updates["theme_color"] = *req.ThemeColor
	}
	if req.FontFamily != nil {
		updates["font_family"] = *req.FontFamily
	}
	if req.PhotoObjectKey != nil {
		// 只允许引用用户自己的资产；空串表示摘除照片。
		if *req.PhotoObjectKey != "" && !strings.HasPrefix(*req.PhotoObjectKey, assetPrefix(userID)) {
			Forbidden(c, "access denied")
			return
		}
		updates["photo_object_key"] = *req.PhotoObjectKey
	}

	ctx := c.Request.Context()
	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(resume).Updates(updates).Error; err != nil {
			Internal(c, "failed to update resume")
			return
		}
		h.dropDocumentCache(ctx, resume.ID)
	}

	if err := h.db.WithContext(ctx).First(resume, resume.ID).Error; err != nil {
		Internal(c, "failed to reload resume")
		return
	}

	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// DeleteResume 删除指定简历，并尝试回落到最近一份。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Delete(&database.Resume{}, resume.ID).Error; err != nil {
		Internal(c, "failed to delete resume")
		return
	}

	h.dropDocumentCache(ctx, resume.ID)

	if err := h.assignLatestResumeAsActive(ctx, userID); err != nil {
		Internal(c, "failed to update active resume")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetDocument 返回简历的全量文档视图，带 Redis 读穿缓存。
func (h *ResumeHandler) GetDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resumeID, err := parseResumeID(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid resume id")
		return
	}

	ctx := c.Request.Context()
	cacheKey := documentCacheKey(resumeID)

	if cached, err := h.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		var snap document.Snapshot
		if json.Unmarshal(cached, &snap) == nil {
			// 缓存命中也要重新校验归属。
			if _, err := h.getResumeForUser(ctx, c.Param("id"), userID); err != nil {
				h.replyResumeLookupError(c, err)
				return
			}
			c.JSON(http.StatusOK, snap)
			return
		}
	}

	snap, err := h.store.Load(ctx, userID, resumeID)
	if err != nil {
		sectionError(c, err)
		return
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := h.redis.Set(ctx, cacheKey, data, documentCacheTTL).Err(); err != nil {
			h.loggerFromContext(c).Warn("cache document view failed", slog.Any("error", err))
		}
	}

	c.JSON(http.StatusOK, snap)
}

// PutDocument 整体保存简历文档：逐条校验后在单事务内重写全部子项。
func (h *ResumeHandler) PutDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resumeID, err := parseResumeID(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid resume id")
		return
	}

	var snap document.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		BadRequest(c, err.Error())
		return
	}
	snap.ResumeID = resumeID

	ctx := c.Request.Context()
	if err := h.store.Save(ctx, userID, &snap); err != nil {
		sectionError(c, err)
		return
	}

	saved, err := h.store.Load(ctx, userID, resumeID)
	if err != nil {
		sectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// ExportResume 将 PDF 导出任务入队并立即返回 202。
func (h *ResumeHandler) ExportResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewPDFExportTask(resume.ID, correlationID)
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(5))
	if err != nil {
		Internal(c, "failed to enqueue pdf export")
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(resume).
		UpdateColumn("status", "exporting").Error; err != nil {
		h.loggerFromContext(c).Warn("mark resume exporting failed", slog.Any("error", err))
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "pdf export request accepted",
		"task_id": info.ID,
	})
}

// GetDownloadLink 生成简历 PDF 的预签名下载链接。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	if resume.PdfURL == "" {
		Conflict(c, "pdf not ready")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURLWithParams(c.Request.Context(), resume.PdfURL, 5*time.Minute, map[string]string{
		"response-content-disposition": `attachment; filename="` + resume.Title + `.pdf"`,
	})
	if err != nil {
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

// PrintResume 返回渲染好的打印 HTML，仅限集群内部调用。
func (h *ResumeHandler) PrintResume(c *gin.Context) {
	resumeID, err := parseResumeID(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid resume id")
		return
	}

	ctx := c.Request.Context()
	snap, err := h.store.LoadUnchecked(ctx, resumeID)
	if err != nil {
		sectionError(c, err)
		return
	}

	// 照片取简历级绑定，缺省回落到个人信息里的键，与导出链路一致。
	var resume database.Resume
	if err := h.db.WithContext(ctx).First(&resume, resumeID).Error; err != nil {
		Internal(c, "failed to query resume")
		return
	}
	photoKey := resume.PhotoObjectKey
	if photoKey == "" && snap.PersonalInfo != nil {
		photoKey = snap.PersonalInfo.PhotoKey
	}

	var photoURL string
	if photoKey != "" {
		if url, err := h.storage.GeneratePresignedURL(ctx, photoKey, 10*time.Minute); err == nil {
			photoURL = url
		}
	}

	html, err := worker.RenderResumeHTML(snap, photoURL)
	if err != nil {
		Internal(c, "failed to render resume")
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *ResumeHandler) setActiveResumeID(ctx context.Context, userID uint, resumeID *uint) error {
	var value any
	if resumeID != nil {
		value = *resumeID
	} else {
		value = nil
	}
	return h.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Update("active_resume_id", value).Error
}

func (h *ResumeHandler) assignLatestResumeAsActive(ctx context.Context, userID uint) error {
	var resume database.Resume
	err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		First(&resume).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return h.setActiveResumeID(ctx, userID, nil)
	case err != nil:
		return err
	default:
		return h.setActiveResumeID(ctx, userID, &resume.ID)
	}
}

func (h *ResumeHandler) findActiveOrLatestResume(ctx context.Context, userID uint) (*database.Resume, error) {
	var user database.User
	if err := h.db.WithContext(ctx).
		Select("id", "active_resume_id").
		First(&user, userID).Error; err != nil {
		return nil, err
	}

	if user.ActiveResumeID != nil {
		var resume database.Resume
		if err := h.db.WithContext(ctx).
			Where("id = ? AND user_id = ?", *user.ActiveResumeID, userID).
			First(&resume).Error; err == nil {
			return &resume, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var latest database.Resume
	err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = h.setActiveResumeID(ctx, userID, nil)
		}
		return nil, err
	}

	if err := h.setActiveResumeID(ctx, userID, &latest.ID); err != nil {
		return nil, err
	}
	return &latest, nil
}

func (h *ResumeHandler) getResumeForUser(ctx context.Context, idParam string, userID uint) (*database.Resume, error) {
	resumeID, err := parseResumeID(idParam)
	if err != nil {
		return nil, errInvalidResumeID
	}

	var resume database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", resumeID, userID).
		First(&resume).Error; err != nil {
		return nil, err
	}
	return &resume, nil
}

func (h *ResumeHandler) replyResumeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidResumeID):
		BadRequest(c, "invalid resume id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resume not found")
	default:
		Internal(c, "failed to query resume")
	}
}

// dropDocumentCache 尽力而为地删掉文档视图缓存。
func (h *ResumeHandler) dropDocumentCache(ctx context.Context, resumeID uint) {
	if err := h.redis.Del(ctx, documentCacheKey(resumeID)).Err(); err != nil {
		h.logger.Warn("drop document cache failed",
			slog.Uint64("resume_id", uint64(resumeID)),
			slog.Any("error", err),
		)
	}
}

func documentCacheKey(resumeID uint) string {
	return "cache:resume:edit:" + strconv.FormatUint(uint64(resumeID), 10)
}

func parseResumeID(idParam string) (uint, error) {
	id, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidResumeID
	}
	return uint(id), nil
}

func (h *ResumeHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
