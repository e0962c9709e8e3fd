package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/document"
	"cvforge/internal/errcode"
	"cvforge/internal/pdf"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
)

// PDFExportHandler 负责消费简历 PDF 导出任务。
type PDFExportHandler struct {
	db          *gorm.DB
	store       *document.Store
	storage     *storage.Client
	redisClient redis.UniversalClient
	generator   *pdf.Generator
	logger      *slog.Logger
}

// NewPDFExportHandler 创建任务处理器。
func NewPDFExportHandler(
	db *gorm.DB,
	store *document.Store,
	storageClient *storage.Client,
	redisClient redis.UniversalClient,
	generator *pdf.Generator,
	logger *slog.Logger,
) *PDFExportHandler {
	return &PDFExportHandler{
		db:          db,
		store:       store,
		storage:     storageClient,
		redisClient: redisClient,
		generator:   generator,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFExportHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PDFExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("resume_id", uint64(payload.ResumeID)),
	)
	log.Info("starting pdf export task")

	var resume database.Resume
	if err := h.db.WithContext(ctx).First(&resume, payload.ResumeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume not found, skipping task")
			return nil
		}
		log.Error("query resume failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(resume.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		if err := h.db.WithContext(ctx).Model(&resume).
			UpdateColumn("status", "export_failed").Error; err != nil {
			log.Error("mark resume export failed", slog.Any("error", err))
		}
		notify := PDFExportNotifyMessage{
			Status:        "error",
			ResumeID:      resume.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishExportNotify(ctx, resume.UserID, notify); err != nil {
			log.Error("publish pdf error notification failed", slog.Any("error", err))
		}
	}()

	snap, err := h.store.LoadUnchecked(ctx, resume.ID)
	if err != nil {
		log.Error("load resume snapshot failed", slog.Any("error", err))
		return err
	}

	photoURL, missingKeys := h.resolvePhotoURL(ctx, &resume, snap)

	html, err := RenderResumeHTML(snap, photoURL)
	if err != nil {
		log.Error("render resume html failed", slog.Any("error", err))
		return err
	}

	pdfBytes, err := h.generator.FromHTML(ctx, html)
	if err != nil {
		log.Error("generate pdf failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("generated-resumes/%d/%s.pdf", resume.UserID, uuid.NewString())
	pdfReader := bytes.NewReader(pdfBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, pdfReader, int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"pdf_url": objectName,
		"status":  "completed",
	}
	if err := h.db.WithContext(ctx).Model(&resume).Updates(update).Error; err != nil {
		log.Error("update resume failed", slog.Any("error", err))
		return err
	}

	notify := PDFExportNotifyMessage{
		Status:        "completed",
		ResumeID:      resume.ID,
		CorrelationID: payload.CorrelationID,
		PdfObjectKey:  objectName,
		ErrorCode:     errcode.OK,
	}
	if len(missingKeys) > 0 {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "部分图片资源缺失/无效，已自动跳过并继续生成"
		notify.MissingKeys = missingKeys
		log.Warn("pdf exported with missing assets",
			slog.Int("missing_count", len(missingKeys)),
			slog.Any("missing_keys", missingKeys),
		)
	}
	if err := h.publishExportNotify(ctx, resume.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("pdf export task completed")
	return nil
}

// resolvePhotoURL 把照片对象键换成限时 URL。
// 对象缺失不阻断导出，只在通知中携带缺失键。
func (h *PDFExportHandler) resolvePhotoURL(ctx context.Context, resume *database.Resume, snap *document.Snapshot) (string, []string) {
	key := strings.TrimSpace(resume.PhotoObjectKey)
	if key == "" && snap.PersonalInfo != nil {
		key = strings.TrimSpace(snap.PersonalInfo.PhotoKey)
	}
	if key == "" {
		return "", nil
	}

	obj, err := h.storage.GetObject(ctx, key)
	if err == nil {
		_, statErr := obj.Stat()
		_ = obj.Close()
		if statErr != nil {
			if storage.IsNoSuchKey(statErr) {
				return "", []string{key}
			}
			h.logger.Warn("stat photo object failed", slog.String("key", key), slog.Any("error", statErr))
			return "", []string{key}
		}
	}

	url, err := h.storage.GeneratePresignedURL(ctx, key, 10*time.Minute)
	if err != nil {
		h.logger.Warn("presign photo url failed", slog.String("key", key), slog.Any("error", err))
		return "", []string{key}
	}
	return url, nil
}

func (h *PDFExportHandler) publishExportNotify(ctx context.Context, userID uint, notify PDFExportNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
