package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// editViewKey 是简历编辑视图的缓存键。
func editViewKey(resumeID uint) string {
	return fmt.Sprintf("cache:resume:edit:%d", resumeID)
}

// RedisInvalidator 在成功变更后删除简历编辑视图缓存。
// 失效是尽力而为：失败只记日志，绝不作为操作失败向上传播。
type RedisInvalidator struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisInvalidator 构造 RedisInvalidator。
func NewRedisInvalidator(client redis.UniversalClient, logger *slog.Logger) *RedisInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisInvalidator{client: client, logger: logger}
}

// Invalidate 删除缓存键。使用独立的短超时上下文，
// 请求上下文取消不应阻断失效信号。
func (r *RedisInvalidator) Invalidate(ctx context.Context, resumeID uint) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := r.client.Del(ctx, editViewKey(resumeID)).Err(); err != nil {
		r.logger.Warn("cache invalidation failed",
			slog.Uint64("resume_id", uint64(resumeID)),
			slog.Any("error", err),
		)
	}
}
