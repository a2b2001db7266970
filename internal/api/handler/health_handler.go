package handler

import (
	"context"

	"health-agent-go/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// HealthHandler 存活探针，附带各存储组件的可用性
type HealthHandler struct {
	store            *storage.Storage
	vectorStoreReady bool
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(store *storage.Storage, vectorStoreReady bool) *HealthHandler {
	return &HealthHandler{
		store:            store,
		vectorStoreReady: vectorStoreReady,
	}
}

// Check 健康检查
// GET /api/v1/health
func (h *HealthHandler) Check(c context.Context, ctx *app.RequestContext) {
	components := map[string]string{
		"postgres": h.postgresStatus(c),
		"redis":    h.redisStatus(c),
		"minio":    h.minioStatus(),
		"qdrant":   boolStatus(h.vectorStoreReady),
	}

	status := "ok"
	// PostgreSQL是权威存储，其他组件缺失只降级
	if components["postgres"] != "ok" {
		status = "degraded"
	}

	RespondSuccess(ctx, consts.StatusOK, "健康检查", map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

func (h *HealthHandler) postgresStatus(c context.Context) string {
	if h.store == nil || h.store.Postgres == nil {
		return "unavailable"
	}
	sqlDB, err := h.store.Postgres.DB().DB()
	if err != nil {
		return "error"
	}
	if err := sqlDB.PingContext(c); err != nil {
		return "error"
	}
	return "ok"
}

func (h *HealthHandler) redisStatus(c context.Context) string {
	if h.store == nil || h.store.Redis == nil {
		return "unavailable"
	}
	if err := h.store.Redis.Ping(c); err != nil {
		return "error"
	}
	return "ok"
}

func (h *HealthHandler) minioStatus() string {
	if h.store == nil || h.store.MinIO == nil {
		return "unavailable"
	}
	return "ok"
}

func boolStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}
