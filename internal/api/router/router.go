package router

import (
	"context"
	"fmt"

	"health-agent-go/internal/api/handler"
	"health-agent-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册全部 API 路由。
// 配置了 Server.APIKey 时，/api/v1 下除 /health 外的路由启用 X-API-Key 鉴权。
func RegisterRoutes(h *server.Hertz, cfg *config.Config, healthHandler *handler.HealthHandler, knowledgeHandler *handler.KnowledgeHandler, predictionHandler *handler.PredictionHandler) {
	api := h.Group("/api/v1")

	api.GET("/health", healthHandler.Check)

	if cfg.Server.APIKey != "" {
		api.Use(apiKeyMiddleware(cfg.Server.APIKey))
	}

	api.POST("/predict", predictionHandler.Predict)
	api.GET("/predictions", predictionHandler.List)
	api.GET("/predictions/:id", predictionHandler.Get)

	api.POST("/knowledge/upload", knowledgeHandler.Upload)
	api.POST("/knowledge/add", knowledgeHandler.AddEntry)
	api.GET("/knowledge", knowledgeHandler.List)
	api.GET("/knowledge/stats", knowledgeHandler.Stats)
	api.DELETE("/knowledge/:id", knowledgeHandler.Delete)

	h.NoRoute(func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusNotFound, handler.Response{
			StatusCode: handler.CodeFail,
			Message:    fmt.Sprintf("Can't find %s on the server!", string(ctx.Path())),
		})
	})
}

// apiKeyMiddleware 基于 X-API-Key 请求头的鉴权中间件
func apiKeyMiddleware(expectedKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:X-API-Key", ""),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			return key == expectedKey, nil
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			ctx.JSON(consts.StatusUnauthorized, handler.Response{
				StatusCode: handler.CodeFail,
				Message:    "无效或缺失的API Key",
			})
			ctx.Abort()
		}),
	)
}
