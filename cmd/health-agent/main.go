package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"health-agent-go/internal/api/handler"
	"health-agent-go/internal/api/router"
	"health-agent-go/internal/config"
	appCoreLogger "health-agent-go/internal/logger"
	"health-agent-go/internal/processor"
	"health-agent-go/internal/storage"
	"health-agent-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var version = "1.0.0" //nolint:gochecknoglobals

// @title Health Agent API
// @version 1.0
// @description 医院人力与物资推荐服务的API文档
// @BasePath /api/v1
func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appCoreLogger.Fatal().Err(err).Msg("加载配置失败")
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 链路追踪
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.ServiceName, version, cfg.Tracing.Endpoint)
		if err != nil {
			glog.Warnf("初始化链路追踪失败: %v，继续以无追踪模式运行", err)
		} else {
			defer func() {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				if err := shutdownTracing(flushCtx); err != nil {
					glog.Warnf("关闭链路追踪失败: %v", err)
				}
			}()
			glog.Infof("链路追踪已启用，导出到 %s", cfg.Tracing.Endpoint)
		}
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	components, err := processor.NewComponents(ctx, cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化处理组件失败: %v", err)
	}
	glog.Info("处理组件初始化成功")

	knowledgeService, err := processor.NewKnowledgeService(components)
	if err != nil {
		glog.Fatalf("初始化知识库服务失败: %v", err)
	}
	predictionService, err := processor.NewPredictionService(components)
	if err != nil {
		glog.Fatalf("初始化预测服务失败: %v", err)
	}

	healthHandler := handler.NewHealthHandler(storageManager, components.VectorStore != nil)
	knowledgeHandler := handler.NewKnowledgeHandler(cfg, knowledgeService)
	predictionHandler := handler.NewPredictionHandler(cfg, predictionService)

	// 每个请求自动生成server span，与tracing.Setup注册的provider衔接
	serverTracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		serverTracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(cfg.Server.MaxUploadSizeMB*1024*1024+1024*1024),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		c = appCoreLogger.WithContext(c)
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})

	router.RegisterRoutes(h, cfg, healthHandler, knowledgeHandler, predictionHandler)
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Fatalf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化zerolog并桥接到Hertz的日志门面
func initLogger(cfg *config.Config) {
	logConfig := appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	}
	if logConfig.Level == "" {
		logConfig.Level = "info"
	}

	var extra *os.File
	if err := os.MkdirAll("logs", 0755); err == nil {
		if f, err := os.OpenFile("logs/app.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			extra = f
		}
	}
	if extra != nil {
		appCoreLogger.InitWithWriter(logConfig, extra)
	} else {
		appCoreLogger.Init(logConfig)
	}

	appCoreLogger.Logger = appCoreLogger.Logger.With().
		Str("app", cfg.Tracing.ServiceName).
		Str("version", version).
		Logger()

	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
}
