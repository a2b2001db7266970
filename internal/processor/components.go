package processor

import (
	"context"
	"fmt"
	"time"

	"health-agent-go/internal/config"
	"health-agent-go/internal/constants"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/parser"
	"health-agent-go/internal/storage"
	agentpkg "health-agent-go/pkg/agent"
	"health-agent-go/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("processor")

// Components 聚合摄取和预测两条流水线共享的全部依赖
type Components struct {
	Config *config.Config

	// 存储聚合（PostgreSQL权威，Qdrant/Redis/MinIO可降级）
	Storage *storage.Storage

	// 文档解析
	PDFExtractor *parser.EinoPDFTextExtractor
	Tabular      *parser.TabularExtractor

	// LLM知识抽取
	Extractor *parser.LLMKnowledgeExtractor

	// 向量嵌入与检索
	Embedder    *parser.OpenAIEmbedder
	VectorStore *storage.KnowledgeVectorStore

	// 推荐代理使用的对话模型（已套限流）
	AgentModel model.ToolCallingChatModel
}

// NewComponents 按配置构建全部处理组件。
// Qdrant 未配置时 VectorStore 为 nil，检索与索引在调用处降级。
func NewComponents(ctx context.Context, cfg *config.Config, store *storage.Storage) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if store == nil {
		return nil, ErrStorageNotInit
	}

	c := &Components{
		Config:  cfg,
		Storage: store,
		Tabular: parser.NewTabularExtractor(),
	}

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化PDF提取器失败: %w", err)
	}
	c.PDFExtractor = pdfExtractor

	embedder, err := parser.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.Embedding)
	if err != nil {
		return nil, fmt.Errorf("初始化嵌入器失败: %w", err)
	}
	c.Embedder = embedder

	if store.Qdrant != nil {
		if err := store.Qdrant.EnsureCollection(ctx, cfg.Qdrant.KnowledgeCollection, cfg.Qdrant.Dimension); err != nil {
			logger.Warn().Err(err).Str("collection", cfg.Qdrant.KnowledgeCollection).Msg("确保知识集合存在失败，向量检索可能不可用")
		}
		if err := store.Qdrant.EnsureCollection(ctx, cfg.Qdrant.PredictionCollection, constants.PredictionDimension); err != nil {
			logger.Warn().Err(err).Str("collection", cfg.Qdrant.PredictionCollection).Msg("确保预测集合存在失败，预测文档镜像可能不可用")
		}
		c.VectorStore = storage.NewKnowledgeVectorStore(
			store.Qdrant,
			embedder,
			cfg.Qdrant.KnowledgeCollection,
			cfg.Qdrant.PredictionCollection,
			storage.WithDefaultSearchLimit(cfg.Qdrant.DefaultSearchLimit),
		)
	} else {
		logger.Warn().Msg("Qdrant未配置，知识索引与语义检索不可用")
	}

	extractorModel, err := buildChatModel(cfg, cfg.Extractor.ModelName, "extractor",
		cfg.Extractor.Temperature, cfg.Extractor.MaxTokens,
		cfg.Extractor.QPM, cfg.Extractor.MaxRetries, cfg.Extractor.RetryWaitSeconds)
	if err != nil {
		return nil, fmt.Errorf("初始化抽取模型失败: %w", err)
	}
	c.Extractor = parser.NewLLMKnowledgeExtractor(extractorModel, nil)

	agentModel, err := buildChatModel(cfg, cfg.Agent.ModelName, "agent",
		cfg.Agent.Temperature, cfg.Agent.MaxTokens,
		cfg.Agent.QPM, cfg.Agent.MaxRetries, cfg.Agent.RetryWaitSeconds)
	if err != nil {
		return nil, fmt.Errorf("初始化代理模型失败: %w", err)
	}
	c.AgentModel = agentModel

	return c, nil
}

// buildChatModel 创建OpenAI对话模型并套上QPM限流代理。
// modelName 为空时按任务名回退到 task_models 或全局默认模型。
func buildChatModel(cfg *config.Config, modelName, taskName string, temperature float64, maxTokens, qpm, maxRetries, retryWaitSeconds int) (model.ToolCallingChatModel, error) {
	if modelName == "" {
		modelName = cfg.GetModelForTask(taskName)
	}

	base, err := agentpkg.NewOpenAIChatModel(
		cfg.OpenAI.APIKey,
		modelName,
		cfg.OpenAI.APIURL,
		agentpkg.WithTemperature(temperature),
		agentpkg.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return nil, err
	}

	return ratelimit.NewLLMWithRateLimit(
		base,
		modelName,
		cfg.ModelQPMLimits,
		qpm,
		maxRetries,
		time.Duration(retryWaitSeconds)*time.Second,
	), nil
}
