package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`      // 连接池大小
	MinIdleConns int `yaml:"min_idle_conns"` // 最小空闲连接数
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`  // 连接超时(秒)
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`  // 读取超时(秒)
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"` // 写入超时(秒)
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`          // 最大重试次数
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"` // 最小重试间隔(毫秒)
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"` // 最大重试间隔(毫秒)
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)
	// 上传文件MD5记录过期时间(天)
	MD5RecordExpireDays int `yaml:"md5_record_expire_days"`
}

// Config 应用程序配置
type Config struct {
	OpenAI struct {
		APIKey     string            `yaml:"api_key"`
		APIURL     string            `yaml:"api_url"`
		Model      string            `yaml:"model"`
		TaskModels map[string]string `yaml:"task_models"` // 任务专用模型
		Embedding  EmbeddingConfig   `yaml:"embedding"`
	} `yaml:"openai"`

	Qdrant QdrantConfig `yaml:"qdrant"`

	// MinIO配置（原始文档归档）
	MinIO MinIOConfig `yaml:"minio"`

	// PostgreSQL配置
	Postgres PostgresConfig `yaml:"postgres"`

	// Redis配置
	Redis RedisConfig `yaml:"redis"`

	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// LLM知识抽取器配置
	Extractor ExtractorConfig `yaml:"extractor"`

	// 推荐代理配置
	Agent AgentConfig `yaml:"agent"`

	// 日志配置
	Logger LoggerConfig `yaml:"logger"`

	// 链路追踪配置
	Tracing TracingConfig `yaml:"tracing"`

	// 模型QPM限制配置
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`
}

// EmbeddingConfig OpenAI Embedding specific configuration
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
}

// QdrantConfig Qdrant向量数据库配置
type QdrantConfig struct {
	Endpoint             string `yaml:"endpoint"`
	KnowledgeCollection  string `yaml:"knowledge_collection"`  // 知识库集合
	PredictionCollection string `yaml:"prediction_collection"` // 预测文档集合
	Dimension            int    `yaml:"dimension"`             // 知识向量维度
	APIKey               string `yaml:"api_key,omitempty"`     // 可选的API Key
	DefaultSearchLimit   int    `yaml:"default_search_limit"`  // 默认搜索结果数量
}

// MinIOConfig MinIO配置结构
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	// 原始知识文档存储桶
	OriginalsBucket string `yaml:"originalsBucket"`
	Location        string `yaml:"location"` // 可选，存储桶区域
	// 原始文件过期天数，0 表示永不过期
	OriginalFileExpireDays int `yaml:"original_file_expire_days"`
}

// PostgresConfig PostgreSQL配置结构
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	// 连接池设置
	MaxIdleConns int `yaml:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int `yaml:"max_open_conns"` // 最大打开连接数
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeSeconds int `yaml:"conn_max_idle_time_seconds"` // 空闲连接最大生命周期(秒)
	// 超时设置
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"` // 连接超时(秒)
	// 日志设置
	LogLevel int `yaml:"log_level"` // 日志级别(1-4)
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8080" or "0.0.0.0:8080"
	// APIKey 非空时启用 X-API-Key 鉴权
	APIKey string `yaml:"api_key,omitempty"`
	// 上传文件大小上限(MB)
	MaxUploadSizeMB int `yaml:"max_upload_size_mb"`
}

// ExtractorConfig 定义LLM知识抽取器的配置
type ExtractorConfig struct {
	ModelName         string  `yaml:"modelName"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"maxTokens"`
	ExtractionTimeout string  `yaml:"extractionTimeout"` // 单次抽取超时，例如 "60s"
	QPM               int     `yaml:"qpm"`               // 每分钟请求数限制
	MaxRetries        int     `yaml:"maxRetries"`        // 最大重试次数
	RetryWaitSeconds  int     `yaml:"retryWaitSeconds"`  // 重试等待时间(秒)
}

// AgentConfig 定义推荐代理的配置
type AgentConfig struct {
	ModelName        string  `yaml:"modelName"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"maxTokens"`
	MaxSteps         int     `yaml:"maxSteps"`         // 工具调用循环上限
	StepTimeout      string  `yaml:"stepTimeout"`      // 单步超时
	QPM              int     `yaml:"qpm"`              // 每分钟请求数限制
	MaxRetries       int     `yaml:"maxRetries"`       // 最大重试次数
	RetryWaitSeconds int     `yaml:"retryWaitSeconds"` // 重试等待时间(秒)
}

// TracingConfig OTLP链路追踪配置
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// OTLP gRPC采集端点，例如 "localhost:4317"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件路径，则尝试在默认位置查找
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".health-agent", "config.yaml"),
		}

		// 可执行文件所在目录及其上级目录
		execPath, err := os.Executable()
		if err == nil {
			execDir := filepath.Dir(execPath)
			searchPaths = append(searchPaths, filepath.Join(execDir, "config.yaml"))
			searchPaths = append(searchPaths, filepath.Join(execDir, "..", "config.yaml"))
		}

		// 测试环境下追加可能的项目根目录
		workDir, err := os.Getwd()
		if err == nil && isTestEnv(workDir) {
			projectRoots := []string{
				workDir,
				filepath.Join(workDir, ".."),
				filepath.Join(workDir, "..", ".."),
				filepath.Join(workDir, "..", "..", ".."),
			}
			for _, root := range projectRoots {
				searchPaths = append(searchPaths, filepath.Join(root, "config.yaml"))
			}
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		// 仍找不到配置文件时，测试环境返回默认配置
		if configPath == "" {
			if isTestEnv("") {
				return createDefaultConfig(), nil
			}
			configPath = "config.yaml"
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		if isTestEnv("") {
			return createDefaultConfig(), nil
		}
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 从环境变量覆盖配置（如果存在）
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		config.OpenAI.APIKey = envKey
	}
	if envURL := os.Getenv("OPENAI_API_URL"); envURL != "" {
		config.OpenAI.APIURL = envURL
	}
	if envModel := os.Getenv("OPENAI_MODEL"); envModel != "" {
		config.OpenAI.Model = envModel
	}
	if envKey := os.Getenv("QDRANT_API_KEY"); envKey != "" {
		config.Qdrant.APIKey = envKey
	}
	if envKey := os.Getenv("API_KEY"); envKey != "" {
		config.Server.APIKey = envKey
	}

	applyDefaults(&config)

	return &config, nil
}

// isTestEnv 通过工作目录和命令行参数粗略判断是否在 go test 下运行
func isTestEnv(workDir string) bool {
	if workDir != "" && strings.Contains(workDir, "tmp") && strings.Contains(workDir, "test") {
		return true
	}
	for _, arg := range os.Args {
		if strings.Contains(arg, "test") {
			return true
		}
	}
	return false
}

// applyDefaults 补齐未在YAML中给出的关键默认值
func applyDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Server.MaxUploadSizeMB == 0 {
		config.Server.MaxUploadSizeMB = 20
	}
	if config.OpenAI.Embedding.Model == "" {
		config.OpenAI.Embedding.Model = "text-embedding-3-small"
	}
	if config.OpenAI.Embedding.Dimensions == 0 {
		config.OpenAI.Embedding.Dimensions = 1536
	}
	if config.OpenAI.Embedding.BaseURL == "" {
		config.OpenAI.Embedding.BaseURL = "https://api.openai.com/v1/embeddings"
	}
	if config.Qdrant.KnowledgeCollection == "" {
		config.Qdrant.KnowledgeCollection = "healthcare_knowledge"
	}
	if config.Qdrant.PredictionCollection == "" {
		config.Qdrant.PredictionCollection = "healthcare_predictions"
	}
	if config.Qdrant.Dimension == 0 {
		config.Qdrant.Dimension = 1536
	}
	if config.Qdrant.DefaultSearchLimit == 0 {
		config.Qdrant.DefaultSearchLimit = 3
	}
	if config.Postgres.SSLMode == "" {
		config.Postgres.SSLMode = "disable"
	}
	if config.Postgres.MaxOpenConns == 0 {
		config.Postgres.MaxOpenConns = 20
	}
	if config.Postgres.ConnMaxIdleTimeSeconds == 0 {
		config.Postgres.ConnMaxIdleTimeSeconds = 30
	}
	if config.Postgres.ConnectTimeoutSeconds == 0 {
		config.Postgres.ConnectTimeoutSeconds = 2
	}
	if config.Agent.MaxSteps == 0 {
		config.Agent.MaxSteps = 6
	}
	if config.Tracing.Endpoint == "" {
		config.Tracing.Endpoint = "localhost:4317"
	}
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = "health-agent"
	}
}

// 创建一个默认配置，用于测试环境
func createDefaultConfig() *Config {
	config := &Config{}
	config.OpenAI.APIURL = "https://api.openai.com/v1/chat/completions"
	config.OpenAI.Model = "gpt-4o-mini"
	config.OpenAI.Embedding.Model = "text-embedding-3-small"
	config.OpenAI.Embedding.Dimensions = 1536
	config.OpenAI.Embedding.BaseURL = "https://api.openai.com/v1/embeddings"

	config.Qdrant.Endpoint = "http://localhost:6333"
	config.Qdrant.KnowledgeCollection = "healthcare_knowledge"
	config.Qdrant.PredictionCollection = "healthcare_predictions"
	config.Qdrant.Dimension = 1536
	config.Qdrant.APIKey = ""
	config.Qdrant.DefaultSearchLimit = 3

	// MinIO默认配置
	config.MinIO.Endpoint = "localhost:9000"
	config.MinIO.AccessKeyID = "minioadmin"
	config.MinIO.SecretAccessKey = "minioadmin123"
	config.MinIO.UseSSL = false
	config.MinIO.OriginalsBucket = "knowledge-originals"
	config.MinIO.Location = ""
	config.MinIO.OriginalFileExpireDays = 1095

	// PostgreSQL默认配置
	config.Postgres.Host = "localhost"
	config.Postgres.Port = 5432
	config.Postgres.Username = "healthcare_user"
	config.Postgres.Password = "healthcare_pass_2024"
	config.Postgres.Database = "healthcare_db"
	config.Postgres.SSLMode = "disable"
	config.Postgres.MaxIdleConns = 10
	config.Postgres.MaxOpenConns = 20
	config.Postgres.ConnMaxLifetimeMinutes = 60
	config.Postgres.ConnMaxIdleTimeSeconds = 30
	config.Postgres.ConnectTimeoutSeconds = 2
	config.Postgres.LogLevel = 4 // Info级别

	// Redis默认配置
	config.Redis.Address = "localhost:6379"
	config.Redis.Password = ""
	config.Redis.DB = 0
	config.Redis.PoolSize = 10
	config.Redis.MinIdleConns = 2
	config.Redis.DialTimeoutSeconds = 5
	config.Redis.ReadTimeoutSeconds = 3
	config.Redis.WriteTimeoutSeconds = 3
	config.Redis.MaxRetries = 3
	config.Redis.MinRetryBackoffMS = 8
	config.Redis.MaxRetryBackoffMS = 512
	config.Redis.ConnMaxLifetimeMinutes = 60
	config.Redis.ConnMaxIdleTimeMinutes = 30
	config.Redis.MD5RecordExpireDays = 365

	// 服务器默认配置
	config.Server.Address = ":8080"
	config.Server.MaxUploadSizeMB = 20

	// 抽取器默认配置
	config.Extractor.ModelName = "gpt-4o-mini"
	config.Extractor.Temperature = 0.1
	config.Extractor.MaxTokens = 4096
	config.Extractor.ExtractionTimeout = "60s"
	config.Extractor.MaxRetries = 2
	config.Extractor.RetryWaitSeconds = 2

	// 代理默认配置
	config.Agent.ModelName = "gpt-4o-mini"
	config.Agent.Temperature = 0.2
	config.Agent.MaxTokens = 4096
	config.Agent.MaxSteps = 6
	config.Agent.StepTimeout = "60s"
	config.Agent.MaxRetries = 2
	config.Agent.RetryWaitSeconds = 2

	// 日志默认配置
	config.Logger.Level = "info"
	config.Logger.Format = "pretty" // 开发环境默认使用美化输出
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = true

	// 链路追踪默认配置
	config.Tracing.Enabled = false
	config.Tracing.Endpoint = "localhost:4317"
	config.Tracing.ServiceName = "health-agent"

	// 默认的模型QPM限制
	config.ModelQPMLimits = map[string]int{
		"gpt-4o":      500,
		"gpt-4o-mini": 5000,
	}

	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		config.OpenAI.APIKey = envKey
	} else {
		config.OpenAI.APIKey = "test_api_key"
	}

	return config
}

// CreateSampleConfig 创建一个示例配置文件
func CreateSampleConfig(filePath string) error {
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	config := createDefaultConfig()

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}

	fmt.Printf("示例配置文件已创建: %s\n", filePath)
	return nil
}

// GetModelForTask 根据任务名称获取合适的模型
// 如果任务专用模型存在则返回专用模型，否则返回默认模型
func (c *Config) GetModelForTask(taskName string) string {
	if c.OpenAI.TaskModels != nil {
		if model, ok := c.OpenAI.TaskModels[taskName]; ok && model != "" {
			return model
		}
	}
	return c.OpenAI.Model
}

// DSN 拼接gorm使用的连接串
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode, c.ConnectTimeoutSeconds,
	)
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
