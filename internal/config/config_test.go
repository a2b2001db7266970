package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigFromYAML 验证YAML配置能否被正确加载并补齐默认值
func TestLoadConfigFromYAML(t *testing.T) {
	yamlContent := `
openai:
  api_key: "sk-test"
  model: "gpt-4o-mini"
  task_models:
    knowledge_extraction: "gpt-4o"
qdrant:
  endpoint: "http://localhost:6333"
  knowledge_collection: "hospital_knowledge"
  dimension: 1536
server:
  address: ":9090"
agent:
  modelName: "gpt-4o"
  maxSteps: 8
  stepTimeout: "30s"
`
	tmpDir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err, "无法创建临时目录")
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err, "无法写入临时配置文件")

	config, err := LoadConfig(configPath)
	require.NoError(t, err, "加载配置不应返回错误")
	require.NotNil(t, config)

	// YAML中显式给出的值
	assert.Equal(t, "gpt-4o-mini", config.OpenAI.Model)
	assert.Equal(t, "hospital_knowledge", config.Qdrant.KnowledgeCollection)
	assert.Equal(t, ":9090", config.Server.Address)
	assert.Equal(t, 8, config.Agent.MaxSteps)
	assert.Equal(t, "30s", config.Agent.StepTimeout)

	// 未显式给出的值应被补齐默认值
	assert.Equal(t, "healthcare_predictions", config.Qdrant.PredictionCollection)
	assert.Equal(t, 3, config.Qdrant.DefaultSearchLimit)
	assert.Equal(t, "text-embedding-3-small", config.OpenAI.Embedding.Model)
	assert.Equal(t, 1536, config.OpenAI.Embedding.Dimensions)
	assert.Equal(t, 20, config.Server.MaxUploadSizeMB)
	assert.Equal(t, "disable", config.Postgres.SSLMode)
}

// TestLoadConfigEnvOverride 环境变量应覆盖文件中的同名配置
func TestLoadConfigEnvOverride(t *testing.T) {
	yamlContent := `
openai:
  api_key: "file-key"
server:
  address: ":8080"
`
	tmpDir, err := os.MkdirTemp("", "config-test-env")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("API_KEY", "server-secret")

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-key", config.OpenAI.APIKey, "OPENAI_API_KEY环境变量应覆盖文件配置")
	assert.Equal(t, "server-secret", config.Server.APIKey, "API_KEY环境变量应启用接口鉴权")
}

// TestGetModelForTask 任务专用模型命中则优先，否则回退默认模型
func TestGetModelForTask(t *testing.T) {
	config := createDefaultConfig()
	config.OpenAI.Model = "gpt-4o-mini"
	config.OpenAI.TaskModels = map[string]string{
		"knowledge_extraction": "gpt-4o",
		"empty_task":           "",
	}

	assert.Equal(t, "gpt-4o", config.GetModelForTask("knowledge_extraction"))
	assert.Equal(t, "gpt-4o-mini", config.GetModelForTask("recommendation"), "未配置的任务应回退到默认模型")
	assert.Equal(t, "gpt-4o-mini", config.GetModelForTask("empty_task"), "空字符串配置应回退到默认模型")
}

// TestPostgresDSN 验证gorm连接串拼接
func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:                  "db.internal",
		Port:                  5433,
		Username:              "app",
		Password:              "secret",
		Database:              "healthcare_db",
		SSLMode:               "require",
		ConnectTimeoutSeconds: 3,
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "dbname=healthcare_db")
	assert.Contains(t, dsn, "sslmode=require")
	assert.Contains(t, dsn, "connect_timeout=3")
}

// TestGetDuration 非法或空字符串都应回退默认值
func TestGetDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, GetDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("not-a-duration", time.Minute))
}
