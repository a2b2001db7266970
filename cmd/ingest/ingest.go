package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"health-agent-go/internal/config"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/processor"
	"health-agent-go/internal/storage"
)

// 处理完整摄取命令：抽取条目并写入向量库与数据库
func handleIngestCommand() {
	if *inputFilePath == "" {
		fmt.Println("错误: 必须提供文档路径。使用 -file 参数。")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		fmt.Printf("初始化存储失败: %v\n", err)
		os.Exit(1)
	}
	defer storageManager.Close()

	components, err := processor.NewComponents(ctx, cfg, storageManager)
	if err != nil {
		fmt.Printf("初始化处理组件失败: %v\n", err)
		os.Exit(1)
	}
	service, err := processor.NewKnowledgeService(components)
	if err != nil {
		fmt.Printf("初始化知识库服务失败: %v\n", err)
		os.Exit(1)
	}

	file, err := os.Open(*inputFilePath)
	if err != nil {
		fmt.Printf("打开文件失败: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	fmt.Printf("开始摄取文档: %s\n", *inputFilePath)
	startTime := time.Now()

	result, err := service.IngestDocument(ctx, filepath.Base(*inputFilePath), file)
	if err != nil {
		fmt.Printf("摄取失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("摄取完成! 耗时: %v\n", time.Since(startTime))
	fmt.Printf("状态: %s\n", result.Status)
	fmt.Printf("解析条目: %d, 已索引: %d, 已跳过: %d\n",
		result.EntriesParsed, result.EntriesIndexed, result.EntriesSkipped)
}
