package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"health-agent-go/internal/config"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/processor"
	"health-agent-go/internal/storage"
	"health-agent-go/pkg/agent"
)

// 定义检索命令的命令行参数
var (
	searchQuery = flag.String("query", "", "检索查询语句")
	searchLimit = flag.Int("limit", 3, "返回条目数量")
)

// 处理语义检索命令
func handleSearchCommand() {
	if *searchQuery == "" {
		fmt.Println("错误: 必须提供查询语句。使用 -query 参数。")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logger.Config{Level: "warn", Format: cfg.Logger.Format})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
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
	if components.VectorStore == nil {
		fmt.Println("Qdrant未配置，无法执行语义检索")
		os.Exit(1)
	}

	fmt.Printf("检索: %q (limit=%d)\n", *searchQuery, *searchLimit)
	startTime := time.Now()

	results, err := components.VectorStore.SearchKnowledge(ctx, *searchQuery, *searchLimit)
	if err != nil {
		fmt.Printf("检索失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("检索完成! 耗时: %v，命中 %d 条\n\n", time.Since(startTime), len(results))
	if len(results) == 0 {
		fmt.Println(agent.NoKnowledgeFoundMessage)
		return
	}
	fmt.Println(agent.FormatSearchResults(results))
}
