package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"health-agent-go/internal/constants"
	"health-agent-go/internal/parser"
)

// 定义分块命令的命令行参数
var (
	chunkSize    = flag.Int("chunk-size", constants.ChunkSize, "切块大小（字符数）")
	chunkOverlap = flag.Int("chunk-overlap", constants.ChunkOverlap, "相邻块重叠（字符数）")
)

// 处理分块预览命令：提取PDF文本并展示送入LLM前的切块
func handleChunkCommand() {
	if *inputFilePath == "" {
		fmt.Println("错误: 必须提供文档路径。使用 -file 参数。")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	extractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		fmt.Printf("创建PDF提取器失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("1. 开始从PDF提取文本...")
	startTime := time.Now()
	text, _, err := extractor.ExtractFromFile(ctx, *inputFilePath)
	if err != nil {
		fmt.Printf("提取PDF文本失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("提取完成! 耗时: %v，提取了 %d 字符文本\n", time.Since(startTime), len(text))

	fmt.Println("2. 开始切块...")
	chunks := parser.SplitTextIntoChunks(text, *chunkSize, *chunkOverlap)
	fmt.Printf("切块完成! 共 %d 块 (size=%d, overlap=%d)\n", len(chunks), *chunkSize, *chunkOverlap)

	for i, chunk := range chunks {
		preview := chunk
		if *maxLen >= 0 && len(preview) > *maxLen {
			preview = preview[:*maxLen] + "..."
		}
		fmt.Printf("\n===== 块 %d/%d (%d 字符) =====\n%s\n", i+1, len(chunks), len(chunk), preview)
	}
}
