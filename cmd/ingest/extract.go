package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"health-agent-go/internal/parser"
)

// 定义提取命令的命令行参数
var (
	extractSaveFile = flag.String("extract-save", "", "保存提取内容到文件")
)

// 处理提取文本命令，仅支持PDF
func handleExtractCommand() {
	if *inputFilePath == "" {
		fmt.Println("错误: 必须提供文档路径。使用 -file 参数。")
		flag.Usage()
		os.Exit(1)
	}

	absPath, err := filepath.Abs(*inputFilePath)
	if err != nil {
		fmt.Printf("无法获取文件的绝对路径: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(absPath); err != nil {
		fmt.Printf("无法访问文件 %s: %v\n", absPath, err)
		os.Exit(1)
	}

	fmt.Printf("准备处理文档: %s\n", absPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	extractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		fmt.Printf("创建PDF提取器失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("开始从PDF提取文本...")
	startTime := time.Now()

	text, metadata, err := extractor.ExtractFromFile(ctx, absPath)
	if err != nil {
		fmt.Printf("提取PDF文本失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("提取完成! 耗时: %v\n", time.Since(startTime))

	fmt.Printf("\n===== 提取的文本 (总计 %d 字符) =====\n", len(text))
	displayText := text
	if *maxLen >= 0 && len(text) > *maxLen {
		displayText = text[:*maxLen] + "...(已截断，使用 -maxlen 参数显示更多)"
	}
	fmt.Println(displayText)

	fmt.Println("\n===== 元数据 =====")
	for k, v := range metadata {
		fmt.Printf("  %s: %v\n", k, v)
	}

	if *extractSaveFile != "" {
		if err := os.WriteFile(*extractSaveFile, []byte(text), 0644); err != nil {
			fmt.Printf("保存到文件失败: %v\n", err)
		} else {
			fmt.Printf("文本已保存到: %s\n", *extractSaveFile)
		}
	}
}
