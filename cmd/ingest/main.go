package main

import (
	"flag"
	"fmt"
	"os"
)

// 命令行参数定义
var (
	inputFilePath = flag.String("file", "", "知识文档路径 (PDF/CSV/Excel)")
	maxLen        = flag.Int("maxlen", 1000, "显示的文本最大长度，设为-1显示全部")
	command       = flag.String("cmd", "ingest", "执行的命令: extract=仅提取文本, chunk=查看分块, ingest=完整摄取入库, search=语义检索")
	configPath    = flag.String("config", "", "配置文件路径")
)

func main() {
	flag.Parse()

	switch *command {
	case "extract":
		handleExtractCommand()
	case "chunk":
		handleChunkCommand()
	case "ingest":
		handleIngestCommand()
	case "search":
		handleSearchCommand()
	default:
		fmt.Printf("错误: 未知命令 '%s'。支持的命令: extract, chunk, ingest, search\n", *command)
		flag.Usage()
		os.Exit(1)
	}
}
