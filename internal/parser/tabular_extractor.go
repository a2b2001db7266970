package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"health-agent-go/internal/types"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFileType 文件扩展名不在支持列表中
var ErrUnsupportedFileType = fmt.Errorf("unsupported file type")

// DetectSourceType 根据文件扩展名判断来源类型
func DetectSourceType(filename string) (types.SourceType, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return types.SourcePDF, nil
	case ".csv":
		return types.SourceCSV, nil
	case ".xlsx", ".xls":
		return types.SourceExcel, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(filename))
	}
}

// TabularExtractor 从CSV/Excel表格中读取行记录。
// 每行输出为 原始表头 -> 单元格文本 的map，表头别名映射由上层规范化阶段处理。
type TabularExtractor struct {
	logger *log.Logger
}

// TabularOption 表格提取器的配置选项
type TabularOption func(*TabularExtractor)

// WithTabularLogger 配置自定义日志记录器
func WithTabularLogger(logger *log.Logger) TabularOption {
	return func(t *TabularExtractor) {
		t.logger = logger
	}
}

// NewTabularExtractor 创建表格提取器
func NewTabularExtractor(options ...TabularOption) *TabularExtractor {
	extractor := &TabularExtractor{
		logger: log.New(os.Stderr, "[表格解析器] ", log.LstdFlags),
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor
}

// ExtractFromReader 根据文件名判断格式并提取行记录
func (t *TabularExtractor) ExtractFromReader(ctx context.Context, reader io.Reader, filename string) ([]map[string]string, error) {
	sourceType, err := DetectSourceType(filename)
	if err != nil {
		return nil, err
	}

	switch sourceType {
	case types.SourceCSV:
		return t.extractCSV(ctx, reader, filename)
	case types.SourceExcel:
		return t.extractExcel(ctx, reader, filename)
	default:
		return nil, fmt.Errorf("%w: %s 不是表格文件", ErrUnsupportedFileType, filename)
	}
}

// extractCSV 读取CSV，第一行作为表头
func (t *TabularExtractor) extractCSV(ctx context.Context, reader io.Reader, filename string) ([]map[string]string, error) {
	csvReader := csv.NewReader(reader)
	// 允许行字段数不一致，短行按空字符串补齐
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV文件为空: %s", filename)
	}
	if err != nil {
		return nil, fmt.Errorf("读取CSV表头失败: %w", err)
	}

	var records []map[string]string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取CSV行失败: %w", err)
		}
		records = append(records, rowToRecord(header, row))
	}

	t.logger.Printf("CSV %s: 表头 %d 列, 数据 %d 行", filename, len(header), len(records))
	return records, nil
}

// extractExcel 遍历Excel的全部工作表，按表顺序拼接行记录。
// 每个工作表的第一行是它自己的表头，空表跳过。
func (t *TabularExtractor) extractExcel(ctx context.Context, reader io.Reader, filename string) ([]map[string]string, error) {
	workbook, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("打开Excel文件失败: %w", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("Excel文件没有工作表: %s", filename)
	}

	var records []map[string]string
	nonEmptySheets := 0
	for _, sheet := range sheets {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("读取工作表 %s 失败: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		nonEmptySheets++

		header := rows[0]
		for _, row := range rows[1:] {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			records = append(records, rowToRecord(header, row))
		}
	}
	if nonEmptySheets == 0 {
		return nil, fmt.Errorf("Excel文件的所有工作表均为空: %s", filename)
	}

	t.logger.Printf("Excel %s: %d 个工作表, 数据 %d 行", filename, len(sheets), len(records))
	return records, nil
}

// rowToRecord 按表头组装一行记录，超出表头的单元格被忽略
func rowToRecord(header []string, row []string) map[string]string {
	record := make(map[string]string, len(header))
	for i, key := range header {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		var value string
		if i < len(row) {
			value = strings.TrimSpace(row[i])
		}
		record[key] = value
	}
	return record
}
