package parser

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEinoPDFTextExtractor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")
	require.NotNil(t, extractor, "创建的PDF提取器不应为nil")
	require.NotNil(t, extractor.parser, "PDF提取器内部的parser不应为nil")
	require.NotNil(t, extractor.logger, "PDF提取器应该有默认的logger")

	// 测试带自定义logger的创建
	customLogger := log.New(os.Stdout, "[测试PDF提取器] ", log.LstdFlags)
	extractorWithCustomLogger, err := NewEinoPDFTextExtractor(ctx, WithEinoLogger(customLogger))
	require.NoError(t, err, "创建带自定义logger的PDF提取器不应返回错误")
	require.Equal(t, customLogger, extractorWithCustomLogger.logger, "应该使用提供的自定义logger")
}

// findTestPDFFiles 查找测试目录中的PDF文件
func findTestPDFFiles() []string {
	searchDirs := []string{
		"testdata",
		"../testdata",
		"../../testdata",
	}

	var foundFiles []string
	for _, dir := range searchDirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, file := range files {
			if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".pdf") {
				foundFiles = append(foundFiles, filepath.Join(dir, file.Name()))
			}
		}
	}

	return foundFiles
}

func TestExtractFromFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")

	testFiles := findTestPDFFiles()
	if len(testFiles) == 0 {
		t.Skip("找不到测试PDF文件，跳过测试")
		return
	}

	filePath := testFiles[0]
	text, metadata, err := extractor.ExtractFromFile(ctx, filePath)
	require.NoError(t, err, "PDF提取不应返回错误")

	assert.NotEmpty(t, text, "提取的文本内容不应为空")
	t.Logf("从%s提取了%d个字符的文本", filePath, len(text))

	assert.NotNil(t, metadata, "元数据不应为nil")
	assert.Contains(t, metadata, "source_file_path", "元数据应该包含source_file_path")
	assert.Equal(t, filePath, metadata["source_file_path"], "source_file_path应该是文件路径")
}

func TestExtractTextFromReader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")

	testFiles := findTestPDFFiles()
	if len(testFiles) == 0 {
		t.Skip("找不到测试PDF文件，跳过测试")
		return
	}

	file, err := os.Open(testFiles[0])
	require.NoError(t, err, "打开测试PDF文件不应返回错误")
	defer file.Close()

	text, metadata, err := extractor.ExtractTextFromReader(ctx, file, "test_uri", map[string]interface{}{
		"test_meta_key": "test_meta_value",
	})
	require.NoError(t, err, "从Reader提取文本不应返回错误")

	assert.NotEmpty(t, text, "提取的文本内容不应为空")
	assert.NotNil(t, metadata, "元数据不应为nil")
	assert.Contains(t, metadata, "test_meta_key", "元数据应包含我们传入的键")
}

// TestExtractTextFromInvalidBytes 使用非法PDF数据测试错误处理
func TestExtractTextFromInvalidBytes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")

	mockPDFContent := []byte("%PDF-1.5\nMock PDF content for testing\nThis is not a real PDF file\n")
	mockReader := bytes.NewReader(mockPDFContent)

	text, metadata, err := extractor.ExtractTextFromReader(ctx, mockReader, "mock_pdf.pdf", map[string]interface{}{
		"mock_test": true,
	})

	// 这不是有效的PDF，预期会有错误；关注的是流程不崩溃且元数据被保留
	if err == nil {
		t.Log("注意：模拟PDF解析成功，这可能表明解析器太宽松")
	} else {
		t.Logf("预期的错误: %v", err)
	}

	if metadata != nil {
		assert.Equal(t, true, metadata["mock_test"], "元数据应包含我们传入的值")
	}

	if text != "" {
		t.Logf("从模拟PDF提取的文本: %s", text)
	}
}

// TestExtractFromNonExistentFile 测试从不存在的文件提取文本
func TestExtractFromNonExistentFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")

	nonExistentPath := "/path/to/non/existent/file-" + time.Now().Format("20060102150405") + ".pdf"

	_, _, err = extractor.ExtractFromFile(ctx, nonExistentPath)
	require.Error(t, err, "从不存在的文件提取应该返回错误")
	assert.Contains(t, err.Error(), "failed to open PDF file", "错误消息应该指示文件打开失败")
}
