package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrStorageNotInit     = errors.New("存储未初始化")
	ErrExtractorNotInit   = errors.New("知识抽取器未初始化")
	ErrVectorStoreNotInit = errors.New("向量存储未初始化")
	ErrAgentModelNotInit  = errors.New("代理模型未初始化")
	ErrDuplicateFile      = errors.New("文件内容重复")
	ErrNoEntriesExtracted = errors.New("未能从文档中抽取任何知识条目")
	ErrEntryEmpty         = errors.New("知识条目缺少全部核心字段")
	ErrInvalidScenario    = errors.New("场景输入无效")
	ErrIndexFailed        = errors.New("写入向量库失败")
	ErrPersistFailed      = errors.New("写入数据库失败")
	ErrAgentRunFailed     = errors.New("推荐代理执行失败")
	ErrRecommendationJSON = errors.New("代理输出不是合法的结构化建议")
)

// IngestError 摄取流程中携带上下文的错误
type IngestError struct {
	UploadUUID string
	Filename   string
	Op         string
	BaseErr    error
	Detail     string
}

func (e *IngestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 文件:%s, UUID:%s): %s", e.BaseErr, e.Op, e.Filename, e.UploadUUID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 文件:%s, UUID:%s)", e.BaseErr, e.Op, e.Filename, e.UploadUUID)
}

func (e *IngestError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *IngestError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func newIngestError(uploadUUID, filename, op string, base error, detail string) error {
	return &IngestError{
		UploadUUID: uploadUUID,
		Filename:   filename,
		Op:         op,
		BaseErr:    base,
		Detail:     detail,
	}
}
