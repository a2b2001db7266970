package agent

import (
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// ChatMemory 定义了聊天记忆存储的接口
type ChatMemory interface {
	// GetHistory 获取指定会话ID的聊天历史记录。
	// 如果会话不存在，应返回一个空的 Message 切片和 nil 错误。
	GetHistory(sessionId string) ([]*schema.Message, error)

	// AddMessage 向指定会话ID的聊天历史记录中添加一条消息。
	AddMessage(sessionId string, message *schema.Message) error

	// AddMessages 向指定会话ID的聊天历史记录中批量添加多条消息。
	AddMessages(sessionId string, messages []*schema.Message) error

	// ClearHistory 清除指定会话ID的所有聊天历史记录。
	// 如果会话不存在，此操作应静默成功。
	ClearHistory(sessionId string) error
}

// InMemoryChatMemory 是 ChatMemory 接口的一个简单内存实现。
// 推荐代理的会话在单次请求内开始和结束，不需要持久化的记忆。
type InMemoryChatMemory struct {
	mu        sync.RWMutex
	histories map[string][]*schema.Message
}

// NewInMemoryChatMemory 创建一个新的 InMemoryChatMemory 实例。
func NewInMemoryChatMemory() *InMemoryChatMemory {
	return &InMemoryChatMemory{
		histories: make(map[string][]*schema.Message),
	}
}

// GetHistory 实现 ChatMemory 接口
func (m *InMemoryChatMemory) GetHistory(sessionId string) ([]*schema.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.histories[sessionId]
	if !ok {
		return []*schema.Message{}, nil
	}
	// 返回浅拷贝，防止外部修改内部切片
	cpy := make([]*schema.Message, len(history))
	copy(cpy, history)
	return cpy, nil
}

// AddMessage 实现 ChatMemory 接口
func (m *InMemoryChatMemory) AddMessage(sessionId string, message *schema.Message) error {
	if message == nil {
		return fmt.Errorf("cannot add nil message to chat history for session %s", sessionId)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.histories[sessionId] = append(m.histories[sessionId], message)
	return nil
}

// AddMessages 实现 ChatMemory 接口
func (m *InMemoryChatMemory) AddMessages(sessionId string, messages []*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("cannot add nil message in a batch to chat history for session %s", sessionId)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.histories[sessionId] = append(m.histories[sessionId], messages...)
	return nil
}

// ClearHistory 实现 ChatMemory 接口
func (m *InMemoryChatMemory) ClearHistory(sessionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.histories, sessionId)
	return nil
}
