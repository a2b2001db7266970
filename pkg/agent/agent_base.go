package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"

	"github.com/cloudwego/eino/schema"
)

// AgentState 表示代理的当前状态
type AgentState int

const (
	AgentStateIdle AgentState = iota
	AgentStateRunning
	AgentStateFinished
	AgentStateError
)

// String 方法使得 AgentState 可以被打印
func (s AgentState) String() string {
	switch s {
	case AgentStateIdle:
		return "IDLE"
	case AgentStateRunning:
		return "RUNNING"
	case AgentStateFinished:
		return "FINISHED"
	case AgentStateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Stepper 定义了代理执行单步的接口
type Stepper interface {
	Step(ctx context.Context, agent *BaseAgent) (string, error)
}

// BaseAgent 是所有 Agent 的基础实现
type BaseAgent struct {
	Name         string
	SystemPrompt string
	State        AgentState
	CurrentStep  int
	MaxSteps     int
	ChatClient   model.ToolCallingChatModel
	Stepper      Stepper
	ChatMemory   ChatMemory
	SessionId    string
}

// NewBaseAgent 创建一个新的 BaseAgent
func NewBaseAgent(name string, systemPrompt string, maxSteps int, client model.ToolCallingChatModel, stepper Stepper, memory ChatMemory, sessionID string) *BaseAgent {
	if memory == nil {
		log.Println("[BaseAgent] Warning: ChatMemory is nil. Creating default InMemoryChatMemory.")
		memory = NewInMemoryChatMemory()
	}
	return &BaseAgent{
		Name:         name,
		SystemPrompt: systemPrompt,
		State:        AgentStateIdle,
		MaxSteps:     maxSteps,
		ChatClient:   client,
		Stepper:      stepper,
		ChatMemory:   memory,
		SessionId:    sessionID,
	}
}

// Run 执行代理的主循环：逐步调用 Stepper，直到状态变为 Finished 或达到最大步数。
// 返回值是最后一步的输出；对于 ReAct 循环，这就是 Final Answer 的内容。
func (ba *BaseAgent) Run(ctx context.Context, initialUserPrompt string) (string, error) {
	if ba.State == AgentStateRunning {
		return "", fmt.Errorf("代理 '%s' (会话: '%s') 已在运行中", ba.Name, ba.SessionId)
	}
	ba.State = AgentStateRunning
	log.Printf("代理 '%s' (会话: '%s'): 开始执行，最大步数 %d", ba.Name, ba.SessionId, ba.MaxSteps)

	if ba.SystemPrompt != "" {
		if err := ba.ChatMemory.AddMessage(ba.SessionId, schema.SystemMessage(ba.SystemPrompt)); err != nil {
			ba.State = AgentStateError
			return "", fmt.Errorf("代理 '%s' (会话: '%s'): 添加系统提示到内存失败: %w", ba.Name, ba.SessionId, err)
		}
	}

	userMessage := schema.UserMessage(initialUserPrompt)
	if err := ba.ChatMemory.AddMessage(ba.SessionId, userMessage); err != nil {
		ba.State = AgentStateError
		return "", fmt.Errorf("代理 '%s' (会话: '%s'): 添加初始用户消息到内存失败: %w", ba.Name, ba.SessionId, err)
	}

	var lastOutput string
	for i := 0; i < ba.MaxSteps; i++ {
		ba.CurrentStep = i + 1
		log.Printf("代理 '%s' (会话: '%s'): 执行步骤 %d/%d", ba.Name, ba.SessionId, ba.CurrentStep, ba.MaxSteps)

		stepOutput, err := ba.Stepper.Step(ctx, ba)
		if err != nil {
			ba.State = AgentStateError
			log.Printf("代理 '%s' (会话: '%s'): 步骤 %d 执行错误: %v", ba.Name, ba.SessionId, ba.CurrentStep, err)
			return "", fmt.Errorf("代理 '%s' (会话: '%s'): 步骤 %d 执行错误: %w", ba.Name, ba.SessionId, ba.CurrentStep, err)
		}

		lastOutput = stepOutput

		if ba.State == AgentStateFinished {
			log.Printf("代理 '%s' (会话: '%s') 在步骤 %d 完成。", ba.Name, ba.SessionId, ba.CurrentStep)
			break
		}
	}

	if ba.State != AgentStateFinished {
		log.Printf("代理 '%s' (会话: '%s') 在 %d 步后达到最大步数限制但未完成。", ba.Name, ba.SessionId, ba.MaxSteps)
		ba.State = AgentStateFinished
	}

	log.Printf("代理 '%s' (会话: '%s') 执行完毕。", ba.Name, ba.SessionId)
	return lastOutput, nil
}

// AddMessage 将消息添加到当前会话的聊天记录中
func (ba *BaseAgent) AddMessage(msg *schema.Message) error {
	return ba.ChatMemory.AddMessage(ba.SessionId, msg)
}

// GetHistory 获取当前会话的聊天记录
func (ba *BaseAgent) GetHistory() ([]*schema.Message, error) {
	return ba.ChatMemory.GetHistory(ba.SessionId)
}

// SetState 设置代理状态
func (ba *BaseAgent) SetState(state AgentState) {
	ba.State = state
}

// GetState 获取代理状态
func (ba *BaseAgent) GetState() AgentState {
	return ba.State
}
