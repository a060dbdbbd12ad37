package bots

import (
	"time"

	"github.com/yuhaohwang/danmubot/src/danmu"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
)

const (
	// BotStart 机器人启动，事件对象为账户名。
	BotStart events.EventType = "BotStart"
	// BotStop 机器人停止，事件对象为账户名。
	BotStop events.EventType = "BotStop"
	// DanmuReceived 收到一条消息，事件对象为 *DanmuEvent。
	DanmuReceived events.EventType = "DanmuReceived"
	// ReplyGenerated 生成了回复，事件对象为 *ReplyEvent。
	ReplyGenerated events.EventType = "ReplyGenerated"
	// MessageSent 一条消息发送成功，事件对象为 *SentEvent。
	MessageSent events.EventType = "MessageSent"
	// WarmupSent 暖场消息入队，事件对象为 *WarmupEvent。
	WarmupSent events.EventType = "WarmupSent"
	// CommandHandled 执行了一条指令，事件对象为 *CommandEvent。
	CommandHandled events.EventType = "CommandHandled"
	// RulesChanged 指令修改了全局配置，所有机器人需要重新加载。
	RulesChanged events.EventType = "RulesChanged"
)

type DanmuEvent struct {
	Account string         `json:"account"`
	Message *danmu.Message `json:"message"`
}

type ReplyEvent struct {
	Account  string   `json:"account"`
	User     string   `json:"user"`
	Content  string   `json:"content"`
	Kind     string   `json:"kind"`
	Keyword  string   `json:"keyword"`
	Messages []string `json:"messages"`
}

type SentEvent struct {
	Account string    `json:"account"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

type WarmupEvent struct {
	Account  string   `json:"account"`
	Messages []string `json:"messages"`
}

type CommandEvent struct {
	Account string `json:"account"`
	User    string `json:"user"`
	Content string `json:"content"`
	Reply   string `json:"reply"`
}
