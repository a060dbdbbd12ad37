package interfaces

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Module 接口定义了应用程序中各种模块应该实现的方法。
type Module interface {
	// Start 启动模块的方法，接收一个上下文 ctx 作为参数，返回一个可能的错误。
	Start(ctx context.Context) error

	// Close 关闭模块的方法，接收一个上下文 ctx 作为参数。
	Close(ctx context.Context)
}

// WebsocketManager 向控制面板推送事件。
type WebsocketManager interface {
	SendMessageToClient(conn *websocket.Conn, event string, data interface{}) error

	BroadcastMessage(event string, data interface{}) ([]*websocket.Conn, error)

	Close(ctx context.Context)
}

// Deliverer 把一条文本发送到指定账户所在的直播间页面。
type Deliverer interface {
	Deliver(ctx context.Context, account string, text string) error
}

// Logger 结构体包装了 logrus.Logger，用于在应用程序中进行日志记录。
type Logger struct {
	*logrus.Logger
}

// WithAccount 返回带账户字段的日志条目。
func (l *Logger) WithAccount(account string) *logrus.Entry {
	return l.WithField("account", account)
}
