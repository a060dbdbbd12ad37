package instance

import (
	"sync"

	"github.com/yuhaohwang/danmubot/src/ai"
	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/interfaces"
	"github.com/yuhaohwang/danmubot/src/license"
	"github.com/yuhaohwang/danmubot/src/queue"
	"github.com/yuhaohwang/danmubot/src/statistics"
)

// Instance 结构体包含了应用程序中的各种组件和配置信息。
type Instance struct {
	WaitGroup        sync.WaitGroup              // WaitGroup 用于等待各个 goroutine 的完成。
	Config           *configs.Config             // Config 包含应用程序的配置信息。
	Logger           *interfaces.Logger          // Logger 是日志记录器。
	Queue            *queue.Queue                // Queue 是多账户共享的消息队列。
	Statistics       *statistics.Manager         // Statistics 是运行统计。
	AI               *ai.Client                  // AI 是共享的 AI 回复客户端。
	License          *license.Client             // License 是授权服务器客户端，未启用时为 nil。
	Device           *license.DeviceInfo         // Device 是本机设备信息。
	Server           interfaces.Module           // Server 是应用程序的服务器模块。
	EventDispatcher  interfaces.Module           // EventDispatcher 是事件分发器模块。
	BotManager       interfaces.Module           // BotManager 是机器人管理器模块。
	History          interfaces.Module           // History 是弹幕历史库，未启用时为 nil。
	WebsocketManager interfaces.WebsocketManager // WebsocketManager 向控制面板推送事件。
	Bridge           interfaces.Deliverer        // Bridge 是直播间页面桥接。
}
