package servers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
)

// uiEvents 是推送给控制面板的事件名。
var uiEvents = map[events.EventType]string{
	bots.DanmuReceived:  "danmu",
	bots.ReplyGenerated: "reply",
	bots.MessageSent:    "sent",
	bots.WarmupSent:     "warmup",
	bots.CommandHandled: "command",
	bots.BotStart:       "bot_start",
	bots.BotStop:        "bot_stop",
}

const (
	statusEvent = "status"
	configEvent = "config"
)

func botStatuses(inst *instance.Instance) []bots.Status {
	m, ok := inst.BotManager.(bots.Manager)
	if !ok {
		return []bots.Status{}
	}
	list := m.Bots()
	res := make([]bots.Status, 0, len(list))
	for _, b := range list {
		res = append(res, b.Status())
	}
	return res
}

// WebSocketManager 管理与控制面板的WebSocket连接。
type WebSocketManager struct {
	clients   map[*websocket.Conn]bool // 当前已连接的客户端列表。
	upgrader  websocket.Upgrader       // 用于升级HTTP连接到WebSocket连接的工具。
	lock      sync.Mutex               // 用于同步对clients的访问。
	writeLock sync.Mutex               // 同一时间只允许一个写入者。

	ed        events.Dispatcher
	listeners map[events.EventType]*events.EventListener
}

// NewWebSocketManager 初始化一个新的WebSocketManager并返回其指针。
func NewWebSocketManager(ctx context.Context) *WebSocketManager {
	wsm := &WebSocketManager{
		clients:   make(map[*websocket.Conn]bool),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		listeners: make(map[events.EventType]*events.EventListener),
	}
	inst := instance.GetInstance(ctx)
	inst.WebsocketManager = wsm
	if ed, ok := inst.EventDispatcher.(events.Dispatcher); ok {
		wsm.subscribe(ed)
	}
	return wsm
}

// subscribe 把机器人事件转发给所有客户端。
func (wsm *WebSocketManager) subscribe(ed events.Dispatcher) {
	wsm.ed = ed
	for typ, name := range uiEvents {
		name := name
		l := events.NewEventListener(func(event *events.Event) {
			_, _ = wsm.broadcast(EventMessage{Event: name, Data: event.Object, Time: event.Time.UnixMilli()})
		})
		wsm.listeners[typ] = l
		ed.AddEventListener(typ, l)
	}
}

// HandleConnection 处理新的WebSocket连接请求。
func (wsm *WebSocketManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		inst.Logger.Error("Failed to upgrade ws: ", err)
		return
	}

	// 新连接先收到一份机器人状态，之后才开始接收广播
	if err := wsm.SendMessageToClient(conn, statusEvent, botStatuses(inst)); err != nil {
		inst.Logger.WithError(err).Warn("推送机器人状态失败")
		conn.Close()
		return
	}

	wsm.lock.Lock()
	wsm.clients[conn] = true
	wsm.lock.Unlock()

	// 仅仅为了检测连接断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			wsm.RemoveClient(conn)
			conn.Close()
			break
		}
	}
}

// RemoveClient 从管理器中移除一个WebSocket客户端连接。
func (wsm *WebSocketManager) RemoveClient(conn *websocket.Conn) {
	wsm.lock.Lock()
	delete(wsm.clients, conn)
	wsm.lock.Unlock()
}

// EventMessage 是发送给客户端的事件消息的结构。
type EventMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	Time  int64       `json:"time,omitempty"` // 事件产生的时间（毫秒）
}

func (wsm *WebSocketManager) send(conn *websocket.Conn, msg EventMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wsm.writeLock.Lock()
	defer wsm.writeLock.Unlock()
	return conn.WriteMessage(websocket.TextMessage, jsonData)
}

// SendMessageToClient 将消息发送到特定的WebSocket客户端。
func (wsm *WebSocketManager) SendMessageToClient(conn *websocket.Conn, event string, data interface{}) error {
	return wsm.send(conn, EventMessage{Event: event, Data: data, Time: time.Now().UnixMilli()})
}

// BroadcastMessage 将消息广播到所有连接的WebSocket客户端。
// 如果发送失败，返回发送失败的连接列表和最后一个错误。
func (wsm *WebSocketManager) BroadcastMessage(event string, data interface{}) ([]*websocket.Conn, error) {
	return wsm.broadcast(EventMessage{Event: event, Data: data, Time: time.Now().UnixMilli()})
}

func (wsm *WebSocketManager) broadcast(msg EventMessage) ([]*websocket.Conn, error) {
	wsm.lock.Lock()
	defer wsm.lock.Unlock()

	var failedConns []*websocket.Conn
	var lastError error

	for client := range wsm.clients {
		if err := wsm.send(client, msg); err != nil {
			client.Close()
			delete(wsm.clients, client)
			failedConns = append(failedConns, client)
			lastError = err
		}
	}

	if len(failedConns) > 0 {
		return failedConns, lastError
	}
	return nil, nil
}

// Clients 返回当前连接数。
func (wsm *WebSocketManager) Clients() int {
	wsm.lock.Lock()
	defer wsm.lock.Unlock()
	return len(wsm.clients)
}

// Close 取消事件订阅，关闭所有的WebSocket连接并清除clients。
func (wsm *WebSocketManager) Close(ctx context.Context) {
	if wsm.ed != nil {
		for typ, l := range wsm.listeners {
			wsm.ed.RemoveEventListener(typ, l)
		}
	}
	wsm.lock.Lock()
	for client := range wsm.clients {
		client.Close()
	}
	wsm.clients = make(map[*websocket.Conn]bool)
	wsm.lock.Unlock()
}
