package servers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"

	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/danmu"
	"github.com/yuhaohwang/danmubot/src/instance"
)

const (
	bridgeWriteTimeout = 5 * time.Second
	bridgeInboxSize    = 256
)

// ErrBridgeNotConnected 表示账户没有连接中的直播间页面。
var ErrBridgeNotConnected = errors.New("直播间页面未连接")

type bridgeConn struct {
	id        string
	conn      *websocket.Conn
	writeLock sync.Mutex
}

func (c *bridgeConn) send(ctx context.Context, event string, data interface{}) error {
	b, err := json.Marshal(EventMessage{Event: event, Data: data})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(bridgeWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// BridgeManager 管理直播间页面的桥接连接，每个账户只保留最新的一个连接。
type BridgeManager struct {
	lock     sync.Mutex
	conns    map[string]*bridgeConn
	upgrader websocket.Upgrader
}

// NewBridgeManager 创建桥接管理器并挂到实例上。
func NewBridgeManager(ctx context.Context) *BridgeManager {
	bm := &BridgeManager{
		conns:    make(map[string]*bridgeConn),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.Bridge = bm
	}
	return bm
}

// Connected 判断账户是否有连接中的页面。
func (bm *BridgeManager) Connected(account string) bool {
	bm.lock.Lock()
	defer bm.lock.Unlock()
	_, ok := bm.conns[account]
	return ok
}

// Deliver 让账户所在的页面发送一条弹幕。
func (bm *BridgeManager) Deliver(ctx context.Context, account string, text string) error {
	bm.lock.Lock()
	c, ok := bm.conns[account]
	bm.lock.Unlock()
	if !ok {
		return ErrBridgeNotConnected
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return c.send(ctx, "send", map[string]string{"id": id.String(), "text": text})
}

func (bm *BridgeManager) register(account string, c *bridgeConn) {
	bm.lock.Lock()
	old, ok := bm.conns[account]
	bm.conns[account] = c
	bm.lock.Unlock()
	if ok {
		old.conn.Close()
	}
}

// unregister 只移除仍是当前连接的记录，被替换掉的旧连接不影响新连接。
func (bm *BridgeManager) unregister(account string, c *bridgeConn) {
	bm.lock.Lock()
	defer bm.lock.Unlock()
	if cur, ok := bm.conns[account]; ok && cur == c {
		delete(bm.conns, account)
	}
}

// HandleConnection 处理 /bridge/{account} 的连接。
func (bm *BridgeManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	account := mux.Vars(r)["account"]
	logger := inst.Logger.WithAccount(account)

	conn, err := bm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to upgrade bridge")
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		conn.Close()
		return
	}
	c := &bridgeConn{id: id.String(), conn: conn}
	bm.register(account, c)
	logger.WithField("session", c.id).Info("直播间页面已连接")

	// 消息交给单独的协程按顺序处理，读循环不会被 AI 回复等耗时操作卡住
	inbox := make(chan *danmu.Message, bridgeInboxSize)
	go bm.consume(context.WithoutCancel(r.Context()), account, inbox)

	defer func() {
		close(inbox)
		bm.unregister(account, c)
		conn.Close()
		logger.WithField("session", c.id).Info("直播间页面已断开")
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		msg, err := danmu.ParseMessage(data)
		if err != nil {
			logger.WithError(err).Debug("无法解析的桥接消息")
			continue
		}
		if msg.Type == danmu.TypePing {
			if err := c.send(r.Context(), "pong", nil); err != nil {
				return
			}
			continue
		}
		select {
		case inbox <- msg:
		default:
			logger.WithField("session", c.id).Warn("消息处理繁忙，丢弃一条桥接消息")
		}
	}
}

func (bm *BridgeManager) consume(ctx context.Context, account string, inbox <-chan *danmu.Message) {
	for msg := range inbox {
		bm.dispatch(ctx, account, msg)
	}
}

func (bm *BridgeManager) dispatch(ctx context.Context, account string, msg *danmu.Message) {
	inst := instance.GetInstance(ctx)
	m, ok := inst.BotManager.(bots.Manager)
	if !ok {
		return
	}
	bot, err := m.GetBot(ctx, account)
	if err != nil {
		inst.Logger.WithAccount(account).Debug("账户没有运行中的机器人，消息已忽略")
		return
	}
	bot.HandleMessage(msg)
}

// Close 断开所有页面。
func (bm *BridgeManager) Close(ctx context.Context) {
	bm.lock.Lock()
	defer bm.lock.Unlock()
	for account, c := range bm.conns {
		c.conn.Close()
		delete(bm.conns, account)
	}
}
