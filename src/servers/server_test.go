package servers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/consts"
	"github.com/yuhaohwang/danmubot/src/history"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
	"github.com/yuhaohwang/danmubot/src/license"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
	"github.com/yuhaohwang/danmubot/src/queue"
	"github.com/yuhaohwang/danmubot/src/statistics"
)

type testEnv struct {
	ctx    context.Context
	inst   *instance.Instance
	bridge *BridgeManager
	server *httptest.Server
}

func newTestConfig() *configs.Config {
	cfg := configs.NewConfig()
	cfg.Interval = 10
	cfg.Features.AutoReply = true
	cfg.Sender = configs.Sender{ReplyInterval: 0.02}
	cfg.ReplyRules = []configs.ReplyRule{
		{Keyword: "测试", Response: "测试通过", Mode: configs.ModeRandomOne, Active: true},
	}
	cfg.Accounts = []configs.Account{
		configs.NewAccount("a1", "小号一", "https://live.douyin.com/1"),
	}
	return cfg
}

func newTestEnv(t *testing.T, cfg *configs.Config) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	stats := statistics.NewManager()
	inst := &instance.Instance{
		Config:     cfg,
		Logger:     &interfaces.Logger{Logger: logger},
		Statistics: stats,
		Queue:      queue.New(cfg.Queue, stats),
		Device:     &license.DeviceInfo{MachineCode: "0123456789abcdef"},
	}
	ctx := instance.WithInstance(context.Background(), inst)
	events.NewDispatcher(ctx)

	bridge := NewBridgeManager(ctx)
	ws := NewWebSocketManager(ctx)
	manager := bots.NewManager(ctx)
	require.NoError(t, manager.Start(ctx))

	server := httptest.NewServer(initMux(ctx, ws, bridge))
	t.Cleanup(func() {
		ws.Close(ctx)
		bridge.Close(ctx)
		server.Close()
		manager.Close(ctx)
	})
	return &testEnv{ctx: ctx, inst: inst, bridge: bridge, server: server}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, gjson.ParseBytes(b)
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent 读取消息直到遇到指定事件。
func readEvent(t *testing.T, conn *websocket.Conn, event string) gjson.Result {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		res := gjson.ParseBytes(data)
		if res.Get("event").String() == event {
			return res
		}
	}
}

func TestGetInfo(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	code, body := env.do(t, http.MethodGet, "/api/info", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, consts.AppName, body.Get("app_name").String())
}

func TestAccountsLifecycle(t *testing.T) {
	env := newTestEnv(t, newTestConfig())

	code, body := env.do(t, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.Array(), 1)
	assert.True(t, body.Get("0.running").Bool())
	assert.False(t, body.Get("0.bridge_connected").Bool())

	code, body = env.do(t, http.MethodPost, "/api/accounts",
		`[{"name":"a3","nickname":"小号三","url":"https://live.douyin.com/3","enabled":false},{"name":"a1"}]`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, http.StatusBadRequest, int(body.Get("err_no").Int()))
	assert.Contains(t, body.Get("err_msg").String(), "a1")
	assert.Len(t, body.Get("data").Array(), 1)

	code, body = env.do(t, http.MethodGet, "/api/accounts/a3", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "小号三", body.Get("nickname").String())
	assert.False(t, body.Get("running").Bool())

	code, _ = env.do(t, http.MethodGet, "/api/accounts/a3/start", "")
	require.Equal(t, http.StatusOK, code)
	acc, err := env.inst.Config.GetAccount("a3")
	require.NoError(t, err)
	assert.True(t, acc.Enabled)
	_, body = env.do(t, http.MethodGet, "/api/accounts/a3", "")
	assert.True(t, body.Get("running").Bool())

	code, _ = env.do(t, http.MethodGet, "/api/accounts/a3/stop", "")
	require.Equal(t, http.StatusOK, code)
	_, body = env.do(t, http.MethodGet, "/api/accounts/a3", "")
	assert.False(t, body.Get("running").Bool())
	assert.False(t, body.Get("enabled").Bool())

	code, _ = env.do(t, http.MethodDelete, "/api/accounts/a3", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, "/api/accounts/a3", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodDelete, "/api/accounts/a3", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAccountAction_Errors(t *testing.T) {
	env := newTestEnv(t, newTestConfig())

	code, _ := env.do(t, http.MethodGet, "/api/accounts/a1/jump", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/accounts/nobody/clear-queue", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := env.do(t, http.MethodGet, "/api/accounts/a1/clear-queue", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), body.Get("data.cleared").Int())
}

func TestInjectDanmu(t *testing.T) {
	env := newTestEnv(t, newTestConfig())

	code, body := env.do(t, http.MethodPost, "/api/accounts/a1/danmu", `{"type":"danmu","user":"观众","content":"测试一下"}`)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body.Get("data.id").String())

	code, _ = env.do(t, http.MethodPost, "/api/accounts/a1/danmu", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPost, "/api/accounts/nobody/danmu", `{"user":"观众","content":"测试"}`)
	assert.Equal(t, http.StatusNotFound, code)

	assert.Eventually(t, func() bool {
		_, body := env.do(t, http.MethodGet, "/api/stats", "")
		return body.Get("danmu_statistics.total_count").Int() == 1
	}, time.Second, 20*time.Millisecond)
	_, body = env.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, int64(1), body.Get("reply_statistics.total_replies").Int())

	code, _ = env.do(t, http.MethodDelete, "/api/stats", "")
	assert.Equal(t, http.StatusOK, code)
	_, body = env.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, int64(0), body.Get("danmu_statistics.total_count").Int())
}

func TestStatsCSV(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	env.inst.Statistics.RecordUnmatchedDanmu("没人理我")

	resp, err := http.Get(env.server.URL + "/api/stats/unmatched.csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, contentTypeCSV, resp.Header.Get(contentType))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "unmatched-")
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "没人理我")
}

func TestQueueAndLiveRooms(t *testing.T) {
	env := newTestEnv(t, newTestConfig())

	code, body := env.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body.Get("queue_mode").String())

	code, _ = env.do(t, http.MethodPost, "/api/live-rooms", `{"name":"直播间","url":"https://live.douyin.com/9"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/api/live-rooms", `{"name":"空"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = env.do(t, http.MethodGet, "/api/live-rooms", "")
	urls := make([]string, 0)
	body.ForEach(func(_, v gjson.Result) bool {
		urls = append(urls, v.Get("url").String())
		return true
	})
	assert.Contains(t, urls, "https://live.douyin.com/9")

	code, _ = env.do(t, http.MethodDelete, "/api/live-rooms?url=https://live.douyin.com/9", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodDelete, "/api/live-rooms?url=https://live.douyin.com/9", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRawConfig(t *testing.T) {
	env := newTestEnv(t, newTestConfig())

	code, body := env.do(t, http.MethodGet, "/api/raw-config", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body.Get("config").String(), "a1")

	code, _ = env.do(t, http.MethodPut, "/api/raw-config", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPut, "/api/raw-config", `{"config":"rpc: ["}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVerifyCDK(t *testing.T) {
	cfg := newTestConfig()
	cfg.CDK.Secret = "s3cret"
	env := newTestEnv(t, cfg)

	cdk, err := license.GenerateCDK("s3cret", []string{license.FeatureWarmup, license.FeatureAIReply}, 0, "0123456789abcdef", time.Now())
	require.NoError(t, err)

	code, body := env.do(t, http.MethodPost, "/api/cdk/verify", `{"cdk":"`+cdk+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "永久有效", body.Get("data.expire").String())

	env.inst.Config.Snapshot(func(c *configs.Config) {
		assert.ElementsMatch(t, []string{license.FeatureAIReply, license.FeatureWarmup}, c.CDK.Features)
		assert.Equal(t, cdk, c.AI.CDK)
	})

	_, body = env.do(t, http.MethodGet, "/api/device", "")
	assert.Equal(t, "0123456789abcdef", body.Get("device.machine_code").String())
	assert.False(t, body.Get("server_enabled").Bool())
	assert.Contains(t, body.Get("features").String(), license.FeatureWarmup)

	other, err := license.GenerateCDK("s3cret", nil, 0, "ffffffffffffffff", time.Now())
	require.NoError(t, err)
	code, body = env.do(t, http.MethodPost, "/api/cdk/verify", `{"cdk":"`+other+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Get("err_msg").String(), license.ErrMachineMismatch.Error())

	code, _ = env.do(t, http.MethodPost, "/api/cdk/verify", `{"cdk":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBridge_ReplyRoundTrip(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	conn := env.dial(t, "/bridge/a1")
	assert.Eventually(t, func() bool { return env.bridge.Connected("a1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	readEvent(t, conn, "pong")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"danmu","user":"观众","content":"测试一下"}`)))
	res := readEvent(t, conn, "send")
	assert.Equal(t, "测试通过", res.Get("data.text").String())
	assert.NotEmpty(t, res.Get("data.id").String())

	_, body := env.do(t, http.MethodGet, "/api/accounts/a1", "")
	assert.True(t, body.Get("bridge_connected").Bool())
}

func TestBridge_ReplacesOlderConnection(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	first := env.dial(t, "/bridge/a1")
	assert.Eventually(t, func() bool { return env.bridge.Connected("a1") }, time.Second, 10*time.Millisecond)
	second := env.dial(t, "/bridge/a1")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	readEvent(t, second, "pong")
}

func TestBridge_DeliverWithoutPage(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	err := env.bridge.Deliver(env.ctx, "a1", "hello")
	assert.ErrorIs(t, err, ErrBridgeNotConnected)
}

func TestWebSocket_BroadcastsBotEvents(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	conn := env.dial(t, "/ws")
	assert.Eventually(t, func() bool {
		return env.inst.WebsocketManager.(*WebSocketManager).Clients() == 1
	}, time.Second, 10*time.Millisecond)

	code, _ := env.do(t, http.MethodPost, "/api/accounts/a1/danmu", `{"user":"观众","content":"测试"}`)
	require.Equal(t, http.StatusOK, code)

	res := readEvent(t, conn, "danmu")
	assert.Equal(t, "a1", res.Get("data.account").String())
	assert.Equal(t, "测试", res.Get("data.message.content").String())
	assert.Greater(t, res.Get("time").Int(), int64(0))
}

func TestAccountHistory(t *testing.T) {
	cfg := newTestConfig()
	cfg.History = configs.History{Enable: true, Path: filepath.Join(t.TempDir(), "history.db")}
	env := newTestEnv(t, cfg)

	code, _ := env.do(t, http.MethodGet, "/api/accounts/a1/history", "")
	assert.Equal(t, http.StatusNotFound, code)

	store := history.NewStore(env.ctx)
	require.NoError(t, store.Start(env.ctx))
	t.Cleanup(func() { store.Close(env.ctx) })

	now := time.Now()
	require.NoError(t, store.InsertDanmu(env.ctx, history.Danmu{ID: "d1", Account: "a1", Type: "danmu", User: "观众", Content: "你好", Timestamp: now}))
	require.NoError(t, store.InsertSent(env.ctx, history.Sent{Account: "a1", Text: "欢迎", Timestamp: now}))
	require.NoError(t, store.InsertSent(env.ctx, history.Sent{Account: "a1", Text: "再见", Timestamp: now.Add(time.Second)}))

	code, body := env.do(t, http.MethodGet, "/api/accounts/a1/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "你好", body.Get("0.content").String())

	code, body = env.do(t, http.MethodGet, "/api/accounts/a1/history?kind=sent&limit=1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Array(), 1)
	assert.Equal(t, "再见", body.Get("0.text").String())

	code, _ = env.do(t, http.MethodGet, "/api/accounts/a1/history?kind=gift", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWebSocket_StatusAndConfigEvents(t *testing.T) {
	env := newTestEnv(t, newTestConfig())
	conn := env.dial(t, "/ws")

	res := readEvent(t, conn, "status")
	require.Len(t, res.Get("data").Array(), 1)
	assert.Equal(t, "a1", res.Get("data.0.account").String())
	assert.Equal(t, "running", res.Get("data.0.state").String())

	code, _ := env.do(t, http.MethodPost, "/api/live-rooms", `{"url":"https://live.douyin.com/2"}`)
	require.Equal(t, http.StatusOK, code)
	res = readEvent(t, conn, "config")
	assert.Greater(t, res.Get("time").Int(), int64(0))
}
