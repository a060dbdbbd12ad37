package commands

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yuhaohwang/danmubot/src/configs"
)

type fakeController struct {
	calls    []string
	interval float64
	rules    []configs.ReplyRule
	removed  int
	err      error
}

func (f *fakeController) StopAutoReply()  { f.calls = append(f.calls, "stop") }
func (f *fakeController) StartAutoReply() { f.calls = append(f.calls, "start") }
func (f *fakeController) SetSpecificReply(enabled bool) {
	f.calls = append(f.calls, map[bool]string{true: "specific on", false: "specific off"}[enabled])
}
func (f *fakeController) SetWarmup(enabled bool) {
	f.calls = append(f.calls, map[bool]string{true: "warmup on", false: "warmup off"}[enabled])
}
func (f *fakeController) StatsSummary() string { return "summary" }
func (f *fakeController) SetReplyInterval(seconds float64) error {
	f.interval = seconds
	return f.err
}
func (f *fakeController) AddReplyRule(rule configs.ReplyRule) error {
	f.rules = append(f.rules, rule)
	return f.err
}
func (f *fakeController) RemoveReplyRules(string) (int, error) { return f.removed, f.err }
func (f *fakeController) ResetStatistics()                     { f.calls = append(f.calls, "reset") }
func (f *fakeController) ClearQueue() int                      { return 3 }

func newTestHandler() (*Handler, *fakeController) {
	c := new(fakeController)
	h := NewHandler(configs.Command{Enable: true, Users: "主播| 场控 ,管理"}, c, nil)
	return h, c
}

func TestParseUsers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseUsers("a| b ,c,,"))
	assert.Empty(t, ParseUsers(""))
}

func TestHandler_Permissions(t *testing.T) {
	h, c := newTestHandler()
	_, handled := h.Process("路人", "停止")
	assert.False(t, handled)

	h.Update(configs.Command{Enable: false, Users: "主播"})
	_, handled = h.Process("主播", "停止")
	assert.False(t, handled)
	assert.Empty(t, c.calls)
}

func TestHandler_Commands(t *testing.T) {
	h, c := newTestHandler()
	cases := []struct {
		user, content, reply string
	}{
		{"主播", "停止弹幕机", "已停止自动回复和暖场功能"},
		{"场控", " 启动 ", "已启动自动回复和暖场功能"},
		{"管理", "开启@回复", "已启用@回复功能"},
		{"主播", "关闭@回复", "已禁用@回复功能"},
		{"主播", "开启暖场", "已启用暖场功能"},
		{"主播", "关闭暖场", "已禁用暖场功能"},
		{"主播", "统计", "summary"},
		{"主播", "清空队列", "已清空消息队列（3 条）"},
		{"主播", "设置间隔:5", "已设置回复间隔为 5 秒"},
		{"主播", "间隔：40", "间隔时间必须在1-30秒之间"},
		{"主播", "间隔:abc", "格式错误，正确格式: 设置间隔:5（1-30秒）"},
		{"主播", "添加规则:包邮|全国包邮|顺序全发|30", "规则添加成功"},
		{"主播", "添加:只有关键词", "格式错误，正确格式: 添加规则:关键词|回复内容"},
		{"主播", "添加:发货|今天发|随便发", "回复模式只能是 随机挑一 或 顺序全发"},
		{"主播", "删除:包邮", "未找到关键词为 '包邮' 的规则"},
	}
	for _, tc := range cases {
		reply, handled := h.Process(tc.user, tc.content)
		assert.True(t, handled, tc.content)
		assert.Equal(t, tc.reply, reply, tc.content)
	}
	assert.Equal(t, []string{"stop", "start", "specific on", "specific off", "warmup on", "warmup off"}, c.calls)
	assert.Equal(t, 5.0, c.interval)
	assert.Equal(t, configs.ReplyRule{Keyword: "包邮", Response: "全国包邮", Mode: configs.ModeSendAll, Cooldown: 30, Active: true}, c.rules[0])
	assert.Len(t, c.rules, 1)

	c.removed = 2
	reply, _ := h.Process("主播", "删除规则:包邮")
	assert.Equal(t, "已删除 2 条规则（关键词: 包邮）", reply)

	c.err = errors.New("写入失败")
	reply, _ = h.Process("主播", "添加:a|b")
	assert.Equal(t, "添加规则失败: 写入失败", reply)

	_, handled := h.Process("主播", "今天天气不错")
	assert.False(t, handled)
}

func TestHandler_Confirmation(t *testing.T) {
	h, c := newTestHandler()
	now := time.Now()
	h.now = func() time.Time { return now }

	reply, _ := h.Process("主播", "重置统计")
	assert.Contains(t, reply, "重要操作")
	reply, _ = h.Process("主播", "什么")
	assert.Equal(t, "请确认执行: 重置统计（回复'确认'或'取消'）", reply)
	reply, _ = h.Process("主播", "OK")
	assert.Equal(t, "已确认执行，统计已重置", reply)
	assert.Equal(t, []string{"reset"}, c.calls)

	h.Process("主播", "清空统计")
	reply, _ = h.Process("主播", "取消")
	assert.Equal(t, "已取消操作", reply)

	// 超时后确认词不再生效
	h.Process("主播", "重置统计")
	now = now.Add(61 * time.Second)
	_, handled := h.Process("主播", "确认")
	assert.False(t, handled)
	assert.Equal(t, []string{"reset"}, c.calls)
}

func TestHandler_SilentMode(t *testing.T) {
	c := new(fakeController)
	h := NewHandler(configs.Command{Enable: true, Users: "主播", SilentMode: true}, c, nil)
	reply, handled := h.Process("主播", "停止")
	assert.True(t, handled)
	assert.Empty(t, reply)
	assert.Equal(t, []string{"stop"}, c.calls)
}
