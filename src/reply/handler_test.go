package reply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/queue"
	"github.com/yuhaohwang/danmubot/src/statistics"
)

type fakeAI struct {
	reply string
	err   error
	calls int
}

func (f *fakeAI) Configured() bool { return true }

func (f *fakeAI) Reply(context.Context, string, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func rule(kw, resp string) configs.ReplyRule {
	return configs.ReplyRule{Keyword: kw, Response: resp, Mode: configs.ModeRandomOne, Cooldown: 15, Active: true}
}

func queueSettings() configs.Queue {
	return configs.Queue{
		Mode:             configs.QueueFirstAvailable,
		TimeWindow:       5,
		LockTimeout:      30,
		AutoCleanupLocks: true,
		MaxLockHistory:   1000,
	}
}

func newTestHandler(t *testing.T, settings configs.Settings, ai AIReplier) (*Handler, *queue.Queue, *statistics.Manager) {
	t.Helper()
	stats := statistics.NewManager()
	q := queue.New(settings.Queue, stats)
	if settings.Account == "" {
		settings.Account = "a"
	}
	return NewHandler(settings, q, stats, ai, nil), q, stats
}

func baseSettings() configs.Settings {
	return configs.Settings{
		Account:  "a",
		Features: configs.Features{AutoReply: true, SpecificReply: true, AdvancedReply: true},
		Queue:    queueSettings(),
	}
}

func TestHandler_Priority(t *testing.T) {
	s := baseSettings()
	s.SpecificRules = []configs.ReplyRule{rule("价格", "私信客服")}
	s.ReplyRules = []configs.ReplyRule{rule("价格", "看链接")}
	h, _, stats := newTestHandler(t, s, nil)

	m := h.Process(context.Background(), "u1", "价格多少")
	require.NotNil(t, m)
	assert.Equal(t, KindSpecific, m.Kind)
	assert.Equal(t, []string{"@u1 私信客服"}, m.Messages)

	// @回复冷却中，落到关键词回复
	m = h.Process(context.Background(), "u2", "价格多少")
	require.NotNil(t, m)
	assert.Equal(t, KindKeyword, m.Kind)
	assert.Equal(t, []string{"看链接"}, m.Messages)

	// 两类规则都在冷却中
	assert.Nil(t, h.Process(context.Background(), "u3", "价格多少"))
	assert.Equal(t, 2, stats.ReplyStats().ReplyCounts["a"])
	assert.Equal(t, 1, stats.DanmuStats(nil).UnmatchedCount)
}

func TestHandler_LongestKeywordFirst(t *testing.T) {
	s := baseSettings()
	s.ReplyRules = []configs.ReplyRule{rule("钱", "短"), rule("多少|多少钱", "长")}
	h, _, _ := newTestHandler(t, s, nil)

	m := h.Process(context.Background(), "u", "这个多少钱")
	require.NotNil(t, m)
	assert.Equal(t, []string{"长"}, m.Messages)
	assert.Equal(t, "多少", m.Keyword)
}

func TestHandler_Advanced(t *testing.T) {
	s := baseSettings()
	s.AdvancedRules = []configs.AdvancedRule{
		{Pattern: "(", Response: "坏规则", Active: true},
		{Pattern: "vip", Response: "仅限会员", Active: true, Script: `user == "vip"`},
		{Pattern: "(怎么|如何).*(买|下单)", Response: "点击链接|私信咨询", Mode: configs.ModeSendAll, Active: true, IgnorePunctuation: true, AtReply: true, Description: "购买"},
	}
	h, _, stats := newTestHandler(t, s, nil)

	m := h.Process(context.Background(), "u", "怎么，买？")
	require.NotNil(t, m)
	assert.Equal(t, KindAdvanced, m.Kind)
	assert.Equal(t, "高级:购买", m.Keyword)
	assert.Equal(t, []string{"@u 点击链接", "@u 私信咨询"}, m.Messages)
	assert.Equal(t, 1, stats.ReplyStats().KeywordHits["a"]["高级:购买"])

	assert.Nil(t, h.Process(context.Background(), "u", "vip 来了"))
	m = h.Process(context.Background(), "vip", "vip 来了")
	require.NotNil(t, m)
	assert.Equal(t, []string{"仅限会员"}, m.Messages)
}

func TestHandler_LoopAndLock(t *testing.T) {
	s := baseSettings()
	s.ReplyRules = []configs.ReplyRule{rule("欢迎", "欢迎来到直播间")}
	h, q, _ := newTestHandler(t, s, nil)

	s2 := s
	s2.Account = "b"
	other := NewHandler(s2, q, statistics.NewManager(), nil, nil)

	require.NotNil(t, h.Process(context.Background(), "u", "欢迎欢迎"))
	assert.Nil(t, other.Process(context.Background(), "u", "欢迎欢迎"))

	h.RecordSentMessage("欢迎来到直播间")
	assert.Nil(t, h.Process(context.Background(), "u2", "欢迎来到直播间"))
}

func TestHandler_AllowMultipleReply(t *testing.T) {
	s := baseSettings()
	s.Queue.AllowMultipleReply = true
	s.ReplyRules = []configs.ReplyRule{rule("欢迎", "你好")}
	h, q, _ := newTestHandler(t, s, nil)
	s.Account = "b"
	other := NewHandler(s, q, statistics.NewManager(), nil, nil)

	assert.NotNil(t, h.Process(context.Background(), "u", "欢迎"))
	assert.NotNil(t, other.Process(context.Background(), "u", "欢迎"))
}

func TestHandler_AI(t *testing.T) {
	s := baseSettings()
	s.Features.AIReply = true
	ai := &fakeAI{reply: "您好"}
	h, q, _ := newTestHandler(t, s, ai)

	// 未授权时不调用 AI
	assert.Nil(t, h.Process(context.Background(), "u", "有优惠吗"))
	assert.Equal(t, 0, ai.calls)
	assert.False(t, q.IsLocked("u", "有优惠吗", time.Now()))

	h.SetAIAuthorized(true)
	h.SetEnabled(true, true, true, true)
	m := h.Process(context.Background(), "u", "有优惠吗")
	require.NotNil(t, m)
	assert.Equal(t, KindAI, m.Kind)
	assert.Equal(t, []string{"您好"}, m.Messages)

	ai.err = errors.New("boom")
	assert.Nil(t, h.Process(context.Background(), "u2", "还有吗"))

	h.SetAIAuthorized(false)
	assert.False(t, h.Features().AIReply)
}

func TestHandler_AllDisabled(t *testing.T) {
	s := baseSettings()
	s.ReplyRules = []configs.ReplyRule{rule("欢迎", "你好")}
	h, _, stats := newTestHandler(t, s, nil)
	h.SetEnabled(false, false, false, true)
	assert.Nil(t, h.Process(context.Background(), "u", "欢迎"))
	assert.Nil(t, h.Process(context.Background(), "", "欢迎"))
	assert.Equal(t, 0, stats.DanmuStats(nil).UnmatchedCount)
}

func TestHandler_UpdateRulesKeepsCooldown(t *testing.T) {
	s := baseSettings()
	s.ReplyRules = []configs.ReplyRule{rule("a1", "r1"), rule("b1", "r2")}
	h, _, _ := newTestHandler(t, s, nil)

	require.NotNil(t, h.Process(context.Background(), "u1", "a1"))
	require.NotNil(t, h.Process(context.Background(), "u1", "b1"))

	next := s
	next.ReplyRules = []configs.ReplyRule{rule("a1", "r1"), rule("b1", "changed")}
	h.UpdateRules(next)

	assert.Nil(t, h.Process(context.Background(), "u2", "a1"))
	m := h.Process(context.Background(), "u2", "b1")
	require.NotNil(t, m)
	assert.Equal(t, []string{"changed"}, m.Messages)
}

func TestGenerate(t *testing.T) {
	assert.Equal(t, []string{"欢迎张三", "张三 说: 你好"},
		Generate("欢迎[昵称] | {{ .User }} 说: {{ .Content }} |", configs.ModeSendAll, "张三", "你好", ""))
	assert.Equal(t, []string{"@u 坏的 {{ .User"}, Generate("坏的 {{ .User", configs.ModeRandomOne, "u", "", "@u "))
	assert.Nil(t, Generate(" | ", configs.ModeRandomOne, "u", "", ""))
}

func TestStripPunctuation(t *testing.T) {
	assert.Equal(t, "怎么买多少钱", StripPunctuation("怎么，买？多少钱!"))
	assert.Equal(t, "ab", StripPunctuation("a.b…"))
}
