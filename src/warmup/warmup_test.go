package warmup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yuhaohwang/danmubot/src/configs"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.Local)

func noDanmuRule(min, max, cooldown int) configs.WarmupRule {
	return configs.WarmupRule{
		TriggerType:    configs.TriggerNoDanmu,
		Name:           "冷场",
		Messages:       "欢迎来到直播间",
		Mode:           configs.ModeRandomOne,
		MinNoDanmuTime: min,
		MaxNoDanmuTime: max,
		Cooldown:       cooldown,
		Active:         true,
	}
}

func TestHandler_Gates(t *testing.T) {
	h := NewHandler([]configs.WarmupRule{noDanmuRule(60, 0, 120)}, "", nil)
	assert.Nil(t, h.Check(t0, false), "disabled")

	h.SetEnabled(true)
	assert.Nil(t, h.Check(t0, false), "no danmu yet")

	h.NotifyDanmu(t0)
	assert.Nil(t, h.Check(t0.Add(59*time.Second), false), "not idle enough")
	assert.Nil(t, h.Check(t0.Add(61*time.Second), true), "pending messages")
	assert.Equal(t, []string{"欢迎来到直播间"}, h.Check(t0.Add(61*time.Second), false))
	assert.Nil(t, h.Check(t0.Add(100*time.Second), false), "cooldown")
	assert.NotNil(t, h.Check(t0.Add(181*time.Second), false))
}

func TestHandler_MaxIdle(t *testing.T) {
	h := NewHandler([]configs.WarmupRule{noDanmuRule(10, 30, 0)}, "", nil)
	h.SetEnabled(true)
	h.NotifyDanmu(t0)
	assert.Nil(t, h.Check(t0.Add(31*time.Second), false))
	assert.NotNil(t, h.Check(t0.Add(20*time.Second), false))
}

func TestHandler_Timed(t *testing.T) {
	r := noDanmuRule(0, 0, 300)
	r.TriggerType = configs.TriggerTimed
	r.Messages = "第一句|第二句"
	r.Mode = configs.ModeSendAll
	h := NewHandler([]configs.WarmupRule{r}, "", nil)
	h.SetEnabled(true)
	h.NotifyDanmu(t0)

	assert.Equal(t, []string{"第一句", "第二句"}, h.Check(t0, false))
	// 有弹幕也不影响定时触发
	h.NotifyDanmu(t0.Add(200 * time.Second))
	assert.Nil(t, h.Check(t0.Add(299*time.Second), false))
	assert.NotNil(t, h.Check(t0.Add(300*time.Second), false))
}

func TestHandler_Legacy(t *testing.T) {
	h := NewHandler(nil, "来点关注|点点赞", nil)
	h.SetEnabled(true)
	h.NotifyDanmu(t0)
	assert.Nil(t, h.Check(t0.Add(119*time.Second), false))
	msgs := h.Check(t0.Add(120*time.Second), false)
	assert.Len(t, msgs, 1)
	assert.Contains(t, []string{"来点关注", "点点赞"}, msgs[0])
	assert.Nil(t, h.Check(t0.Add(170*time.Second), false))
	assert.NotNil(t, h.Check(t0.Add(180*time.Second), false))
}

func TestHandler_InactiveRules(t *testing.T) {
	r := noDanmuRule(0, 0, 0)
	r.Active = false
	h := NewHandler([]configs.WarmupRule{r}, "旧的", nil)
	h.SetEnabled(true)
	h.NotifyDanmu(t0)
	assert.Nil(t, h.Check(t0.Add(time.Hour), false))
}

func TestHandler_StateRestore(t *testing.T) {
	h := NewHandler([]configs.WarmupRule{noDanmuRule(0, 0, 100)}, "", nil)
	assert.Nil(t, h.State())

	h.SetEnabled(true)
	h.NotifyDanmu(t0)
	assert.NotNil(t, h.Check(t0, false))
	state := h.State()
	assert.True(t, state.FirstDanmuReceived)

	next := NewHandler([]configs.WarmupRule{noDanmuRule(0, 0, 100)}, "", nil)
	next.Restore(state)
	assert.Nil(t, next.State(), "restore ignored while disabled")

	next.SetEnabled(true)
	next.Restore(state)
	next.NotifyDanmu(t0)
	assert.Nil(t, next.Check(t0.Add(50*time.Second), false))

	// 关闭再开启会重置计时器
	next.SetEnabled(false)
	next.SetEnabled(true)
	assert.NotNil(t, next.Check(t0.Add(50*time.Second), false))
}
