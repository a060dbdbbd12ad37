package bots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
)

func TestManager_StartAndClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := newTestConfig()
	cfg.Accounts[1].Enabled = false
	ctx, inst, _ := newTestInstance(t, cfg)

	m := NewManager(ctx)
	assert.Equal(t, m, inst.BotManager)
	require.NoError(t, m.Start(ctx))

	assert.True(t, m.HasBot(ctx, "a1"))
	assert.False(t, m.HasBot(ctx, "a2"))
	assert.Len(t, m.Bots(), 1)

	m.Close(ctx)
	assert.Empty(t, m.Bots())
	inst.WaitGroup.Wait()
}

func TestManager_AddRemove(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := newTestConfig()
	ctx, _, _ := newTestInstance(t, cfg)
	m := NewManager(ctx)

	require.NoError(t, m.AddBot(ctx, cfg.Accounts[0]))
	assert.ErrorIs(t, m.AddBot(ctx, cfg.Accounts[0]), ErrBotExist)

	b, err := m.GetBot(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", b.Account())
	assert.True(t, b.Running())

	_, err = m.GetBot(ctx, "nope")
	assert.ErrorIs(t, err, ErrBotNotExist)

	require.NoError(t, m.RemoveBot(ctx, "a1"))
	assert.False(t, b.Running())
	assert.ErrorIs(t, m.RemoveBot(ctx, "a1"), ErrBotNotExist)
}

func TestManager_Reload(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := newTestConfig()
	ctx, inst, _ := newTestInstance(t, cfg)
	m := NewManager(ctx)
	require.NoError(t, m.Start(ctx))
	defer m.Close(ctx)
	require.Len(t, m.Bots(), 2)

	require.NoError(t, cfg.UpdateAccount("a2", func(a *configs.Account) { a.Enabled = false }))
	require.NoError(t, cfg.AddAccount(configs.NewAccount("a3", "小号三", "")))
	cfg.Update(func(c *configs.Config) { c.Queue.AllowMultipleReply = true })
	m.Reload(ctx)

	names := make([]string, 0)
	for _, b := range m.Bots() {
		names = append(names, b.Account())
	}
	assert.Equal(t, []string{"a1", "a3"}, names)
	assert.True(t, inst.Queue.Stats().AllowMultipleReply)
}

func TestManager_ReloadOnRulesChanged(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := newTestConfig()
	ctx, inst, _ := newTestInstance(t, cfg)
	m := NewManager(ctx)
	require.NoError(t, m.Start(ctx))
	defer m.Close(ctx)

	require.NoError(t, cfg.AddAccount(configs.NewAccount("a3", "小号三", "")))
	inst.EventDispatcher.(events.Dispatcher).DispatchEvent(events.NewEvent(RulesChanged, "a1"))
	assert.Eventually(t, func() bool {
		return m.HasBot(ctx, "a3")
	}, time.Second, 10*time.Millisecond)
}

func TestManager_NewBotStub(t *testing.T) {
	cfg := newTestConfig()
	ctx, _, _ := newTestInstance(t, cfg)

	created := make([]string, 0)
	orig := newBot
	newBot = func(ctx2 context.Context, account configs.Account) Bot {
		created = append(created, account.Name)
		return orig(ctx2, account)
	}
	defer func() { newBot = orig }()

	m := NewManager(ctx)
	require.NoError(t, m.AddBot(ctx, cfg.Accounts[0]))
	defer m.Close(ctx)
	assert.Equal(t, []string{"a1"}, created)
	assert.NotNil(t, instance.GetInstance(ctx).BotManager)
}

func TestManager_ReloadKeepsWarmupTimers(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := newTestConfig()
	cfg.Accounts[1].Enabled = false
	cfg.Features.Warmup = true
	cfg.CDK.Features = []string{"warmup"}
	cfg.WarmupRules = []configs.WarmupRule{{
		TriggerType:    configs.TriggerNoDanmu,
		Messages:       "欢迎来到直播间",
		Mode:           configs.ModeRandomOne,
		MinNoDanmuTime: 600,
		Cooldown:       3600,
		Active:         true,
	}}
	ctx, _, _ := newTestInstance(t, cfg)
	m := NewManager(ctx)
	require.NoError(t, m.Start(ctx))
	defer m.Close(ctx)

	b, err := m.GetBot(ctx, "a1")
	require.NoError(t, err)
	b.HandleMessage(danmuMsg("观众", "你好"))
	fired := time.Now().Add(time.Hour)
	require.NotEmpty(t, b.(*bot).warmup.Check(fired, false))

	require.NoError(t, cfg.UpdateAccount("a1", func(a *configs.Account) { a.Enabled = false }))
	m.Reload(ctx)
	assert.False(t, m.HasBot(ctx, "a1"))

	require.NoError(t, cfg.UpdateAccount("a1", func(a *configs.Account) { a.Enabled = true }))
	m.Reload(ctx)
	next, err := m.GetBot(ctx, "a1")
	require.NoError(t, err)
	assert.NotSame(t, b, next)
	state := next.Status().Warmup
	require.NotNil(t, state)
	assert.True(t, state.RuleLast[0].Equal(fired))
	assert.True(t, state.FirstDanmuReceived)
}
