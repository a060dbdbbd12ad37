package bots

import (
	"context"
	"sort"
	"sync"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
	"github.com/yuhaohwang/danmubot/src/warmup"
)

// for test
var newBot = NewBot

// Manager 管理所有账户的机器人，它实现了 interfaces.Module 接口。
type Manager interface {
	interfaces.Module
	AddBot(ctx context.Context, account configs.Account) error
	RemoveBot(ctx context.Context, name string) error
	GetBot(ctx context.Context, name string) (Bot, error)
	HasBot(ctx context.Context, name string) bool
	Bots() []Bot
	Reload(ctx context.Context)
}

// NewManager 创建机器人管理器并挂到实例上。
func NewManager(ctx context.Context) Manager {
	m := &manager{
		bots:    make(map[string]Bot),
		warmups: make(map[string]*warmup.State),
	}
	instance.GetInstance(ctx).BotManager = m
	return m
}

type manager struct {
	lock     sync.RWMutex
	bots     map[string]Bot
	warmups  map[string]*warmup.State
	listener *events.EventListener
	waiting  bool
}

// Start 注册配置变更监听，并为所有启用的账户启动机器人。
func (m *manager) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)

	m.lock.Lock()
	if !m.waiting {
		m.waiting = true
		inst.WaitGroup.Add(1)
	}
	m.lock.Unlock()

	m.listener = events.NewEventListener(func(*events.Event) {
		m.Reload(ctx)
	})
	inst.EventDispatcher.(events.Dispatcher).AddEventListener(RulesChanged, m.listener)

	for _, acc := range inst.Config.GetAccounts() {
		if !acc.Enabled {
			continue
		}
		if err := m.AddBot(ctx, acc); err != nil {
			inst.Logger.WithAccount(acc.Name).WithError(err).Error("启动机器人失败")
		}
	}
	return nil
}

// Close 关闭所有机器人。
func (m *manager) Close(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	if m.listener != nil {
		inst.EventDispatcher.(events.Dispatcher).RemoveEventListener(RulesChanged, m.listener)
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	for name, bot := range m.bots {
		bot.Close()
		delete(m.bots, name)
	}
	if m.waiting {
		m.waiting = false
		inst.WaitGroup.Done()
	}
}

// startBot 创建并启动机器人，同名账户之前留下的暖场计时会被延续。调用方持有锁。
func (m *manager) startBot(ctx context.Context, account configs.Account) error {
	bot := newBot(ctx, account)
	m.bots[account.Name] = bot
	if err := bot.Start(); err != nil {
		return err
	}
	if s, ok := m.warmups[account.Name]; ok {
		bot.RestoreWarmup(s)
		delete(m.warmups, account.Name)
	}
	return nil
}

// stopBot 关闭机器人并记下它的暖场计时。调用方持有锁。
func (m *manager) stopBot(name string, bot Bot) {
	if s := bot.Status().Warmup; s != nil {
		m.warmups[name] = s
	}
	bot.Close()
	delete(m.bots, name)
}

// AddBot 为账户创建并启动机器人。
func (m *manager) AddBot(ctx context.Context, account configs.Account) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.bots[account.Name]; ok {
		return ErrBotExist
	}
	return m.startBot(ctx, account)
}

// RemoveBot 停止并移除账户的机器人。
func (m *manager) RemoveBot(ctx context.Context, name string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	bot, ok := m.bots[name]
	if !ok {
		return ErrBotNotExist
	}
	m.stopBot(name, bot)
	return nil
}

func (m *manager) GetBot(ctx context.Context, name string) (Bot, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	bot, ok := m.bots[name]
	if !ok {
		return nil, ErrBotNotExist
	}
	return bot, nil
}

func (m *manager) HasBot(ctx context.Context, name string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	_, ok := m.bots[name]
	return ok
}

// Bots 按账户名排序返回所有机器人。
func (m *manager) Bots() []Bot {
	m.lock.RLock()
	defer m.lock.RUnlock()

	res := make([]Bot, 0, len(m.bots))
	for _, bot := range m.bots {
		res = append(res, bot)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Account() < res[j].Account() })
	return res
}

// Reload 让运行中的机器人与配置保持一致：新启用的账户启动机器人，
// 停用或删除的账户停止机器人，其余的重新加载规则。
func (m *manager) Reload(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	cfg := inst.Config

	var (
		queueSettings configs.Queue
		aiSettings    configs.AI
	)
	cfg.Snapshot(func(c *configs.Config) {
		queueSettings = c.Queue
		aiSettings = c.AI
	})
	inst.Queue.UpdateSettings(queueSettings)
	if inst.AI != nil {
		inst.AI.Update(aiSettings)
	}

	wanted := make(map[string]configs.Account)
	for _, acc := range cfg.GetAccounts() {
		if acc.Enabled {
			wanted[acc.Name] = acc
		}
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	for name, bot := range m.bots {
		if _, ok := wanted[name]; !ok {
			m.stopBot(name, bot)
			continue
		}
		bot.Reload()
	}
	for name, acc := range wanted {
		if _, ok := m.bots[name]; ok {
			continue
		}
		if err := m.startBot(ctx, acc); err != nil {
			inst.Logger.WithAccount(name).WithError(err).Error("启动机器人失败")
		}
	}
}
