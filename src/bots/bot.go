// Package bots 为每个小号账户运行一个弹幕机器人。
package bots

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug"
	"github.com/sirupsen/logrus"

	"github.com/yuhaohwang/danmubot/src/commands"
	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/danmu"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/license"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
	"github.com/yuhaohwang/danmubot/src/queue"
	"github.com/yuhaohwang/danmubot/src/reply"
	"github.com/yuhaohwang/danmubot/src/sender"
	"github.com/yuhaohwang/danmubot/src/statistics"
	"github.com/yuhaohwang/danmubot/src/warmup"
)

// 机器人状态。
const (
	begin uint32 = iota
	pending
	running
	stopped
)

const authRefreshInterval = time.Minute

var stateNames = map[uint32]string{
	begin:   "begin",
	pending: "pending",
	running: "running",
	stopped: "stopped",
}

// Bot 是单个账户的弹幕机器人。
type Bot interface {
	commands.Controller
	Start() error
	Close()
	Account() string
	Running() bool
	HandleMessage(msg *danmu.Message)
	Reload()
	Status() Status
	Pending() []string
	RestoreWarmup(s *warmup.State)
}

// Status 是机器人的运行状态。
type Status struct {
	Account  string           `json:"account"`
	Nickname string           `json:"nickname"`
	State    string           `json:"state"`
	Replying bool             `json:"replying"`
	Features configs.Features `json:"features"`
	Pending  int              `json:"pending"`
	Warmup   *warmup.State    `json:"warmup,omitempty"`
}

type bot struct {
	ctx     context.Context
	account string

	config  *configs.Config
	ed      events.Dispatcher
	queue   *queue.Queue
	stats   *statistics.Manager
	license *license.Client
	logger  *logrus.Entry

	monitor  *danmu.Monitor
	reply    *reply.Handler
	commands *commands.Handler
	sender   *sender.Sender
	warmup   *warmup.Handler

	lock     sync.Mutex
	settings configs.Settings
	features configs.Features
	auth     license.RemoteFeatures
	lastAuth time.Time

	replying atomic.Bool
	state    uint32
	stop     chan struct{}
	done     chan struct{}
}

// NewBot 根据账户配置创建机器人，组件从实例中获取。
// 机器人的生命周期由 Close 控制，不随 ctx 取消。
func NewBot(ctx context.Context, account configs.Account) Bot {
	ctx = context.WithoutCancel(ctx)
	inst := instance.GetInstance(ctx)
	settings := account.Effective(inst.Config)
	logger := inst.Logger.WithAccount(account.Name)

	b := &bot{
		ctx:      ctx,
		account:  account.Name,
		config:   inst.Config,
		ed:       inst.EventDispatcher.(events.Dispatcher),
		queue:    inst.Queue,
		stats:    inst.Statistics,
		license:  inst.License,
		logger:   logger,
		settings: settings,
		features: settings.Features,
		state:    begin,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	var ai reply.AIReplier
	if inst.AI != nil {
		ai = inst.AI
	}
	b.monitor = danmu.NewMonitor(settings.Nickname, inst.Config.Nicknames(), inst.Statistics)
	b.reply = reply.NewHandler(settings, inst.Queue, inst.Statistics, ai, logger)
	b.sender = sender.New(account.Name, settings.Sender, inst.Bridge, inst.Statistics, inst.Queue)
	b.warmup = warmup.NewHandler(settings.WarmupRules, settings.WarmupMsgs, logger)
	b.commands = commands.NewHandler(configs.Command{}, b, logger)
	b.replying.Store(true)
	return b
}

func (b *bot) Account() string {
	return b.account
}

func (b *bot) Running() bool {
	s := atomic.LoadUint32(&b.state)
	return s == pending || s == running
}

// Start 启动机器人。
func (b *bot) Start() error {
	if !atomic.CompareAndSwapUint32(&b.state, begin, pending) {
		return nil
	}
	defer atomic.CompareAndSwapUint32(&b.state, pending, running)

	b.queue.RegisterAccount(b.account)
	b.refreshAuth(time.Now())
	b.apply()
	b.ed.DispatchEvent(events.NewEvent(BotStart, b.account))
	b.logger.Info("机器人已启动")

	go b.run()
	return nil
}

// Close 停止机器人并等待主循环退出。
func (b *bot) Close() {
	if !atomic.CompareAndSwapUint32(&b.state, running, stopped) {
		return
	}
	b.queue.UnregisterAccount(b.account)
	b.ed.DispatchEvent(events.NewEvent(BotStop, b.account))
	close(b.stop)
	<-b.done
	b.logger.Info("机器人已停止")
}

// refreshAuth 合并本地 CDK 激活的功能和服务器开通的功能。
func (b *bot) refreshAuth(now time.Time) {
	var local []string
	b.config.Snapshot(func(c *configs.Config) {
		local = append(local, c.CDK.Features...)
	})
	auth := license.FeaturesFromList(local)
	if b.license != nil {
		auth = auth.Merge(b.license.CheckFeatures(b.ctx))
	}
	b.lock.Lock()
	b.auth = auth
	b.lastAuth = now
	b.lock.Unlock()
}

// apply 把功能开关和授权状态同步到各个组件，暂停回复时暖场也一并关闭。
func (b *bot) apply() {
	b.lock.Lock()
	f, auth, cmd := b.features, b.auth, b.settings.Command
	b.lock.Unlock()
	replying := b.replying.Load()

	b.reply.SetAIAuthorized(auth.AIReply)
	b.reply.SetEnabled(f.AutoReply && replying, f.SpecificReply && auth.SpecificReply, f.AdvancedReply && auth.AdvancedReply, f.AIReply)
	b.warmup.SetEnabled(f.Warmup && auth.Warmup && replying)
	cmd.Enable = cmd.Enable && auth.Command
	b.commands.Update(cmd)
}

// Reload 从配置中重新读取账户设置并刷新授权，规则冷却按规则是否变化保留。
func (b *bot) Reload() {
	account, err := b.config.GetAccount(b.account)
	if err != nil {
		b.logger.WithError(err).Warn("重新加载失败")
		return
	}
	settings := account.Effective(b.config)

	b.lock.Lock()
	b.settings = settings
	b.features = settings.Features
	b.lock.Unlock()

	b.monitor.SetMyNickname(settings.Nickname)
	b.monitor.SetOtherNicknames(b.config.Nicknames())
	b.reply.UpdateRules(settings)
	b.warmup.UpdateRules(settings.WarmupRules, settings.WarmupMsgs)
	b.sender.SetInterval(settings.Sender.ReplyInterval, settings.Sender.RandomJitter)
	b.sender.SetRandomSpace(settings.Sender.RandomSpaceInsert)
	b.refreshAuth(time.Now())
	b.apply()
	b.logger.Debug("配置已重新加载")
}

// HandleMessage 处理桥接页面转发来的一条消息。
func (b *bot) HandleMessage(msg *danmu.Message) {
	if msg == nil || !b.Running() {
		return
	}
	b.ed.DispatchEvent(events.NewEvent(DanmuReceived, &DanmuEvent{Account: b.account, Message: msg}))
	if !b.monitor.Process(msg) || !msg.IsDanmu() {
		return
	}
	b.logger.WithField("user", msg.User).Debugf("收到弹幕: %s", msg.Content)
	defer b.warmup.NotifyDanmu(time.Now())

	if text, handled := b.commands.Process(msg.User, msg.Content); handled {
		b.ed.DispatchEvent(events.NewEvent(CommandHandled, &CommandEvent{
			Account: b.account,
			User:    msg.User,
			Content: msg.Content,
			Reply:   text,
		}))
		if text != "" {
			b.sender.Add(text)
		}
		return
	}

	if !b.replying.Load() {
		return
	}
	match := b.reply.Process(b.ctx, msg.User, msg.Content)
	if match == nil {
		return
	}
	b.sender.Add(match.Messages...)
	b.logger.WithField("user", msg.User).Infof("命中 %s", match)
	b.ed.DispatchEvent(events.NewEvent(ReplyGenerated, &ReplyEvent{
		Account:  b.account,
		User:     msg.User,
		Content:  msg.Content,
		Kind:     string(match.Kind),
		Keyword:  match.Keyword,
		Messages: match.Messages,
	}))
}

func (b *bot) interval() time.Duration {
	var ms int
	b.config.Snapshot(func(c *configs.Config) { ms = c.Interval })
	if ms <= 0 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

// run 是机器人的主循环：发送队列中的消息并检查暖场。
func (b *bot) run() {
	defer close(b.done)

	interval := b.interval()
	ticker := jitterbug.New(interval, jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.tick(time.Now())
		}
	}
}

func (b *bot) tick(now time.Time) {
	text, sent, err := b.sender.Process(b.ctx, now)
	if err != nil {
		b.logger.WithError(err).Errorf("发送失败: %s", text)
	}
	if sent {
		b.ed.DispatchEvent(events.NewEvent(MessageSent, &SentEvent{Account: b.account, Text: text, Time: now}))
	}

	if msgs := b.warmup.Check(now, b.sender.HasPending()); len(msgs) > 0 {
		b.sender.Add(msgs...)
		b.logger.Infof("暖场: %v", msgs)
		b.ed.DispatchEvent(events.NewEvent(WarmupSent, &WarmupEvent{Account: b.account, Messages: msgs}))
	}

	b.lock.Lock()
	stale := now.Sub(b.lastAuth) >= authRefreshInterval
	b.lock.Unlock()
	if stale {
		b.refreshAuth(now)
		b.apply()
	}
}

func (b *bot) Status() Status {
	b.lock.Lock()
	nickname := b.settings.Nickname
	b.lock.Unlock()
	return Status{
		Account:  b.account,
		Nickname: nickname,
		State:    stateNames[atomic.LoadUint32(&b.state)],
		Replying: b.replying.Load(),
		Features: b.reply.Features(),
		Pending:  len(b.sender.Pending()),
		Warmup:   b.warmup.State(),
	}
}

func (b *bot) Pending() []string {
	return b.sender.Pending()
}

// RestoreWarmup 延续上一个同名机器人的暖场计时。
func (b *bot) RestoreWarmup(s *warmup.State) {
	b.warmup.Restore(s)
}

// 以下方法实现 commands.Controller。

// StopAutoReply 暂停自动回复和暖场，功能开关保留，恢复后按原设置生效。
func (b *bot) StopAutoReply() {
	b.replying.Store(false)
	b.apply()
}

func (b *bot) StartAutoReply() {
	b.replying.Store(true)
	b.apply()
}

func (b *bot) SetSpecificReply(enabled bool) {
	b.lock.Lock()
	b.features.SpecificReply = enabled
	b.lock.Unlock()
	b.apply()
}

func (b *bot) SetWarmup(enabled bool) {
	b.lock.Lock()
	b.features.Warmup = enabled
	b.lock.Unlock()
	b.apply()
}

func (b *bot) StatsSummary() string {
	return b.stats.Summary()
}

// saveAndReload 保存配置并通知所有机器人重新加载，保存失败只记录警告。
func (b *bot) saveAndReload() {
	if err := b.config.Marshal(); err != nil {
		b.logger.WithError(err).Warn("保存配置失败")
	}
	b.ed.DispatchEvent(events.NewEvent(RulesChanged, b.account))
}

func (b *bot) SetReplyInterval(seconds float64) error {
	if err := b.config.SetReplyInterval(seconds); err != nil {
		return err
	}
	b.saveAndReload()
	return nil
}

func (b *bot) AddReplyRule(rule configs.ReplyRule) error {
	if rule.Keyword == "" || rule.Response == "" {
		return errors.New("关键词和回复不能为空")
	}
	b.config.AddReplyRule(rule)
	b.saveAndReload()
	return nil
}

func (b *bot) RemoveReplyRules(keyword string) (int, error) {
	n := b.config.RemoveReplyRules(keyword)
	if n > 0 {
		b.saveAndReload()
	}
	return n, nil
}

func (b *bot) ResetStatistics() {
	b.stats.Reset()
}

func (b *bot) ClearQueue() int {
	return b.sender.Clear()
}
