// Package commands 解析指定用户在直播间发送的控制指令。
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuhaohwang/danmubot/src/configs"
)

const confirmTimeout = 60 * time.Second

// Controller 执行指令对应的操作，由机器人实现。
type Controller interface {
	StopAutoReply()
	StartAutoReply()
	SetSpecificReply(enabled bool)
	SetWarmup(enabled bool)
	StatsSummary() string
	SetReplyInterval(seconds float64) error
	AddReplyRule(rule configs.ReplyRule) error
	RemoveReplyRules(keyword string) (int, error)
	ResetStatistics()
	ClearQueue() int
}

var (
	stopWords = []string{"停止弹幕机", "停止弹幕姬", "停止自动回复", "停止回复", "停止",
		"关闭弹幕机", "关闭弹幕姬", "关闭自动回复", "暂停弹幕机", "暂停弹幕姬"}
	startWords = []string{"启动弹幕机", "启动弹幕姬", "启动自动回复", "开始回复", "启动",
		"打开弹幕机", "打开弹幕姬", "打开自动回复", "开启弹幕机", "开启弹幕姬", "开启自动回复", "开始弹幕机", "开始弹幕姬"}
	enableSpecificWords  = []string{"启用@回复", "启用@回复功能", "开启@回复", "开启@回复功能", "打开@回复", "打开@回复功能"}
	disableSpecificWords = []string{"禁用@回复", "禁用@回复功能", "关闭@回复", "关闭@回复功能", "停止@回复", "停止@回复功能"}
	enableWarmupWords    = []string{"启用暖场", "启用暖场功能", "开启暖场", "开启暖场功能", "打开暖场", "打开暖场功能"}
	disableWarmupWords   = []string{"禁用暖场", "禁用暖场功能", "关闭暖场", "关闭暖场功能", "停止暖场", "停止暖场功能"}
	statsWords           = []string{"统计", "查看统计", "获取统计"}
	resetStatsWords      = []string{"重置统计", "清空统计"}
	clearQueueWords      = []string{"清空队列", "清空消息队列"}

	confirmWords = []string{"确认", "是", "yes", "y", "ok"}
	cancelWords  = []string{"取消", "否", "no", "n", "取消操作"}

	intervalPrefixes = []string{"设置间隔:", "间隔:"}
	addPrefixes      = []string{"添加规则:", "添加:"}
	removePrefixes   = []string{"删除规则:", "删除:"}
)

func oneOf(content string, words []string) bool {
	for _, w := range words {
		if strings.EqualFold(content, w) {
			return true
		}
	}
	return false
}

// 同时兼容中英文冒号
func cutPrefix(content string, prefixes []string) (string, bool) {
	content = strings.Replace(content, "：", ":", 1)
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(content, p); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

type pending struct {
	command string
	action  func() string
	at      time.Time
}

// Handler 是单个账户的指令处理器。
type Handler struct {
	lock    sync.Mutex
	enabled bool
	silent  bool
	users   map[string]struct{}
	pending map[string]pending

	controller Controller
	logger     *logrus.Entry
	now        func() time.Time
}

// NewHandler 创建指令处理器。
func NewHandler(cfg configs.Command, controller Controller, logger *logrus.Entry) *Handler {
	h := &Handler{
		pending:    make(map[string]pending),
		controller: controller,
		logger:     logger,
		now:        time.Now,
	}
	h.Update(cfg)
	return h
}

// ParseUsers 拆分指令用户列表，支持 | 和 , 分隔。
func ParseUsers(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == '，' })
	res := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			res = append(res, f)
		}
	}
	return res
}

// Update 替换指令配置。
func (h *Handler) Update(cfg configs.Command) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.enabled = cfg.Enable
	h.silent = cfg.SilentMode
	h.users = make(map[string]struct{})
	for _, u := range ParseUsers(cfg.Users) {
		h.users[u] = struct{}{}
	}
}

func (h *Handler) log() *logrus.Entry {
	if h.logger != nil {
		return h.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Process 处理一条弹幕。handled 为 true 表示这是一条指令，不再进行自动回复；
// 静默模式下 reply 总是为空。
func (h *Handler) Process(user, content string) (reply string, handled bool) {
	h.lock.Lock()
	if !h.enabled {
		h.lock.Unlock()
		return "", false
	}
	if _, ok := h.users[user]; !ok {
		h.lock.Unlock()
		return "", false
	}
	silent := h.silent
	h.lock.Unlock()

	content = strings.TrimSpace(content)
	reply, handled = h.process(user, content)
	if !handled {
		return "", false
	}
	h.log().WithField("user", user).Infof("执行指令: %s", content)
	if silent {
		return "", true
	}
	return reply, true
}

func (h *Handler) process(user, content string) (string, bool) {
	now := h.now()

	h.lock.Lock()
	p, ok := h.pending[user]
	if ok && now.Sub(p.at) > confirmTimeout {
		delete(h.pending, user)
		ok = false
	}
	if ok {
		delete(h.pending, user)
	}
	h.lock.Unlock()

	if ok {
		switch {
		case oneOf(content, confirmWords):
			return p.action(), true
		case oneOf(content, cancelWords):
			return "已取消操作", true
		default:
			h.lock.Lock()
			h.pending[user] = p
			h.lock.Unlock()
			return fmt.Sprintf("请确认执行: %s（回复'确认'或'取消'）", p.command), true
		}
	}

	c := h.controller
	switch {
	case oneOf(content, stopWords):
		c.StopAutoReply()
		return "已停止自动回复和暖场功能", true
	case oneOf(content, startWords):
		c.StartAutoReply()
		return "已启动自动回复和暖场功能", true
	case oneOf(content, enableSpecificWords):
		c.SetSpecificReply(true)
		return "已启用@回复功能", true
	case oneOf(content, disableSpecificWords):
		c.SetSpecificReply(false)
		return "已禁用@回复功能", true
	case oneOf(content, enableWarmupWords):
		c.SetWarmup(true)
		return "已启用暖场功能", true
	case oneOf(content, disableWarmupWords):
		c.SetWarmup(false)
		return "已禁用暖场功能", true
	case oneOf(content, statsWords):
		return c.StatsSummary(), true
	case oneOf(content, resetStatsWords):
		h.lock.Lock()
		h.pending[user] = pending{
			command: content,
			action: func() string {
				c.ResetStatistics()
				return "已确认执行，统计已重置"
			},
			at: now,
		}
		h.lock.Unlock()
		return fmt.Sprintf("⚠️ 重要操作，请确认: %s（回复'确认'执行，'取消'放弃）", content), true
	case oneOf(content, clearQueueWords):
		n := c.ClearQueue()
		return fmt.Sprintf("已清空消息队列（%d 条）", n), true
	}

	if arg, ok := cutPrefix(content, intervalPrefixes); ok {
		return h.setInterval(arg), true
	}
	if arg, ok := cutPrefix(content, addPrefixes); ok {
		return h.addRule(arg), true
	}
	if arg, ok := cutPrefix(content, removePrefixes); ok {
		return h.removeRules(arg), true
	}
	return "", false
}

func (h *Handler) setInterval(arg string) string {
	interval, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return "格式错误，正确格式: 设置间隔:5（1-30秒）"
	}
	if interval < 1 || interval > 30 {
		return "间隔时间必须在1-30秒之间"
	}
	if err := h.controller.SetReplyInterval(interval); err != nil {
		return "设置间隔失败: " + err.Error()
	}
	return fmt.Sprintf("已设置回复间隔为 %g 秒", interval)
}

func (h *Handler) addRule(arg string) string {
	parts := strings.Split(arg, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "格式错误，正确格式: 添加规则:关键词|回复内容"
	}
	rule := configs.ReplyRule{
		Keyword:  parts[0],
		Response: parts[1],
		Mode:     configs.ModeRandomOne,
		Cooldown: 15,
		Active:   true,
	}
	if len(parts) > 2 && parts[2] != "" {
		if parts[2] != configs.ModeRandomOne && parts[2] != configs.ModeSendAll {
			return fmt.Sprintf("回复模式只能是 %s 或 %s", configs.ModeRandomOne, configs.ModeSendAll)
		}
		rule.Mode = parts[2]
	}
	if len(parts) > 3 {
		if cd, err := strconv.Atoi(parts[3]); err == nil && cd >= 0 {
			rule.Cooldown = cd
		}
	}
	if err := h.controller.AddReplyRule(rule); err != nil {
		return "添加规则失败: " + err.Error()
	}
	return "规则添加成功"
}

func (h *Handler) removeRules(keyword string) string {
	if keyword == "" {
		return "格式错误，正确格式: 删除规则:关键词"
	}
	n, err := h.controller.RemoveReplyRules(keyword)
	if err != nil {
		return "删除规则失败: " + err.Error()
	}
	if n == 0 {
		return fmt.Sprintf("未找到关键词为 '%s' 的规则", keyword)
	}
	return fmt.Sprintf("已删除 %d 条规则（关键词: %s）", n, keyword)
}
