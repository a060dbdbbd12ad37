// Package reply 按 @回复、高级回复、关键词回复、AI 回复的顺序为弹幕生成回复。
package reply

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/yuhaohwang/danmubot/src/configs"
)

// Kind 是命中的规则类型。
type Kind string

const (
	KindSpecific Kind = "specific"
	KindAdvanced Kind = "advanced"
	KindKeyword  Kind = "keyword"
	KindAI       Kind = "ai"
)

// Locker 是跨账户的去重队列。
type Locker interface {
	IsRecentSent(content string) bool
	TryLock(user, content, account string, ts time.Time) bool
	ReleaseLock(user, content string, ts time.Time)
	RecordSent(text string)
}

// Recorder 记录回复统计。
type Recorder interface {
	RecordReply(account, keyword string)
	RecordResponseTime(account string, d time.Duration)
	RecordUnmatchedDanmu(content string)
}

// AIReplier 生成 AI 回复。
type AIReplier interface {
	Configured() bool
	Reply(ctx context.Context, user, content string) (string, error)
}

// Match 是一次命中的结果。
type Match struct {
	Kind     Kind     `json:"kind"`
	Keyword  string   `json:"keyword"`
	Messages []string `json:"messages"`
}

// 高级回复忽略标点时去除的字符
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~" + "，。！？；：“”‘’（）【】《》、…—·"

var punctuationStripper = func() *strings.Replacer {
	pairs := make([]string, 0)
	for _, r := range punctuation {
		pairs = append(pairs, string(r), "")
	}
	return strings.NewReplacer(pairs...)
}()

// StripPunctuation 去除中英文标点。
func StripPunctuation(s string) string {
	return punctuationStripper.Replace(s)
}

type indexedRule struct {
	index int
	rule  configs.ReplyRule
}

// Handler 是单个账户的回复处理器。
type Handler struct {
	lock     sync.Mutex
	account  string
	settings configs.Settings
	features configs.Features

	aiAuthorized bool
	ai           AIReplier

	specificRules []indexedRule
	keywordRules  []indexedRule
	patterns      map[int]*regexp.Regexp

	specificLast map[int]time.Time
	advancedLast map[int]time.Time
	keywordLast  map[int]time.Time

	locker   Locker
	recorder Recorder
	logger   *logrus.Entry
	now      func() time.Time
}

// NewHandler 创建回复处理器，ai 可以为 nil。
func NewHandler(settings configs.Settings, locker Locker, recorder Recorder, ai AIReplier, logger *logrus.Entry) *Handler {
	h := &Handler{
		account:      settings.Account,
		ai:           ai,
		specificLast: make(map[int]time.Time),
		advancedLast: make(map[int]time.Time),
		keywordLast:  make(map[int]time.Time),
		locker:       locker,
		recorder:     recorder,
		logger:       logger,
		now:          time.Now,
	}
	h.features = settings.Features
	h.features.AIReply = false
	h.UpdateRules(settings)
	return h
}

func sortRules(rules []configs.ReplyRule) []indexedRule {
	res := make([]indexedRule, 0, len(rules))
	for i, r := range rules {
		if r.Active && len(r.Keywords()) > 0 {
			res = append(res, indexedRule{index: i, rule: r})
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].rule.LongestKeyword() > res[j].rule.LongestKeyword()
	})
	return res
}

func resetChangedReply(last map[int]time.Time, prev, next []configs.ReplyRule) {
	for i := range last {
		if i >= len(next) || i >= len(prev) || prev[i] != next[i] {
			delete(last, i)
		}
	}
}

// UpdateRules 替换规则，只有内容变化的规则才会重置冷却。
func (h *Handler) UpdateRules(settings configs.Settings) {
	h.lock.Lock()
	defer h.lock.Unlock()

	resetChangedReply(h.specificLast, h.settings.SpecificRules, settings.SpecificRules)
	resetChangedReply(h.keywordLast, h.settings.ReplyRules, settings.ReplyRules)
	for i := range h.advancedLast {
		if i >= len(settings.AdvancedRules) || i >= len(h.settings.AdvancedRules) ||
			h.settings.AdvancedRules[i] != settings.AdvancedRules[i] {
			delete(h.advancedLast, i)
		}
	}

	h.settings = settings
	h.specificRules = sortRules(settings.SpecificRules)
	h.keywordRules = sortRules(settings.ReplyRules)
	h.patterns = make(map[int]*regexp.Regexp, len(settings.AdvancedRules))
	for i, r := range settings.AdvancedRules {
		if !r.Active || r.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			h.log().WithError(err).Warnf("高级规则 %d 的正则表达式无效，已跳过", i)
			continue
		}
		h.patterns[i] = re
	}
}

// SetEnabled 设置各项功能开关，未授权时 AI 回复强制关闭。
func (h *Handler) SetEnabled(auto, specific, advanced, ai bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.features.AutoReply = auto
	h.features.SpecificReply = specific
	h.features.AdvancedReply = advanced
	h.features.AIReply = ai && h.aiAuthorized
}

// SetAIAuthorized 设置 AI 回复授权状态，取消授权会同时关闭 AI 回复。
func (h *Handler) SetAIAuthorized(authorized bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.aiAuthorized = authorized
	if !authorized {
		h.features.AIReply = false
	}
}

// Features 返回当前生效的功能开关。
func (h *Handler) Features() configs.Features {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.features
}

// RecordSentMessage 记录已发送的消息，防止小号之间循环回复。
func (h *Handler) RecordSentMessage(text string) {
	h.locker.RecordSent(text)
}

func (h *Handler) log() *logrus.Entry {
	if h.logger != nil {
		return h.logger
	}
	return logrus.WithField("account", h.account)
}

// Process 处理一条弹幕，没有回复时返回 nil。
func (h *Handler) Process(ctx context.Context, user, content string) (match *Match) {
	if user == "" || content == "" {
		return nil
	}
	if h.locker.IsRecentSent(content) {
		h.log().Debugf("跳过循环回复: %s", content)
		return nil
	}

	h.lock.Lock()
	features, settings, aiAuthorized := h.features, h.settings, h.aiAuthorized
	h.lock.Unlock()

	if !features.AutoReply && !features.SpecificReply && !features.AdvancedReply && !features.AIReply {
		return nil
	}

	multiple := settings.Queue.AllowMultipleReply
	ts := h.now()
	if !multiple && !h.locker.TryLock(user, content, h.account, ts) {
		h.log().Debugf("[队列跳过] 弹幕已被其他账户处理: %s: %s", user, content)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			h.log().Errorf("处理弹幕时发生异常: %v", r)
			match = nil
			if !multiple {
				h.locker.ReleaseLock(user, content, ts)
			}
		}
	}()

	if features.SpecificReply {
		match = h.matchReply(KindSpecific, user, content, atPrefix(user))
	}
	if match == nil && features.AdvancedReply {
		match = h.matchAdvanced(user, content)
	}
	if match == nil && features.AutoReply {
		match = h.matchReply(KindKeyword, user, content, "")
	}
	if match == nil && features.AIReply && aiAuthorized && h.ai != nil && h.ai.Configured() {
		match = h.matchAI(ctx, user, content)
	}

	if match == nil || len(match.Messages) == 0 {
		if features.AutoReply || features.SpecificReply {
			h.recorder.RecordUnmatchedDanmu(content)
		}
		if !multiple {
			h.locker.ReleaseLock(user, content, ts)
		}
		return nil
	}
	return match
}

func (h *Handler) hit(match *Match, start time.Time) {
	h.recorder.RecordReply(h.account, match.Keyword)
	h.recorder.RecordResponseTime(h.account, h.now().Sub(start))
	h.log().WithField("kind", match.Kind).Infof("命中 %s (生成 %d 条消息)", match.Keyword, len(match.Messages))
}

// inCooldown 检查并在未冷却时记录触发时间。
func (h *Handler) inCooldown(last map[int]time.Time, index, cooldown int, now time.Time) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if t, ok := last[index]; ok {
		if remain := time.Duration(cooldown)*time.Second - now.Sub(t); remain > 0 {
			h.log().Debugf("规则 %d 冷却中，剩余 %ds", index, int(remain.Seconds()))
			return true
		}
	}
	last[index] = now
	return false
}

func (h *Handler) matchReply(kind Kind, user, content, prefix string) *Match {
	h.lock.Lock()
	rules, last := h.keywordRules, h.keywordLast
	if kind == KindSpecific {
		rules, last = h.specificRules, h.specificLast
	}
	h.lock.Unlock()

	for _, ir := range rules {
		var matched string
		for _, kw := range ir.rule.Keywords() {
			if strings.Contains(content, kw) {
				matched = kw
				break
			}
		}
		if matched == "" {
			continue
		}
		start := h.now()
		if h.inCooldown(last, ir.index, ir.rule.Cooldown, start) {
			return nil
		}
		m := &Match{
			Kind:     kind,
			Keyword:  matched,
			Messages: Generate(ir.rule.Response, ir.rule.Mode, user, content, prefix),
		}
		h.hit(m, start)
		return m
	}
	return nil
}

func (h *Handler) matchAdvanced(user, content string) *Match {
	h.lock.Lock()
	rules, patterns := h.settings.AdvancedRules, h.patterns
	h.lock.Unlock()

	for i, rule := range rules {
		re, ok := patterns[i]
		if !ok {
			continue
		}
		text := content
		if rule.IgnorePunctuation {
			text = StripPunctuation(content)
		}
		matched := re.FindString(text)
		if matched == "" && !re.MatchString(text) {
			continue
		}
		if rule.Script != "" {
			pass, err := evalScript(rule.Script, user, content, matched)
			if err != nil {
				h.log().WithError(err).Warnf("高级规则 %d 的脚本执行失败", i)
				continue
			}
			if !pass {
				continue
			}
		}

		start := h.now()
		if h.inCooldown(h.advancedLast, i, rule.Cooldown, start) {
			return nil
		}
		prefix := ""
		if rule.AtReply {
			prefix = atPrefix(user)
		}
		m := &Match{
			Kind:     KindAdvanced,
			Keyword:  "高级:" + advancedLabel(rule),
			Messages: Generate(rule.Response, rule.Mode, user, content, prefix),
		}
		h.hit(m, start)
		return m
	}
	return nil
}

func advancedLabel(rule configs.AdvancedRule) string {
	if rule.Description != "" {
		return rule.Description
	}
	if utf8.RuneCountInString(rule.Pattern) > 30 {
		return string([]rune(rule.Pattern)[:30])
	}
	return rule.Pattern
}

func (h *Handler) matchAI(ctx context.Context, user, content string) *Match {
	start := h.now()
	text, err := h.ai.Reply(ctx, user, content)
	if err != nil {
		h.log().WithError(err).Debug("AI 回复失败")
		return nil
	}
	m := &Match{Kind: KindAI, Keyword: "AI", Messages: []string{text}}
	h.hit(m, start)
	return m
}

// String 便于日志输出。
func (m *Match) String() string {
	return fmt.Sprintf("%s[%s]: %s", m.Kind, m.Keyword, strings.Join(m.Messages, " | "))
}
