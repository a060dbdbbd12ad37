// Package ai 调用 DeepSeek 对话接口生成弹幕回复。
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/yuhaohwang/requests"

	"github.com/yuhaohwang/danmubot/src/configs"
)

const (
	DefaultAPIUrl = "https://api.deepseek.com/chat/completions"
	DefaultModel  = "deepseek-chat"

	historyUsers = 1000
	maxTokens    = 100
	temperature  = 0.8
)

var (
	// ErrAPIStatus 表示接口返回了非 200 状态码。
	ErrAPIStatus = errors.New("ai api returned unexpected status")
	// ErrEmptyReply 表示接口没有返回内容。
	ErrEmptyReply = errors.New("ai api returned empty reply")
	// ErrFiltered 表示弹幕被过滤规则拦截，没有调用接口。
	ErrFiltered = errors.New("danmu filtered")
	// ErrNotConfigured 表示未配置 api_key。
	ErrNotConfigured = errors.New("ai api key not configured")
)

// Usage 是一次 AI 调用的用量，用于上报。
type Usage struct {
	RequestLength  int
	ResponseLength int
	CDK            string
}

// UsageReporter 在回复成功后被异步调用。
type UsageReporter func(ctx context.Context, usage Usage) error

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// Client 是 AI 回复客户端，每个用户单独保留最近几轮对话。
type Client struct {
	lock     sync.Mutex
	cfg      configs.AI
	session  *requests.Session
	history  gcache.Cache
	reporter UsageReporter
	logger   *logrus.Entry
}

// NewClient 创建 AI 客户端，reporter 可以为 nil。
func NewClient(cfg configs.AI, reporter UsageReporter, logger *logrus.Entry) *Client {
	c := &Client{
		history:  gcache.New(historyUsers).LRU().Build(),
		reporter: reporter,
		logger:   logger,
	}
	c.Update(cfg)
	return c
}

// Update 替换配置，已有的对话历史保留。
func (c *Client) Update(cfg configs.AI) {
	if cfg.APIUrl == "" {
		cfg.APIUrl = DefaultAPIUrl
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = 1
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cfg = cfg
	c.session = requests.NewSession(&http.Client{Timeout: cfg.Timeout})
}

// Configured 判断是否填写了 api_key。
func (c *Client) Configured() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cfg.APIKey != ""
}

func (c *Client) getHistory(user string) []chatMessage {
	v, err := c.history.Get(user)
	if err != nil {
		return nil
	}
	return v.([]chatMessage)
}

// Reply 为用户的弹幕生成回复。
func (c *Client) Reply(ctx context.Context, user, content string) (string, error) {
	c.lock.Lock()
	cfg, session := c.cfg, c.session
	c.lock.Unlock()

	if cfg.APIKey == "" {
		return "", ErrNotConfigured
	}
	if filtered, reason := ShouldFilter(cfg.Filter, content); filtered {
		return "", fmt.Errorf("%w: %s", ErrFiltered, reason)
	}

	history := c.getHistory(user)
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: SystemPrompt(cfg)})
	messages = append(messages, history...)
	messages = append(messages, chatMessage{Role: "user", Content: content})

	reply, err := c.chat(ctx, session, cfg, messages)
	if err != nil {
		return "", err
	}

	history = append(history, chatMessage{Role: "user", Content: content}, chatMessage{Role: "assistant", Content: reply})
	if limit := cfg.MaxHistory * 2; len(history) > limit {
		history = history[len(history)-limit:]
	}
	_ = c.history.Set(user, history)

	if c.reporter != nil {
		usage := Usage{ResponseLength: utf8.RuneCountInString(reply), CDK: cfg.CDK}
		for _, m := range messages {
			usage.RequestLength += utf8.RuneCountInString(m.Content)
		}
		go c.report(usage)
	}
	return reply, nil
}

func (c *Client) report(usage Usage) {
	if err := c.reporter(context.Background(), usage); err != nil && c.logger != nil {
		c.logger.WithError(err).Warn("AI 用量上报失败")
	}
}

func (c *Client) chat(ctx context.Context, session *requests.Session, cfg configs.AI, messages []chatMessage) (string, error) {
	req, err := requests.NewRequestWithContext(ctx, http.MethodPost, cfg.APIUrl,
		requests.JSON(chatRequest{
			Model:       cfg.Model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}),
		requests.Authorization("Bearer "+cfg.APIKey),
	)
	if err != nil {
		return "", err
	}
	resp, err := session.Do(req)
	if err != nil {
		return "", err
	}
	data, err := resp.Bytes()
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d %s", ErrAPIStatus, resp.StatusCode, gjson.GetBytes(data, "error.message").String())
	}
	reply := strings.TrimSpace(gjson.GetBytes(data, "choices.0.message.content").String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// ClearHistory 清空用户的对话历史，user 为空时清空全部。
func (c *Client) ClearHistory(user string) {
	if user == "" {
		c.history.Purge()
		return
	}
	c.history.Remove(user)
}

// HistoryCount 返回用户保留的消息条数。
func (c *Client) HistoryCount(user string) int {
	return len(c.getHistory(user))
}
