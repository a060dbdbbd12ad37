package configs

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// RPC包含RPC相关信息。
type RPC struct {
	Enable bool   `yaml:"enable"` // 是否启用RPC
	Bind   string `yaml:"bind"`   // 绑定的地址和端口
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   "127.0.0.1:8080",
}

// verify 验证RPC设置的有效性。
func (r *RPC) verify() error {
	if r == nil {
		return nil
	}
	if !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return err
	}
	return nil
}

// Log包含日志相关信息。
type Log struct {
	OutPutFolder string `yaml:"out_put_folder"` // 输出日志文件夹
	SaveLastLog  bool   `yaml:"save_last_log"`  // 是否保存最近一次运行的日志
	SaveEveryLog bool   `yaml:"save_every_log"` // 是否为每次启动单独保存日志
}

// Features 是各项回复功能的开关。
type Features struct {
	AutoReply     bool `yaml:"auto_reply_enabled" json:"auto_reply_enabled"`
	SpecificReply bool `yaml:"specific_reply_enabled" json:"specific_reply_enabled"`
	AdvancedReply bool `yaml:"advanced_reply_enabled" json:"advanced_reply_enabled"`
	Warmup        bool `yaml:"warmup_enabled" json:"warmup_enabled"`
	AIReply       bool `yaml:"ai_reply_enabled" json:"ai_reply_enabled"`
}

// Sender 是发送节奏配置。
type Sender struct {
	ReplyInterval     float64 `yaml:"reply_interval"`      // 两条消息之间的基础间隔（秒）
	RandomJitter      float64 `yaml:"random_jitter"`       // 额外随机抖动上限（秒）
	RandomSpaceInsert bool    `yaml:"random_space_insert"` // 发送时随机插入空格
}

// 队列模式。
const (
	QueueRoundRobin     = "轮询"
	QueuePriority       = "优先级"
	QueueRandom         = "随机"
	QueueFirstAvailable = "第一个可用"
)

// Queue 是多账户共享消息队列的配置。
type Queue struct {
	Mode               string         `yaml:"mode" json:"mode"`
	TimeWindow         float64        `yaml:"time_window" json:"time_window"`   // 消息指纹时间窗口（秒）
	LockTimeout        float64        `yaml:"lock_timeout" json:"lock_timeout"` // 锁超时时间（秒）
	AccountPriorities  map[string]int `yaml:"account_priorities" json:"account_priorities"`
	StrictSingleReply  bool           `yaml:"strict_single_reply" json:"strict_single_reply"`
	AllowMultipleReply bool           `yaml:"allow_multiple_reply" json:"allow_multiple_reply"`
	AutoCleanupLocks   bool           `yaml:"auto_cleanup_locks" json:"auto_cleanup_locks"`
	MaxLockHistory     int            `yaml:"max_lock_history" json:"max_lock_history"`
}

// ValidQueueMode 判断队列模式是否合法。
func ValidQueueMode(mode string) bool {
	switch mode {
	case QueueRoundRobin, QueuePriority, QueueRandom, QueueFirstAvailable:
		return true
	}
	return false
}

// Command 是弹幕指令配置。
type Command struct {
	Enable     bool   `yaml:"enable"`
	Users      string `yaml:"users"` // 允许下达指令的昵称，| 或 , 分隔
	SilentMode bool   `yaml:"silent_mode"`
}

// AI 角色。
const (
	AIRoleCustom   = "custom"
	AIRoleClothing = "clothing"
)

// Clothing 是服装导购角色的参数。
type Clothing struct {
	Category string `yaml:"category"`
	Height   int    `yaml:"height"`
	Weight   int    `yaml:"weight"`
}

// AIFilter 决定哪些弹幕不值得调用 AI。
type AIFilter struct {
	MinLength       int      `yaml:"min_length"`
	EmojiOnly       bool     `yaml:"emoji_only"`
	NumbersOnly     bool     `yaml:"numbers_only"`
	PunctuationOnly bool     `yaml:"punctuation_only"`
	RepeatedChars   bool     `yaml:"repeated_chars"`
	Keywords        []string `yaml:"keywords"`
	RequireKeywords bool     `yaml:"require_keywords"`
}

// AI 是 AI 回复配置。
type AI struct {
	APIKey       string        `yaml:"api_key"`
	APIUrl       string        `yaml:"api_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Role         string        `yaml:"role"`
	Clothing     Clothing      `yaml:"clothing"`
	MaxHistory   int           `yaml:"max_history"` // 每个用户保留的对话轮数
	Timeout      time.Duration `yaml:"timeout"`
	Filter       AIFilter      `yaml:"filter"`
	CDK          string        `yaml:"cdk"` // 已激活的 CDK，用于用量上报
}

// Server 是授权服务器配置。
type Server struct {
	Enable  bool          `yaml:"enable"`
	BaseUrl string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CDK 是本地 CDK 校验配置。
type CDK struct {
	Secret   string   `yaml:"secret"`
	Features []string `yaml:"activated_features"` // 本地已激活的功能
}

// History 是弹幕历史库配置。
type History struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// Config包含所有配置信息。
type Config struct {
	File       string `yaml:"-"`           // 配置文件路径
	RPC        RPC    `yaml:"rpc"`         // RPC配置
	Debug      bool   `yaml:"debug"`       // 是否启用调试模式
	Interval   int    `yaml:"interval"`    // 机器人主循环间隔（毫秒）
	Log        Log    `yaml:"log"`         // 日志配置
	MyNickname string `yaml:"my_nickname"` // 默认账户昵称

	Features `yaml:",inline"`

	ReplyRules    []ReplyRule    `yaml:"reply_rules"`
	SpecificRules []ReplyRule    `yaml:"specific_rules"`
	AdvancedRules []AdvancedRule `yaml:"advanced_reply_rules"`
	WarmupRules   []WarmupRule   `yaml:"warmup_rules"`
	WarmupMsgs    string         `yaml:"warmup_msgs"` // 旧版暖场消息池

	Sender  Sender  `yaml:"sender"`
	Queue   Queue   `yaml:"queue"`
	Command Command `yaml:"command"`
	AI      AI      `yaml:"ai"`
	Server  Server  `yaml:"server"`
	CDK     CDK     `yaml:"cdk"`
	History History `yaml:"history"`

	Accounts  []Account  `yaml:"accounts"`
	LiveRooms []LiveRoom `yaml:"live_rooms"`

	lock sync.RWMutex
}

func newDefaultConfig() *Config {
	return &Config{
		RPC:        defaultRPC,
		Debug:      false,
		Interval:   500,
		MyNickname: "机器人名字",
		Log: Log{
			OutPutFolder: "./",
			SaveLastLog:  true,
			SaveEveryLog: false,
		},
		ReplyRules:    defaultReplyRules(),
		SpecificRules: defaultSpecificRules(),
		AdvancedRules: defaultAdvancedRules(),
		WarmupRules:   defaultWarmupRules(),
		WarmupMsgs:    "欢迎来到直播间|喜欢主播点点关注",
		Sender: Sender{
			ReplyInterval: 4,
			RandomJitter:  2.0,
		},
		Queue: Queue{
			Mode:              QueueRoundRobin,
			TimeWindow:        5.0,
			LockTimeout:       30.0,
			AccountPriorities: map[string]int{},
			StrictSingleReply: true,
			AutoCleanupLocks:  true,
			MaxLockHistory:    1000,
		},
		AI: AI{
			APIUrl:     "https://api.deepseek.com/chat/completions",
			Model:      "deepseek-chat",
			Role:       AIRoleCustom,
			Clothing:   Clothing{Category: "服装", Height: 165, Weight: 55},
			MaxHistory: 5,
			Timeout:    30 * time.Second,
			Filter: AIFilter{
				MinLength:       2,
				EmojiOnly:       true,
				NumbersOnly:     true,
				PunctuationOnly: true,
				RepeatedChars:   true,
			},
		},
		Server: Server{
			Timeout: 10 * time.Second,
		},
		History: History{
			Path: "danmubot.db",
		},
		Accounts:  []Account{},
		LiveRooms: []LiveRoom{},
	}
}

// NewConfig 创建新的Config对象。
func NewConfig() *Config {
	return newDefaultConfig()
}

// Verify 验证配置的有效性。
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("配置为空")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("主循环间隔不能小于等于0")
	}
	if c.Sender.ReplyInterval < 1 || c.Sender.ReplyInterval > 30 {
		return fmt.Errorf("回复间隔必须在1到30秒之间")
	}
	if c.Sender.RandomJitter < 0 {
		return fmt.Errorf("随机抖动不能为负数")
	}
	if !ValidQueueMode(c.Queue.Mode) {
		return fmt.Errorf("未知的队列模式: %s", c.Queue.Mode)
	}
	if c.Queue.TimeWindow <= 0 || c.Queue.LockTimeout <= 0 {
		return fmt.Errorf("队列时间窗口和锁超时必须大于0")
	}
	for i, rule := range c.AdvancedRules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("高级规则 %d 的正则表达式无效: %w", i, err)
		}
	}
	if c.AI.Role != "" && c.AI.Role != AIRoleCustom && c.AI.Role != AIRoleClothing {
		return fmt.Errorf("未知的AI角色: %s", c.AI.Role)
	}
	if c.Server.Enable && c.Server.BaseUrl == "" {
		return fmt.Errorf("启用授权服务器时必须设置 base_url")
	}
	if !c.RPC.Enable && len(c.Accounts) == 0 {
		return fmt.Errorf("RPC未启用，且未设置账户，程序没有可执行操作")
	}
	return nil
}

// NewConfigWithBytes 使用字节数组创建Config对象。
func NewConfigWithBytes(b []byte) (*Config, error) {
	config := newDefaultConfig()
	// 规则列表由文件整体覆盖，而不是与默认值逐项合并
	config.ReplyRules, config.SpecificRules, config.AdvancedRules, config.WarmupRules = nil, nil, nil, nil
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, err
	}
	defaults := newDefaultConfig()
	if config.ReplyRules == nil {
		config.ReplyRules = defaults.ReplyRules
	}
	if config.SpecificRules == nil {
		config.SpecificRules = defaults.SpecificRules
	}
	if config.AdvancedRules == nil {
		config.AdvancedRules = defaults.AdvancedRules
	}
	if config.WarmupRules == nil {
		config.WarmupRules = defaults.WarmupRules
	}
	if config.Queue.AccountPriorities == nil {
		config.Queue.AccountPriorities = map[string]int{}
	}
	return config, nil
}

// NewConfigWithFile 使用文件创建Config对象。
func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("无法打开文件：%s", file)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.File = file
	return config, nil
}

// Marshal 将配置对象序列化并保存到文件。
func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("未设置配置文件路径")
	}
	c.lock.RLock()
	b, err := yaml.Marshal(c)
	c.lock.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(c.File, b, 0644)
}

// GetFilePath 获取配置文件路径。
func (c *Config) GetFilePath() (string, error) {
	if c.File == "" {
		return "", errors.New("未设置配置文件路径")
	}
	return c.File, nil
}

// AddReplyRule 追加一条全局关键词规则。
func (c *Config) AddReplyRule(rule ReplyRule) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if rule.Mode == "" {
		rule.Mode = ModeRandomOne
	}
	c.ReplyRules = append(c.ReplyRules, rule)
}

// RemoveReplyRules 删除关键词完全相同的全局规则，返回删除的条数。
func (c *Config) RemoveReplyRules(keyword string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	kept := make([]ReplyRule, 0, len(c.ReplyRules))
	removed := 0
	for _, rule := range c.ReplyRules {
		if rule.Keyword == keyword {
			removed++
			continue
		}
		kept = append(kept, rule)
	}
	c.ReplyRules = kept
	return removed
}

// SetReplyInterval 修改发送间隔。
func (c *Config) SetReplyInterval(seconds float64) error {
	if seconds < 1 || seconds > 30 {
		return fmt.Errorf("回复间隔必须在1到30秒之间")
	}
	c.lock.Lock()
	c.Sender.ReplyInterval = seconds
	c.lock.Unlock()
	return nil
}

// AllKeywords 收集所有启用规则中的关键词，包括各账户的独立规则。
func (c *Config) AllKeywords() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	seen := make(map[string]struct{})
	res := make([]string, 0)
	collect := func(rules []ReplyRule) {
		for _, rule := range rules {
			if !rule.Active {
				continue
			}
			for _, kw := range rule.Keywords() {
				if _, ok := seen[kw]; ok {
					continue
				}
				seen[kw] = struct{}{}
				res = append(res, kw)
			}
		}
	}
	collect(c.ReplyRules)
	collect(c.SpecificRules)
	for _, acc := range c.Accounts {
		collect(acc.ReplyRules)
		collect(acc.SpecificRules)
	}
	return res
}

// Apply 用新配置中可热更新的部分覆盖当前配置。
// RPC、日志、授权服务器和历史库需要重启才能生效，不在此处更新。
func (c *Config) Apply(other *Config) {
	if other == nil || other == c {
		return
	}
	other.lock.RLock()
	defer other.lock.RUnlock()
	c.lock.Lock()
	defer c.lock.Unlock()

	c.Debug = other.Debug
	c.Interval = other.Interval
	c.MyNickname = other.MyNickname
	c.Features = other.Features
	c.ReplyRules = other.ReplyRules
	c.SpecificRules = other.SpecificRules
	c.AdvancedRules = other.AdvancedRules
	c.WarmupRules = other.WarmupRules
	c.WarmupMsgs = other.WarmupMsgs
	c.Sender = other.Sender
	c.Queue = other.Queue
	c.Command = other.Command
	c.AI = other.AI
	c.Accounts = other.Accounts
	c.LiveRooms = other.LiveRooms
}

// Snapshot 在读锁内执行 fn。
func (c *Config) Snapshot(fn func(c *Config)) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	fn(c)
}

// Update 在写锁内执行 fn。
func (c *Config) Update(fn func(c *Config)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	fn(c)
}
