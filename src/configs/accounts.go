package configs

import (
	"errors"
	"strings"
)

var (
	// ErrAccountExist 表示同名账户已存在。
	ErrAccountExist = errors.New("账户已存在")
	// ErrAccountNotExist 表示账户不存在。
	ErrAccountNotExist = errors.New("账户不存在")
)

// FeatureOverrides 是账户级的功能开关，nil 表示沿用全局配置。
type FeatureOverrides struct {
	AutoReply     *bool `yaml:"auto_reply_enabled,omitempty" json:"auto_reply_enabled,omitempty"`
	SpecificReply *bool `yaml:"specific_reply_enabled,omitempty" json:"specific_reply_enabled,omitempty"`
	AdvancedReply *bool `yaml:"advanced_reply_enabled,omitempty" json:"advanced_reply_enabled,omitempty"`
	Warmup        *bool `yaml:"warmup_enabled,omitempty" json:"warmup_enabled,omitempty"`
	AIReply       *bool `yaml:"ai_reply_enabled,omitempty" json:"ai_reply_enabled,omitempty"`
}

// Account 是一个小号账户。
type Account struct {
	Name          string         `yaml:"name" json:"name"`         // 账户标识
	Nickname      string         `yaml:"nickname" json:"nickname"` // 小号在直播间的昵称
	Url           string         `yaml:"url" json:"url"`           // 直播间地址
	Enabled       bool           `yaml:"enabled" json:"enabled"`
	ReplyRules    []ReplyRule    `yaml:"reply_rules,omitempty" json:"reply_rules,omitempty"`
	SpecificRules []ReplyRule    `yaml:"specific_rules,omitempty" json:"specific_rules,omitempty"`
	AdvancedRules []AdvancedRule `yaml:"advanced_reply_rules,omitempty" json:"advanced_reply_rules,omitempty"`
	WarmupRules   []WarmupRule   `yaml:"warmup_rules,omitempty" json:"warmup_rules,omitempty"`
	WarmupMsgs    string         `yaml:"warmup_msgs,omitempty" json:"warmup_msgs,omitempty"`

	FeatureOverrides `yaml:",inline"`
}

type accountAlias Account

// UnmarshalYAML 新账户默认启用。
func (a *Account) UnmarshalYAML(unmarshal func(interface{}) error) error {
	alias := accountAlias{Enabled: true}
	if err := unmarshal(&alias); err != nil {
		return err
	}
	*a = Account(alias)
	return nil
}

// NewAccount 创建一个默认启用、沿用全局规则的账户。
func NewAccount(name, nickname, url string) Account {
	return Account{
		Name:     strings.TrimSpace(name),
		Nickname: strings.TrimSpace(nickname),
		Url:      strings.TrimSpace(url),
		Enabled:  true,
	}
}

// Settings 是账户合并全局配置之后实际生效的设置。
type Settings struct {
	Account       string
	Nickname      string
	Features      Features
	ReplyRules    []ReplyRule
	SpecificRules []ReplyRule
	AdvancedRules []AdvancedRule
	WarmupRules   []WarmupRule
	WarmupMsgs    string
	Sender        Sender
	Queue         Queue
	Command       Command
}

func pick(override *bool, global bool) bool {
	if override != nil {
		return *override
	}
	return global
}

// Effective 计算账户的生效设置：账户未配置的部分沿用全局配置。
func (a Account) Effective(c *Config) Settings {
	c.lock.RLock()
	defer c.lock.RUnlock()

	s := Settings{
		Account:  a.Name,
		Nickname: a.Nickname,
		Features: Features{
			AutoReply:     pick(a.AutoReply, c.Features.AutoReply),
			SpecificReply: pick(a.SpecificReply, c.Features.SpecificReply),
			AdvancedReply: pick(a.AdvancedReply, c.Features.AdvancedReply),
			Warmup:        pick(a.Warmup, c.Features.Warmup),
			AIReply:       pick(a.AIReply, c.Features.AIReply),
		},
		ReplyRules:    c.ReplyRules,
		SpecificRules: c.SpecificRules,
		AdvancedRules: c.AdvancedRules,
		WarmupRules:   c.WarmupRules,
		WarmupMsgs:    c.WarmupMsgs,
		Sender:        c.Sender,
		Queue:         c.Queue,
		Command:       c.Command,
	}
	if s.Nickname == "" {
		s.Nickname = c.MyNickname
	}
	if len(a.ReplyRules) > 0 {
		s.ReplyRules = a.ReplyRules
	}
	if len(a.SpecificRules) > 0 {
		s.SpecificRules = a.SpecificRules
	}
	if len(a.AdvancedRules) > 0 {
		s.AdvancedRules = a.AdvancedRules
	}
	if len(a.WarmupRules) > 0 {
		s.WarmupRules = a.WarmupRules
	}
	if a.WarmupMsgs != "" {
		s.WarmupMsgs = a.WarmupMsgs
	}
	return s
}

// AddAccount 添加账户，同名账户返回 ErrAccountExist。
func (c *Config) AddAccount(account Account) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if account.Name == "" {
		return errors.New("账户名称不能为空")
	}
	for _, acc := range c.Accounts {
		if acc.Name == account.Name {
			return ErrAccountExist
		}
	}
	c.Accounts = append(c.Accounts, account)
	return nil
}

// RemoveAccount 删除账户。
func (c *Config) RemoveAccount(name string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i, acc := range c.Accounts {
		if acc.Name == name {
			c.Accounts = append(c.Accounts[:i], c.Accounts[i+1:]...)
			return nil
		}
	}
	return ErrAccountNotExist
}

// UpdateAccount 在锁内修改账户。
func (c *Config) UpdateAccount(name string, fn func(*Account)) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			fn(&c.Accounts[i])
			return nil
		}
	}
	return ErrAccountNotExist
}

// GetAccount 获取账户的副本。
func (c *Config) GetAccount(name string) (Account, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for _, acc := range c.Accounts {
		if acc.Name == name {
			return acc, nil
		}
	}
	return Account{}, ErrAccountNotExist
}

// GetAccounts 返回所有账户的副本。
func (c *Config) GetAccounts() []Account {
	c.lock.RLock()
	defer c.lock.RUnlock()
	res := make([]Account, len(c.Accounts))
	copy(res, c.Accounts)
	return res
}

// Nicknames 返回所有账户的昵称，用于过滤小号自己发出的弹幕。
func (c *Config) Nicknames() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	res := make([]string, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		if acc.Nickname != "" {
			res = append(res, acc.Nickname)
		}
	}
	return res
}

// LiveRoom 是直播间历史记录。
type LiveRoom struct {
	Name string `yaml:"name" json:"name"`
	Url  string `yaml:"url" json:"url"`
}

// liveRoomAlias用于在配置中同时支持字符串和LiveRoom格式。
type liveRoomAlias LiveRoom

// UnmarshalYAML 允许直接写直播间地址字符串。
func (l *LiveRoom) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var alias liveRoomAlias
	if err := unmarshal(&alias); err != nil {
		var url string
		if err = unmarshal(&url); err != nil {
			return err
		}
		alias.Url = url
	}
	*l = LiveRoom(alias)
	return nil
}

// AddLiveRoom 按地址新增或更新直播间。
func (c *Config) AddLiveRoom(name, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("直播间地址不能为空")
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	for i := range c.LiveRooms {
		if c.LiveRooms[i].Url == url {
			c.LiveRooms[i].Name = name
			return nil
		}
	}
	c.LiveRooms = append(c.LiveRooms, LiveRoom{Name: name, Url: url})
	return nil
}

// RemoveLiveRoom 通过地址删除直播间。
func (c *Config) RemoveLiveRoom(url string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i, room := range c.LiveRooms {
		if room.Url == url {
			c.LiveRooms = append(c.LiveRooms[:i], c.LiveRooms[i+1:]...)
			return nil
		}
	}
	return errors.New("移除直播间失败：" + url)
}

// GetLiveRooms 返回直播间历史的副本。
func (c *Config) GetLiveRooms() []LiveRoom {
	c.lock.RLock()
	defer c.lock.RUnlock()
	res := make([]LiveRoom, len(c.LiveRooms))
	copy(res, c.LiveRooms)
	return res
}
