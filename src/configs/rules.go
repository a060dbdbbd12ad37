package configs

import (
	"strings"
	"unicode/utf8"
)

// 回复模式。
const (
	ModeRandomOne = "随机挑一"
	ModeSendAll   = "顺序全发"
)

// 暖场触发类型。
const (
	TriggerNoDanmu = "无弹幕触发"
	TriggerTimed   = "定时触发"
)

const (
	defaultRuleCooldown   = 15
	defaultWarmupCooldown = 60
	defaultWarmupMinIdle  = 120
)

// ReplyRule 是关键词回复和@回复共用的规则。
type ReplyRule struct {
	Keyword  string `yaml:"kw" json:"kw"`             // 关键词，多个用 | 分隔
	Response string `yaml:"resp" json:"resp"`         // 回复池，多个用 | 分隔
	Mode     string `yaml:"mode" json:"mode"`         // 随机挑一 / 顺序全发
	Cooldown int    `yaml:"cooldown" json:"cooldown"` // 冷却时间（秒）
	Active   bool   `yaml:"active" json:"active"`     // 是否启用
}

type replyRuleAlias ReplyRule

// UnmarshalYAML 为缺省字段填充默认值。
func (r *ReplyRule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	alias := replyRuleAlias{
		Mode:     ModeRandomOne,
		Cooldown: defaultRuleCooldown,
		Active:   true,
	}
	if err := unmarshal(&alias); err != nil {
		return err
	}
	*r = ReplyRule(alias)
	return nil
}

// Keywords 返回拆分后的关键词列表。
func (r ReplyRule) Keywords() []string {
	return SplitPool(r.Keyword)
}

// LongestKeyword 返回最长关键词的字符数，用于排序。
func (r ReplyRule) LongestKeyword() int {
	max := 0
	for _, kw := range r.Keywords() {
		if n := utf8.RuneCountInString(kw); n > max {
			max = n
		}
	}
	return max
}

// AdvancedRule 是基于正则表达式的高级回复规则。
type AdvancedRule struct {
	Pattern           string `yaml:"pattern" json:"pattern"`
	Response          string `yaml:"resp" json:"resp"`
	Mode              string `yaml:"mode" json:"mode"`
	Cooldown          int    `yaml:"cooldown" json:"cooldown"`
	Active            bool   `yaml:"active" json:"active"`
	Description       string `yaml:"description" json:"description"`
	IgnorePunctuation bool   `yaml:"ignore_punctuation" json:"ignore_punctuation"` // 匹配前去除中英文标点
	AtReply           bool   `yaml:"at_reply" json:"at_reply"`                     // 回复前加 "@用户 "
	Script            string `yaml:"script,omitempty" json:"script,omitempty"`     // 可选的 JS 条件表达式
}

type advancedRuleAlias AdvancedRule

// UnmarshalYAML 为缺省字段填充默认值。
func (r *AdvancedRule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	alias := advancedRuleAlias{
		Mode:              ModeRandomOne,
		Cooldown:          defaultRuleCooldown,
		Active:            true,
		IgnorePunctuation: true,
	}
	if err := unmarshal(&alias); err != nil {
		return err
	}
	*r = AdvancedRule(alias)
	return nil
}

// WarmupRule 是暖场规则。
type WarmupRule struct {
	TriggerType    string `yaml:"trigger_type" json:"trigger_type"`
	Name           string `yaml:"name" json:"name"`
	Messages       string `yaml:"messages" json:"messages"`
	Mode           string `yaml:"mode" json:"mode"`
	MinNoDanmuTime int    `yaml:"min_no_danmu_time" json:"min_no_danmu_time"` // 秒
	MaxNoDanmuTime int    `yaml:"max_no_danmu_time" json:"max_no_danmu_time"` // 秒，0 表示不限
	Cooldown       int    `yaml:"cooldown" json:"cooldown"`                   // 秒
	Active         bool   `yaml:"active" json:"active"`
}

type warmupRuleAlias WarmupRule

// UnmarshalYAML 为缺省字段填充默认值。
func (r *WarmupRule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	alias := warmupRuleAlias{
		TriggerType:    TriggerNoDanmu,
		Mode:           ModeRandomOne,
		MinNoDanmuTime: defaultWarmupMinIdle,
		Cooldown:       defaultWarmupCooldown,
		Active:         true,
	}
	if err := unmarshal(&alias); err != nil {
		return err
	}
	*r = WarmupRule(alias)
	return nil
}

// SplitPool 按 | 拆分并去掉空白项，{{ }} 模板内部的 | 不作为分隔符。
func SplitPool(s string) []string {
	res := make([]string, 0)
	add := func(p string) {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			depth++
			i++
		case strings.HasPrefix(s[i:], "}}") && depth > 0:
			depth--
			i++
		case s[i] == '|' && depth == 0:
			add(s[start:i])
			start = i + 1
		}
	}
	add(s[start:])
	return res
}

func defaultReplyRules() []ReplyRule {
	return []ReplyRule{
		{Keyword: "测试", Response: "测试通过~|测试成功！|功能正常", Mode: ModeRandomOne, Cooldown: 10, Active: true},
		{Keyword: "你好|在吗|主播好", Response: "你好，欢迎来到直播间~|在的，有什么可以帮您|主播好，欢迎新朋友", Mode: ModeRandomOne, Cooldown: 15, Active: true},
		{Keyword: "怎么买|哪里买|怎么下单", Response: "点击左上角粉丝群查看详情|喜欢的可以截图咨询哦|可以私信咨询购买方式", Mode: ModeRandomOne, Cooldown: 15},
		{Keyword: "怎么进群|哪里加群|群怎么进", Response: "点击头像进入粉丝群|左上角粉丝群欢迎加入|头像处可以加入粉丝群", Mode: ModeRandomOne, Cooldown: 15},
	}
}

func defaultSpecificRules() []ReplyRule {
	return []ReplyRule{
		{Keyword: "测试@", Response: "回复测试通过~|回复功能正常|回复测试成功！", Mode: ModeRandomOne, Cooldown: 10, Active: true},
		{Keyword: "你好|在吗|主播好", Response: "你好，欢迎来到直播间~|在的，有什么可以帮您|主播好，欢迎新朋友", Mode: ModeRandomOne, Cooldown: 15},
		{Keyword: "关注|点关注", Response: "感谢关注，欢迎常来~|谢谢关注，记得常来看看哦|关注成功，欢迎加入我们", Mode: ModeRandomOne, Cooldown: 20},
	}
}

func defaultAdvancedRules() []AdvancedRule {
	return []AdvancedRule{
		{
			Pattern: ".*测试.*", Response: "高级回复模式测试通过~|正则表达式匹配成功！|测试功能正常",
			Mode: ModeRandomOne, Cooldown: 10, Active: true, IgnorePunctuation: true,
			Description: "匹配包含'测试'的弹幕",
		},
		{
			Pattern: "(你好|在吗|主播好).*", Response: "你好，欢迎来到直播间~|在的，有什么可以帮您|主播好，欢迎新朋友",
			Mode: ModeRandomOne, Cooldown: 15, IgnorePunctuation: true,
			Description: "匹配问候语",
		},
		{
			Pattern: "(怎么|如何|怎样|哪里|在哪).*(买|下单|拍|购买)", Response: "点击左上角粉丝群查看详情|喜欢的可以截图咨询哦|可以私信咨询购买方式",
			Mode: ModeRandomOne, Cooldown: 15, IgnorePunctuation: true,
			Description: "匹配各种购买询问",
		},
		{
			Pattern: "(进|加|加入).*群", Response: "点击头像进入粉丝群|左上角粉丝群欢迎加入|头像处可以加入粉丝群",
			Mode: ModeRandomOne, Cooldown: 15, IgnorePunctuation: true,
			Description: "匹配各种进群询问",
		},
		{
			Pattern: ".*关注.*", Response: "感谢关注，欢迎常来~|谢谢关注，记得常来看看哦|关注成功，欢迎加入我们",
			Mode: ModeRandomOne, Cooldown: 20, IgnorePunctuation: true, AtReply: true,
			Description: "匹配包含'关注'的弹幕并@回复",
		},
	}
}

func defaultWarmupRules() []WarmupRule {
	return []WarmupRule{
		{
			TriggerType:    TriggerNoDanmu,
			Name:           "默认暖场",
			Messages:       "欢迎来到直播间|喜欢主播点点关注|新来的朋友可以点个关注哦",
			Mode:           ModeRandomOne,
			MinNoDanmuTime: 60,
			MaxNoDanmuTime: 0,
			Cooldown:       120,
			Active:         true,
		},
	}
}
