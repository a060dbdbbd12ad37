package license

import (
	"github.com/yuhaohwang/danmubot/src/configs"
)

// KeywordRule 是上报给服务器的一条规则。
type KeywordRule struct {
	Keyword  string `json:"keyword"`
	Reply    string `json:"reply"`
	Mode     string `json:"mode"`
	Cooldown int    `json:"cooldown"`
}

// AccountKeywords 是单个账户的独立规则。
type AccountKeywords struct {
	ReplyRules    []KeywordRule `json:"reply_rules"`
	SpecificRules []KeywordRule `json:"specific_rules"`
	WarmupRules   []KeywordRule `json:"warmup_rules"`
}

// Keywords 是关键词上报的内容。
type Keywords struct {
	GlobalReplyRules    []KeywordRule              `json:"global_reply_rules"`
	GlobalSpecificRules []KeywordRule              `json:"global_specific_rules"`
	GlobalWarmupRules   []KeywordRule              `json:"global_warmup_rules"`
	AccountRules        map[string]AccountKeywords `json:"account_rules"`
}

func fromReplyRules(rules []configs.ReplyRule) []KeywordRule {
	res := make([]KeywordRule, 0, len(rules))
	for _, r := range rules {
		res = append(res, KeywordRule{Keyword: r.Keyword, Reply: r.Response, Mode: r.Mode, Cooldown: r.Cooldown})
	}
	return res
}

func fromWarmupRules(rules []configs.WarmupRule) []KeywordRule {
	res := make([]KeywordRule, 0, len(rules))
	for _, r := range rules {
		res = append(res, KeywordRule{Keyword: r.Name, Reply: r.Messages, Mode: r.Mode, Cooldown: r.Cooldown})
	}
	return res
}

// CollectKeywords 收集全局规则和各账户的独立规则。
func CollectKeywords(cfg *configs.Config) Keywords {
	var k Keywords
	cfg.Snapshot(func(c *configs.Config) {
		k.GlobalReplyRules = fromReplyRules(c.ReplyRules)
		k.GlobalSpecificRules = fromReplyRules(c.SpecificRules)
		k.GlobalWarmupRules = fromWarmupRules(c.WarmupRules)
		k.AccountRules = make(map[string]AccountKeywords, len(c.Accounts))
		for _, acc := range c.Accounts {
			if len(acc.ReplyRules) == 0 && len(acc.SpecificRules) == 0 && len(acc.WarmupRules) == 0 {
				continue
			}
			k.AccountRules[acc.Name] = AccountKeywords{
				ReplyRules:    fromReplyRules(acc.ReplyRules),
				SpecificRules: fromReplyRules(acc.SpecificRules),
				WarmupRules:   fromWarmupRules(acc.WarmupRules),
			}
		}
	})
	return k
}
