package ai

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuhaohwang/danmubot/src/configs"
)

// 抖音文字表情，如 [赞]、[比心]
var bracketEmoji = regexp.MustCompile(`\[[^\[\]]{1,6}\]`)

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0xFE0F, r == 0x200D:
		return true
	}
	return false
}

// ShouldFilter 判断弹幕是否不值得调用 AI，返回过滤原因。
func ShouldFilter(f configs.AIFilter, content string) (bool, string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return true, "内容为空"
	}
	if utf8.RuneCountInString(content) < f.MinLength {
		return true, fmt.Sprintf("长度不足（少于%d个字符）", f.MinLength)
	}

	if f.EmojiOnly {
		rest := strings.Map(func(r rune) rune {
			if isEmoji(r) || unicode.IsSpace(r) {
				return -1
			}
			return r
		}, bracketEmoji.ReplaceAllString(content, ""))
		if rest == "" {
			return true, "纯表情符号"
		}
	}

	compact := strings.ReplaceAll(content, " ", "")
	if f.NumbersOnly && compact != "" && strings.IndexFunc(compact, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return true, "纯数字"
	}

	if f.PunctuationOnly && strings.IndexFunc(content, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0 {
		return true, "纯标点符号"
	}

	if f.RepeatedChars {
		counts := make(map[rune]int)
		total, max := 0, 0
		for _, r := range content {
			if unicode.IsSpace(r) {
				continue
			}
			total++
			counts[r]++
			if counts[r] > max {
				max = counts[r]
			}
		}
		if total >= 3 && float64(max) >= float64(total)*0.6 {
			return true, "重复字符过多"
		}
	}

	if f.RequireKeywords && len(f.Keywords) > 0 {
		lower := strings.ToLower(content)
		found := false
		for _, kw := range f.Keywords {
			kw = strings.TrimSpace(kw)
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return true, "不包含关键词"
		}
	}
	return false, ""
}
