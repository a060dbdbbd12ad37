package reply

import (
	"strings"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/pkg/utils"
)

const nicknamePlaceholder = "[昵称]"

// TemplateData 是回复模板可用的数据。
type TemplateData struct {
	User    string
	Content string
}

// Generate 根据回复池生成消息：拆分、替换昵称、渲染模板、按模式挑选并加前缀。
func Generate(pool, mode, user, content, prefix string) []string {
	parts := configs.SplitPool(pool)
	if len(parts) == 0 {
		return nil
	}
	data := TemplateData{User: user, Content: content}
	for i, p := range parts {
		p = strings.ReplaceAll(p, nicknamePlaceholder, user)
		// 渲染失败时保留原文
		p, _ = utils.RenderTemplate(p, data)
		parts[i] = p
	}
	if mode != configs.ModeSendAll {
		parts = []string{utils.RandomPick(parts)}
	}
	if prefix != "" {
		for i := range parts {
			parts[i] = prefix + parts[i]
		}
	}
	return parts
}

func atPrefix(user string) string {
	return "@" + user + " "
}
