package ai

import (
	"fmt"

	"github.com/yuhaohwang/danmubot/src/configs"
)

const defaultSystemPrompt = "你是一个抖音直播间的智能助手，负责回复观众的弹幕。" +
	"回复要简洁、友好、有趣，通常不超过20字。" +
	"如果观众问问题，要给出有用的回答；如果是闲聊，要热情互动。" +
	"不要重复相同的内容，要根据上下文灵活回复。"

const clothingPromptTemplate = "你是一个%[1]s直播间的专业导购助手，负责回复观众的弹幕。\n" +
	"重要信息：主播身高%[2]dcm，体重%[3]dkg。\n" +
	"回复要求：\n" +
	"1. 简洁、专业、友好，通常不超过20字\n" +
	"2. 根据主播的身高体重推荐合适的尺码和款式\n" +
	"3. 回答关于%[1]s的问题，如材质、搭配、尺码等\n" +
	"4. 如果观众询问尺码，要结合主播的身高体重给出建议\n" +
	"5. 不要重复相同的内容，要根据上下文灵活回复\n" +
	"6. 保持热情，鼓励观众下单"

// SystemPrompt 返回生效的系统提示词：自定义优先，其次是预设角色，最后是默认提示词。
func SystemPrompt(cfg configs.AI) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	if cfg.Role == configs.AIRoleClothing {
		category := cfg.Clothing.Category
		if category == "" {
			category = "服装"
		}
		return fmt.Sprintf(clothingPromptTemplate, category, cfg.Clothing.Height, cfg.Clothing.Weight)
	}
	return defaultSystemPrompt
}
