package utils

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
)

// GetFuncMap 返回回复模板可用的函数，包含 sprig 的全部文本函数。
func GetFuncMap() template.FuncMap {
	funcMap := sprig.TxtFuncMap()
	funcMap["oneOf"] = func(pool string) string {
		parts := strings.Split(pool, "|")
		return strings.TrimSpace(parts[randIntn(len(parts))])
	}
	return funcMap
}

// RenderTemplate 渲染包含 {{ }} 的文本，失败时返回原文和错误。
func RenderTemplate(text string, data interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New("reply").Funcs(GetFuncMap()).Parse(text)
	if err != nil {
		return text, err
	}
	buf := new(strings.Builder)
	if err := tmpl.Execute(buf, data); err != nil {
		return text, err
	}
	return buf.String(), nil
}
