package statistics

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Suggestion 根据未匹配关键词的出现次数给出添加建议。
func Suggestion(count int) string {
	switch {
	case count >= 10:
		return "强烈建议添加"
	case count >= 5:
		return "建议添加"
	default:
		return "可考虑添加"
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary 返回适合直接发到直播间或日志的简短统计文本。
func (m *Manager) Summary() string {
	all := m.Export(nil)
	var sb strings.Builder
	fmt.Fprintf(&sb, "运行时长: %s\n", formatDuration(time.Duration(all.Runtime*float64(time.Second))))
	fmt.Fprintf(&sb, "弹幕总数: %d, 活跃用户: %d\n", all.Danmu.TotalCount, all.Danmu.UniqueUsers)
	fmt.Fprintf(&sb, "回复总数: %d", all.Reply.TotalReplies)
	for _, account := range sortedKeys(all.Reply.ReplyCounts) {
		fmt.Fprintf(&sb, "\n%s: %d", account, all.Reply.ReplyCounts[account])
	}
	return sb.String()
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	mi := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, mi, s)
}

// ExportUnmatchedCSV 导出高频未匹配关键词及添加建议。
func (m *Manager) ExportUnmatchedCSV(w io.Writer, configured []string) error {
	stats := m.DanmuStats(configured)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"关键词", "出现次数", "建议"}); err != nil {
		return err
	}
	for _, kc := range stats.UnmatchedKeywords {
		if err := cw.Write([]string{kc.Keyword, strconv.Itoa(kc.Count), Suggestion(kc.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV 导出完整的统计报表，各部分之间以空行分隔。
func (m *Manager) ExportCSV(w io.Writer, configured []string) error {
	all := m.Export(configured)
	rows := [][]string{
		{"统计报告"},
		{"导出时间", all.Timestamp.Format("2006-01-02 15:04:05")},
		{"运行时长(秒)", fmt.Sprintf("%.0f", all.Runtime)},
		{},
		{"回复统计"},
		{"账户名", "回复次数", "平均响应时间(秒)"},
	}
	for _, account := range sortedKeys(all.Reply.ReplyCounts) {
		rows = append(rows, []string{
			account,
			strconv.Itoa(all.Reply.ReplyCounts[account]),
			fmt.Sprintf("%.3f", all.Reply.AvgResponseTimes[account]),
		})
	}

	rows = append(rows, []string{}, []string{"关键词命中统计"}, []string{"账户名", "关键词", "命中次数"})
	for _, account := range sortedKeys(all.Reply.KeywordTop) {
		for _, kc := range all.Reply.KeywordTop[account] {
			rows = append(rows, []string{account, kc.Keyword, strconv.Itoa(kc.Count)})
		}
	}

	rows = append(rows,
		[]string{},
		[]string{"弹幕统计"},
		[]string{"弹幕总数", strconv.Itoa(all.Danmu.TotalCount)},
		[]string{"活跃用户数", strconv.Itoa(all.Danmu.UniqueUsers)},
		[]string{},
		[]string{"活跃用户Top20"},
		[]string{"用户名", "弹幕数"},
	)
	for _, u := range all.Danmu.ActiveUsers {
		rows = append(rows, []string{u.Keyword, strconv.Itoa(u.Count)})
	}

	rows = append(rows, []string{}, []string{"高频未匹配关键词"}, []string{"排名", "关键词", "出现次数", "建议"})
	for i, kc := range all.Danmu.UnmatchedKeywords {
		rows = append(rows, []string{strconv.Itoa(i + 1), kc.Keyword, strconv.Itoa(kc.Count), Suggestion(kc.Count)})
	}
	rows = append(rows, []string{"未匹配弹幕总数", strconv.Itoa(all.Danmu.UnmatchedCount)})

	rows = append(rows, []string{}, []string{"性能指标"}, []string{"账户名", "当前队列", "最大队列", "平均队列"})
	for _, account := range sortedKeys(all.Performance.QueueStats) {
		qs := all.Performance.QueueStats[account]
		rows = append(rows, []string{account, strconv.Itoa(qs.Current), strconv.Itoa(qs.Max), fmt.Sprintf("%.2f", qs.Avg)})
	}
	rows = append(rows,
		[]string{"锁竞争总数", strconv.Itoa(all.Performance.LockContentionTotal)},
		[]string{"锁竞争（最近1小时）", strconv.Itoa(all.Performance.LockContentionRecent)},
	)

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
