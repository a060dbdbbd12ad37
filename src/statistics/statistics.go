// Package statistics 收集回复、弹幕和性能相关的运行统计。
package statistics

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	replyTimesCap      = 100
	danmuContentsCap   = 1000
	unmatchedDanmuCap  = 500
	responseTimesCap   = 100
	queueSizesCap      = 100
	lockContentionsCap = 100

	hotWordsWindow = 500
	topKeywords    = 10
	topUsers       = 20
	topUnmatched   = 20
)

var unmatchedWordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\p{Han}{2,10}`),
	regexp.MustCompile(`[a-zA-Z]{2,20}`),
	regexp.MustCompile(`\d+[个次条张本]`),
}

// window 是定长的滑动窗口，超出容量时丢弃最早的元素。
type window[T any] struct {
	cap   int
	items []T
}

func newWindow[T any](cap int) *window[T] {
	return &window[T]{cap: cap, items: make([]T, 0, cap)}
}

func (w *window[T]) push(v T) {
	if len(w.items) == w.cap {
		copy(w.items, w.items[1:])
		w.items = w.items[:len(w.items)-1]
	}
	w.items = append(w.items, v)
}

type danmuRecord struct {
	User      string
	Content   string
	Timestamp time.Time
}

type contention struct {
	at    time.Time
	count int
}

// Manager 是线程安全的统计管理器，整个进程共享一个。
type Manager struct {
	lock sync.Mutex
	now  func() time.Time

	replyCounts   map[string]int
	keywordHits   map[string]map[string]int
	replyTimes    map[string]*window[time.Time]
	responseTimes map[string]*window[time.Duration]
	queueSizes    map[string]*window[int]

	danmuTotal    int
	danmuUsers    map[string]int
	danmuContents *window[danmuRecord]

	unmatchedDanmu    *window[danmuRecord]
	unmatchedKeywords map[string]int

	lockContentions *window[contention]

	startTime time.Time
}

// NewManager 创建统计管理器。
func NewManager() *Manager {
	m := &Manager{now: time.Now}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.replyCounts = make(map[string]int)
	m.keywordHits = make(map[string]map[string]int)
	m.replyTimes = make(map[string]*window[time.Time])
	m.responseTimes = make(map[string]*window[time.Duration])
	m.queueSizes = make(map[string]*window[int])
	m.danmuTotal = 0
	m.danmuUsers = make(map[string]int)
	m.danmuContents = newWindow[danmuRecord](danmuContentsCap)
	m.unmatchedDanmu = newWindow[danmuRecord](unmatchedDanmuCap)
	m.unmatchedKeywords = make(map[string]int)
	m.lockContentions = newWindow[contention](lockContentionsCap)
	m.startTime = m.now()
}

// Reset 清空所有统计。
func (m *Manager) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.reset()
}

// RecordReply 记录一次回复，keyword 为空时只计数。
func (m *Manager) RecordReply(account, keyword string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.replyCounts[account]++
	if keyword != "" {
		hits, ok := m.keywordHits[account]
		if !ok {
			hits = make(map[string]int)
			m.keywordHits[account] = hits
		}
		hits[keyword]++
	}
	w, ok := m.replyTimes[account]
	if !ok {
		w = newWindow[time.Time](replyTimesCap)
		m.replyTimes[account] = w
	}
	w.push(m.now())
}

// RecordDanmu 记录一条通过过滤的弹幕。
func (m *Manager) RecordDanmu(user, content string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.danmuTotal++
	m.danmuUsers[user]++
	m.danmuContents.push(danmuRecord{User: user, Content: content, Timestamp: m.now()})
}

// RecordResponseTime 记录规则匹配到生成回复的耗时。
func (m *Manager) RecordResponseTime(account string, d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()
	w, ok := m.responseTimes[account]
	if !ok {
		w = newWindow[time.Duration](responseTimesCap)
		m.responseTimes[account] = w
	}
	w.push(d)
}

// RecordQueueSize 记录发送队列长度。
func (m *Manager) RecordQueueSize(account string, size int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	w, ok := m.queueSizes[account]
	if !ok {
		w = newWindow[int](queueSizesCap)
		m.queueSizes[account] = w
	}
	w.push(size)
}

// RecordLockContention 记录一次锁竞争。
func (m *Manager) RecordLockContention(count int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.lockContentions.push(contention{at: m.now(), count: count})
}

// RecordUnmatchedDanmu 记录没有命中任何规则的弹幕，并统计其中的候选关键词。
func (m *Manager) RecordUnmatchedDanmu(content string) {
	if utf8.RuneCountInString(strings.TrimSpace(content)) < 2 {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.unmatchedDanmu.push(danmuRecord{Content: content, Timestamp: m.now()})
	for _, word := range ExtractKeywords(content) {
		m.unmatchedKeywords[word]++
	}
}

// ExtractKeywords 提取中文词组、英文单词和“数字+量词”组合。
func ExtractKeywords(content string) []string {
	res := make([]string, 0)
	for _, re := range unmatchedWordPatterns {
		for _, w := range re.FindAllString(content, -1) {
			if utf8.RuneCountInString(w) >= 2 {
				res = append(res, w)
			}
		}
	}
	return res
}

// KeywordCount 是关键词及其次数。
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// topN 按次数降序、关键词升序排序后截取前 n 个，n<=0 表示全部。
func topN(counts map[string]int, n int) []KeywordCount {
	res := make([]KeywordCount, 0, len(counts))
	for k, v := range counts {
		res = append(res, KeywordCount{Keyword: k, Count: v})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Keyword < res[j].Keyword
	})
	if n > 0 && len(res) > n {
		res = res[:n]
	}
	return res
}

// ReplyStats 是回复统计。
type ReplyStats struct {
	ReplyCounts      map[string]int            `json:"reply_counts"`
	KeywordHits      map[string]map[string]int `json:"keyword_hits"`
	KeywordTop       map[string][]KeywordCount `json:"keyword_top"`
	AvgResponseTimes map[string]float64        `json:"avg_response_times"` // 秒
	TotalReplies     int                       `json:"total_replies"`
}

// ReplyStats 返回回复统计。
func (m *Manager) ReplyStats() ReplyStats {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.replyStats()
}

func (m *Manager) replyStats() ReplyStats {
	s := ReplyStats{
		ReplyCounts:      make(map[string]int, len(m.replyCounts)),
		KeywordHits:      make(map[string]map[string]int, len(m.keywordHits)),
		KeywordTop:       make(map[string][]KeywordCount, len(m.keywordHits)),
		AvgResponseTimes: make(map[string]float64, len(m.responseTimes)),
	}
	for account, count := range m.replyCounts {
		s.ReplyCounts[account] = count
		s.TotalReplies += count
	}
	for account, hits := range m.keywordHits {
		cp := make(map[string]int, len(hits))
		for k, v := range hits {
			cp[k] = v
		}
		s.KeywordHits[account] = cp
		s.KeywordTop[account] = topN(hits, topKeywords)
	}
	for account, w := range m.responseTimes {
		if len(w.items) == 0 {
			continue
		}
		var sum time.Duration
		for _, d := range w.items {
			sum += d
		}
		s.AvgResponseTimes[account] = sum.Seconds() / float64(len(w.items))
	}
	return s
}

// DanmuStats 是弹幕统计。
type DanmuStats struct {
	TotalCount        int            `json:"total_count"`
	ActiveUsers       []KeywordCount `json:"active_users"`
	UniqueUsers       int            `json:"unique_users"`
	HotKeywords       []KeywordCount `json:"hot_keywords"`
	UnmatchedKeywords []KeywordCount `json:"unmatched_keywords"`
	UnmatchedCount    int            `json:"unmatched_count"`
}

// DanmuStats 返回弹幕统计。configured 是已配置的关键词，
// 与其互相包含的未匹配关键词不会出现在结果中。
func (m *Manager) DanmuStats(configured []string) DanmuStats {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.danmuStats(configured)
}

func (m *Manager) danmuStats(configured []string) DanmuStats {
	recent := m.danmuContents.items
	if len(recent) > hotWordsWindow {
		recent = recent[len(recent)-hotWordsWindow:]
	}
	words := make(map[string]int)
	for _, r := range recent {
		for _, w := range strings.Fields(r.Content) {
			if utf8.RuneCountInString(w) >= 2 {
				words[w]++
			}
		}
	}

	unmatched := topN(m.unmatchedKeywords, 0)
	filtered := make([]KeywordCount, 0, topUnmatched)
	for _, kc := range unmatched {
		if isConfigured(kc.Keyword, configured) {
			continue
		}
		filtered = append(filtered, kc)
		if len(filtered) == topUnmatched {
			break
		}
	}

	return DanmuStats{
		TotalCount:        m.danmuTotal,
		ActiveUsers:       topN(m.danmuUsers, topUsers),
		UniqueUsers:       len(m.danmuUsers),
		HotKeywords:       topN(words, topUsers),
		UnmatchedKeywords: filtered,
		UnmatchedCount:    len(m.unmatchedDanmu.items),
	}
}

func isConfigured(keyword string, configured []string) bool {
	for _, c := range configured {
		if c == "" {
			continue
		}
		if strings.Contains(c, keyword) || strings.Contains(keyword, c) {
			return true
		}
	}
	return false
}

// QueueStat 是单个账户的发送队列积压情况。
type QueueStat struct {
	Current int     `json:"current"`
	Max     int     `json:"max"`
	Avg     float64 `json:"avg"`
}

// PerformanceStats 是性能指标。
type PerformanceStats struct {
	QueueStats           map[string]QueueStat `json:"queue_stats"`
	LockContentionTotal  int                  `json:"lock_contention_total"`
	LockContentionRecent int                  `json:"lock_contention_recent"` // 最近一小时
}

// PerformanceStats 返回性能指标。
func (m *Manager) PerformanceStats() PerformanceStats {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.performanceStats()
}

func (m *Manager) performanceStats() PerformanceStats {
	s := PerformanceStats{QueueStats: make(map[string]QueueStat, len(m.queueSizes))}
	for account, w := range m.queueSizes {
		if len(w.items) == 0 {
			continue
		}
		qs := QueueStat{Current: w.items[len(w.items)-1]}
		sum := 0
		for _, v := range w.items {
			sum += v
			if v > qs.Max {
				qs.Max = v
			}
		}
		qs.Avg = float64(sum) / float64(len(w.items))
		s.QueueStats[account] = qs
	}
	now := m.now()
	for _, c := range m.lockContentions.items {
		s.LockContentionTotal += c.count
		if now.Sub(c.at) < time.Hour {
			s.LockContentionRecent++
		}
	}
	return s
}

// Runtime 返回距离启动或上次重置的时长。
func (m *Manager) Runtime() time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.now().Sub(m.startTime)
}

// DanmuTotal 返回弹幕总数。
func (m *Manager) DanmuTotal() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.danmuTotal
}

// All 是全部统计的快照。
type All struct {
	Timestamp   time.Time        `json:"timestamp"`
	Runtime     float64          `json:"runtime_seconds"`
	Reply       ReplyStats       `json:"reply_statistics"`
	Danmu       DanmuStats       `json:"danmu_statistics"`
	Performance PerformanceStats `json:"performance_metrics"`
}

// Export 在一次加锁内导出全部统计。
func (m *Manager) Export(configured []string) All {
	m.lock.Lock()
	defer m.lock.Unlock()
	now := m.now()
	return All{
		Timestamp:   now,
		Runtime:     now.Sub(m.startTime).Seconds(),
		Reply:       m.replyStats(),
		Danmu:       m.danmuStats(configured),
		Performance: m.performanceStats(),
	}
}
