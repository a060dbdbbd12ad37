// Package queue 在多个账户之间协调回复，保证同一条弹幕只被一个账户回复。
package queue

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bluele/gcache"

	"github.com/yuhaohwang/danmubot/src/configs"
)

const (
	recentSentSize = 100
	recentSentTTL  = 30 * time.Second
	// 包含关系判定所需的最少字符数
	minContainRunes = 5
)

// ErrUnknownMode 表示未知的队列模式。
var ErrUnknownMode = errors.New("unknown queue mode")

// ContentionRecorder 记录锁竞争。
type ContentionRecorder interface {
	RecordLockContention(count int)
}

type lockInfo struct {
	account string
	at      time.Time
}

// Queue 是全局消息队列，由 Instance 持有，整个进程一个。
type Queue struct {
	lock     sync.Mutex
	now      func() time.Time
	settings configs.Queue
	locks    map[string]lockInfo
	accounts map[string]struct{}
	total    int64

	recentSent gcache.Cache
	recorder   ContentionRecorder
}

// New 创建消息队列，recorder 可以为 nil。
func New(settings configs.Queue, recorder ContentionRecorder) *Queue {
	q := &Queue{
		now:      time.Now,
		locks:    make(map[string]lockInfo),
		accounts: make(map[string]struct{}),
		recorder: recorder,
	}
	q.recentSent = gcache.New(recentSentSize).LRU().Expiration(recentSentTTL).Build()
	q.UpdateSettings(settings)
	return q
}

// Fingerprint 计算消息指纹，同一时间窗口内相同用户的相同内容指纹相同。
func Fingerprint(user, content string, ts time.Time, window float64) string {
	if window <= 0 {
		window = 1
	}
	slot := int64(math.Floor(float64(ts.UnixNano()) / 1e9 / window))
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d", user, content, slot)))
	return hex.EncodeToString(sum[:])
}

func (q *Queue) fingerprint(user, content string, ts time.Time) string {
	return Fingerprint(user, content, ts, q.settings.TimeWindow)
}

func (q *Queue) lockTimeout() time.Duration {
	return time.Duration(q.settings.LockTimeout * float64(time.Second))
}

func (q *Queue) expired(info lockInfo, now time.Time) bool {
	return now.Sub(info.at) > q.lockTimeout()
}

// TryLock 尝试为账户获取弹幕的处理权，成功返回 true。
func (q *Queue) TryLock(user, content, account string, ts time.Time) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.settings.AllowMultipleReply {
		return true
	}
	now := q.now()
	if q.settings.AutoCleanupLocks {
		q.cleanup(now)
	}

	fp := q.fingerprint(user, content, ts)
	if info, ok := q.locks[fp]; ok {
		if !q.expired(info, now) {
			if q.recorder != nil {
				q.recorder.RecordLockContention(1)
			}
			return false
		}
		delete(q.locks, fp)
	}

	// 轮询模式下只有已注册的账户参与
	if q.settings.Mode == configs.QueueRoundRobin && len(q.accounts) > 0 {
		if _, ok := q.accounts[account]; !ok {
			return false
		}
	}

	q.locks[fp] = lockInfo{account: account, at: now}
	q.total++
	return true
}

func (q *Queue) cleanup(now time.Time) {
	for fp, info := range q.locks {
		if q.expired(info, now) {
			delete(q.locks, fp)
		}
	}
	max := q.settings.MaxLockHistory
	if max <= 0 || len(q.locks) <= max {
		return
	}
	type entry struct {
		fp string
		at time.Time
	}
	entries := make([]entry, 0, len(q.locks))
	for fp, info := range q.locks {
		entries = append(entries, entry{fp, info.at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries[:len(entries)-max/2] {
		delete(q.locks, e.fp)
	}
}

// ReleaseLock 释放弹幕的处理权。
func (q *Queue) ReleaseLock(user, content string, ts time.Time) {
	q.lock.Lock()
	defer q.lock.Unlock()
	delete(q.locks, q.fingerprint(user, content, ts))
}

// IsLocked 判断弹幕是否正在被某个账户处理。
func (q *Queue) IsLocked(user, content string, ts time.Time) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	info, ok := q.locks[q.fingerprint(user, content, ts)]
	return ok && !q.expired(info, q.now())
}

func (q *Queue) RegisterAccount(account string) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.accounts[account] = struct{}{}
}

// UnregisterAccount 注销账户并释放它持有的锁。
func (q *Queue) UnregisterAccount(account string) {
	q.lock.Lock()
	defer q.lock.Unlock()
	delete(q.accounts, account)
	for fp, info := range q.locks {
		if info.account == account {
			delete(q.locks, fp)
		}
	}
}

// SetQueueMode 设置队列模式。
func (q *Queue) SetQueueMode(mode string) error {
	if !configs.ValidQueueMode(mode) {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	q.settings.Mode = mode
	return nil
}

func (q *Queue) SetAccountPriority(account string, priority int) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.settings.AccountPriorities[account] = priority
}

// UpdateSettings 整体替换队列配置，非法的模式会回落为轮询。
func (q *Queue) UpdateSettings(settings configs.Queue) {
	q.lock.Lock()
	defer q.lock.Unlock()
	priorities := make(map[string]int, len(settings.AccountPriorities))
	for k, v := range settings.AccountPriorities {
		priorities[k] = v
	}
	settings.AccountPriorities = priorities
	if !configs.ValidQueueMode(settings.Mode) {
		settings.Mode = configs.QueueRoundRobin
	}
	q.settings = settings
}

// RecordSent 记录已发送的消息，用于识别小号之间的回复循环。
func (q *Queue) RecordSent(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	_ = q.recentSent.Set(text, q.now())
}

func normalize(s string) string {
	return strings.NewReplacer(" ", "", "　", "").Replace(strings.TrimSpace(s))
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) && utf8.RuneCountInString(b) >= minContainRunes {
		return true
	}
	return strings.Contains(b, a) && utf8.RuneCountInString(a) >= minContainRunes
}

// IsRecentSent 判断内容是否与最近发送过的消息相同或互相包含。
func (q *Queue) IsRecentSent(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	normalized := normalize(content)
	for _, key := range q.recentSent.Keys(true) {
		sent, ok := key.(string)
		if !ok {
			continue
		}
		sentNormalized := normalize(sent)
		if trimmed == sent || normalized == sentNormalized {
			return true
		}
		if containsEither(normalized, sentNormalized) || containsEither(trimmed, sent) {
			return true
		}
	}
	return false
}

// Stats 是队列的运行状态。
type Stats struct {
	ActiveLocks        int     `json:"active_locks"`
	ActiveAccounts     int     `json:"active_accounts"`
	QueueMode          string  `json:"queue_mode"`
	TimeWindow         float64 `json:"time_window"`
	LockTimeout        float64 `json:"lock_timeout"`
	StrictSingleReply  bool    `json:"strict_single_reply"`
	AllowMultipleReply bool    `json:"allow_multiple_reply"`
	TotalLocksCreated  int64   `json:"total_locks_created"`
}

func (q *Queue) Stats() Stats {
	q.lock.Lock()
	defer q.lock.Unlock()
	now := q.now()
	active := 0
	for _, info := range q.locks {
		if !q.expired(info, now) {
			active++
		}
	}
	return Stats{
		ActiveLocks:        active,
		ActiveAccounts:     len(q.accounts),
		QueueMode:          q.settings.Mode,
		TimeWindow:         q.settings.TimeWindow,
		LockTimeout:        q.settings.LockTimeout,
		StrictSingleReply:  q.settings.StrictSingleReply,
		AllowMultipleReply: q.settings.AllowMultipleReply,
		TotalLocksCreated:  q.total,
	}
}

// Reset 清空所有锁和发送记录，已注册的账户保留。
func (q *Queue) Reset() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.locks = make(map[string]lockInfo)
	q.total = 0
	q.recentSent.Purge()
}
