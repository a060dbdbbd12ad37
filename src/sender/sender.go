// Package sender 按节奏把待发送的消息逐条交给页面桥接。
package sender

import (
	"container/list"
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/interfaces"
)

// Recorder 记录发送队列长度。
type Recorder interface {
	RecordQueueSize(account string, size int)
}

// SentRecorder 记录已发送的原始文本，用于识别循环回复。
type SentRecorder interface {
	RecordSent(text string)
}

// Sender 是单个账户的消息发送器。
type Sender struct {
	lock        sync.Mutex
	account     string
	queue       *list.List
	interval    time.Duration
	jitter      time.Duration
	randomSpace bool
	lastSend    time.Time
	nextWait    time.Duration
	rnd         *rand.Rand

	deliverer interfaces.Deliverer
	recorder  Recorder
	sent      SentRecorder
}

// New 创建发送器，recorder 和 sent 可以为 nil。
func New(account string, cfg configs.Sender, deliverer interfaces.Deliverer, recorder Recorder, sent SentRecorder) *Sender {
	s := &Sender{
		account:   account,
		queue:     list.New(),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		deliverer: deliverer,
		recorder:  recorder,
		sent:      sent,
	}
	s.SetInterval(cfg.ReplyInterval, cfg.RandomJitter)
	s.SetRandomSpace(cfg.RandomSpaceInsert)
	return s
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// SetInterval 设置基础间隔和随机抖动（秒）。
func (s *Sender) SetInterval(interval, jitter float64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.interval = seconds(interval)
	if jitter < 0 {
		jitter = 0
	}
	s.jitter = seconds(jitter)
}

func (s *Sender) SetRandomSpace(enabled bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.randomSpace = enabled
}

// Add 把消息追加到队尾，空消息会被忽略。
func (s *Sender) Add(msgs ...string) {
	s.lock.Lock()
	for _, m := range msgs {
		if m != "" {
			s.queue.PushBack(m)
		}
	}
	size := s.queue.Len()
	s.lock.Unlock()

	if s.recorder != nil {
		s.recorder.RecordQueueSize(s.account, size)
	}
}

// Process 在到达发送时间时发送队首消息，返回发送的原始文本。
// 发送失败的消息会被丢弃。
func (s *Sender) Process(ctx context.Context, now time.Time) (string, bool, error) {
	s.lock.Lock()
	front := s.queue.Front()
	if front == nil || now.Sub(s.lastSend) < s.nextWait {
		s.lock.Unlock()
		return "", false, nil
	}
	original := s.queue.Remove(front).(string)
	s.lastSend = now
	s.nextWait = s.interval
	if s.jitter > 0 {
		s.nextWait += time.Duration(s.rnd.Int63n(int64(s.jitter)))
	}
	text := original
	// @回复本身带有随机的用户名，不需要插入空格
	if s.randomSpace && !strings.HasPrefix(strings.TrimSpace(original), "@") {
		text = InsertRandomSpaces(original, s.rnd)
	}
	s.lock.Unlock()

	if err := s.deliverer.Deliver(ctx, s.account, text); err != nil {
		return original, false, err
	}
	if s.sent != nil {
		s.sent.RecordSent(original)
	}
	return original, true, nil
}

// NextWait 返回距离下一次可以发送的等待时长。
func (s *Sender) NextWait() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.nextWait
}

// Clear 清空队列，返回被清除的条数。
func (s *Sender) Clear() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := s.queue.Len()
	s.queue.Init()
	return n
}

// Pending 返回队列中待发送的消息。
func (s *Sender) Pending() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]string, 0, s.queue.Len())
	for e := s.queue.Front(); e != nil; e = e.Next() {
		res = append(res, e.Value.(string))
	}
	return res
}

func (s *Sender) HasPending() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.queue.Len() > 0
}
