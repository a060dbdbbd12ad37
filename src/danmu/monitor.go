// Package danmu 解析直播间消息，并过滤掉小号自己发出的弹幕。
package danmu

import (
	"strings"
	"sync"
)

// Recorder 记录通过过滤的弹幕。
type Recorder interface {
	RecordDanmu(user, content string)
}

// Monitor 是单个账户的弹幕监控。
type Monitor struct {
	lock           sync.RWMutex
	myNickname     string
	otherNicknames []string
	recorder       Recorder
}

// NewMonitor 创建弹幕监控，recorder 可以为 nil。
func NewMonitor(myNickname string, otherNicknames []string, recorder Recorder) *Monitor {
	m := &Monitor{recorder: recorder}
	m.SetMyNickname(myNickname)
	m.SetOtherNicknames(otherNicknames)
	return m
}

func (m *Monitor) SetMyNickname(nickname string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.myNickname = nickname
}

// SetOtherNicknames 设置其他小号的昵称，自己的昵称会被排除。
func (m *Monitor) SetOtherNicknames(nicknames []string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.otherNicknames = make([]string, 0, len(nicknames))
	for _, n := range nicknames {
		if strings.TrimSpace(n) == "" || n == m.myNickname {
			continue
		}
		m.otherNicknames = append(m.otherNicknames, n)
	}
}

// IsSelf 判断用户是否为本账户或其他小号。
func (m *Monitor) IsSelf(user string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	trimmed := strings.TrimSpace(user)
	if m.myNickname != "" && (user == m.myNickname || trimmed == strings.TrimSpace(m.myNickname)) {
		return true
	}
	for _, other := range m.otherNicknames {
		o := strings.TrimSpace(other)
		switch {
		case user == other, trimmed == o:
			return true
		case strings.HasPrefix(trimmed, o), strings.HasPrefix(o, trimmed):
			return true
		case strings.Contains(trimmed, o), strings.Contains(o, trimmed):
			return true
		}
	}
	return false
}

// Process 返回消息是否需要继续处理。非弹幕消息总是放行。
func (m *Monitor) Process(msg *Message) bool {
	if msg == nil {
		return false
	}
	if !msg.IsDanmu() {
		return true
	}
	if strings.TrimSpace(msg.User) == "" || strings.TrimSpace(msg.Content) == "" {
		return false
	}
	if m.IsSelf(msg.User) {
		return false
	}
	if m.recorder != nil {
		m.recorder.RecordDanmu(msg.User, msg.Content)
	}
	return true
}
