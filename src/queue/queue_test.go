package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yuhaohwang/danmubot/src/configs"
)

type counter struct{ n int }

func (c *counter) RecordLockContention(count int) { c.n += count }

func testSettings() configs.Queue {
	return configs.Queue{
		Mode:             configs.QueueRoundRobin,
		TimeWindow:       5,
		LockTimeout:      30,
		AutoCleanupLocks: true,
		MaxLockHistory:   1000,
	}
}

func newTestQueue(settings configs.Queue) (*Queue, *counter, *time.Time) {
	c := new(counter)
	q := New(settings, c)
	now := time.Unix(1700000000, 0)
	q.now = func() time.Time { return now }
	return q, c, &now
}

func TestFingerprint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := Fingerprint("u", "c", ts, 5)
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("u", "c", ts.Add(4*time.Second), 5))
	assert.NotEqual(t, a, Fingerprint("u", "c", ts.Add(5*time.Second), 5))
	assert.NotEqual(t, a, Fingerprint("u2", "c", ts, 5))
}

func TestQueue_TryLock(t *testing.T) {
	q, c, now := newTestQueue(testSettings())
	ts := *now

	assert.True(t, q.TryLock("u", "多少钱", "a", ts))
	assert.False(t, q.TryLock("u", "多少钱", "b", ts))
	assert.Equal(t, 1, c.n)
	assert.True(t, q.IsLocked("u", "多少钱", ts))

	q.ReleaseLock("u", "多少钱", ts)
	assert.False(t, q.IsLocked("u", "多少钱", ts))
	assert.True(t, q.TryLock("u", "多少钱", "b", ts))

	*now = now.Add(31 * time.Second)
	assert.True(t, q.TryLock("u", "多少钱", "a", ts))
	assert.EqualValues(t, 3, q.Stats().TotalLocksCreated)
}

func TestQueue_RoundRobinRegistered(t *testing.T) {
	q, _, now := newTestQueue(testSettings())
	q.RegisterAccount("a")
	assert.False(t, q.TryLock("u", "c", "b", *now))
	assert.True(t, q.TryLock("u", "c", "a", *now))

	assert.NoError(t, q.SetQueueMode(configs.QueueFirstAvailable))
	assert.True(t, q.TryLock("u", "c2", "b", *now))
	assert.ErrorIs(t, q.SetQueueMode("bad"), ErrUnknownMode)
}

func TestQueue_AllowMultipleReply(t *testing.T) {
	s := testSettings()
	s.AllowMultipleReply = true
	q, _, now := newTestQueue(s)
	assert.True(t, q.TryLock("u", "c", "a", *now))
	assert.True(t, q.TryLock("u", "c", "b", *now))
	assert.Equal(t, 0, q.Stats().ActiveLocks)
}

func TestQueue_UnregisterReleasesLocks(t *testing.T) {
	q, _, now := newTestQueue(testSettings())
	q.RegisterAccount("a")
	q.RegisterAccount("b")
	assert.True(t, q.TryLock("u", "c", "a", *now))
	q.UnregisterAccount("a")
	assert.False(t, q.IsLocked("u", "c", *now))
	assert.Equal(t, 1, q.Stats().ActiveAccounts)
}

func TestQueue_MaxLockHistory(t *testing.T) {
	s := testSettings()
	s.MaxLockHistory = 4
	q, _, now := newTestQueue(s)
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Millisecond)
		assert.True(t, q.TryLock("u", string(rune('a'+i)), "a", *now))
	}
	*now = now.Add(time.Millisecond)
	q.TryLock("u", "z", "a", *now)
	// 超过上限后清理到一半
	assert.Equal(t, 3, q.Stats().ActiveLocks)
}

func TestQueue_IsRecentSent(t *testing.T) {
	q, _, _ := newTestQueue(testSettings())
	q.RecordSent("欢迎来到直播间")

	cases := []struct {
		content string
		want    bool
	}{
		{"欢迎来到直播间", true},
		{" 欢迎来到直播间 ", true},
		{"欢迎 来到　直播间", true},
		{"@张三 欢迎来到直播间", true},
		{"来到直播间", true},
		{"直播间", false},
		{"你好", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, q.IsRecentSent(c.content), c.content)
	}

	q.Reset()
	assert.False(t, q.IsRecentSent("欢迎来到直播间"))
}

func TestQueue_UpdateSettings(t *testing.T) {
	q, _, _ := newTestQueue(testSettings())
	s := testSettings()
	s.Mode = "bad"
	s.TimeWindow = 10
	q.UpdateSettings(s)
	q.SetAccountPriority("a", 3)
	st := q.Stats()
	assert.Equal(t, configs.QueueRoundRobin, st.QueueMode)
	assert.Equal(t, 10.0, st.TimeWindow)
}
