package danmu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"user":"张三","content":"多少钱","ts":1700000000.5}`))
	require.NoError(t, err)
	assert.Equal(t, TypeDanmu, msg.Type)
	assert.Equal(t, "张三", msg.User)
	assert.Equal(t, "多少钱", msg.Content)
	assert.Equal(t, time.Unix(1700000000, 500000000), msg.Timestamp)
	assert.NotEmpty(t, msg.ID)

	msg, err = ParseMessage([]byte(`{"type":"gift","user":"李四","gift_name":"小心心","gift_count":3}`))
	require.NoError(t, err)
	assert.Equal(t, TypeGift, msg.Type)
	assert.Equal(t, int64(3), msg.GiftCount)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)

	_, err = ParseMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = ParseMessage([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

type recorder struct{ users []string }

func (r *recorder) RecordDanmu(user, _ string) { r.users = append(r.users, user) }

func TestMonitor_Process(t *testing.T) {
	rec := new(recorder)
	m := NewMonitor("小号一", []string{"小号一", "助手", " "}, rec)

	cases := []struct {
		name string
		msg  *Message
		want bool
	}{
		{"normal", &Message{Type: TypeDanmu, User: "观众", Content: "你好"}, true},
		{"self", &Message{Type: TypeDanmu, User: "小号一", Content: "你好"}, false},
		{"self trimmed", &Message{Type: TypeDanmu, User: " 小号一 ", Content: "你好"}, false},
		{"other exact", &Message{Type: TypeDanmu, User: "助手", Content: "你好"}, false},
		{"other prefix", &Message{Type: TypeDanmu, User: "助手2号", Content: "你好"}, false},
		{"other substring", &Message{Type: TypeDanmu, User: "我是助手呀", Content: "你好"}, false},
		{"empty content", &Message{Type: TypeDanmu, User: "观众", Content: " "}, false},
		{"empty user", &Message{Type: TypeDanmu, User: "", Content: "你好"}, false},
		{"gift", &Message{Type: TypeGift, User: "小号一"}, true},
		{"nil", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, m.Process(c.msg))
		})
	}
	assert.Equal(t, []string{"观众"}, rec.users)
}
