package danmu

import (
	"errors"
	"math"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/tidwall/gjson"
)

// Type 是页面桥接推送过来的消息类型。
type Type string

const (
	TypeDanmu       Type = "danmu"
	TypeGift        Type = "gift"
	TypeViewerCount Type = "viewer_count"
	TypeOther       Type = "other"
	TypePing        Type = "ping"
)

// ErrInvalidMessage 表示消息不是合法的 JSON 对象。
var ErrInvalidMessage = errors.New("invalid danmu message")

// Message 是一条直播间消息。
type Message struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	User        string    `json:"user"`
	Content     string    `json:"content"`
	GiftName    string    `json:"gift_name,omitempty"`
	GiftCount   int64     `json:"gift_count,omitempty"`
	ViewerCount int64     `json:"viewer_count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsDanmu 判断是否为普通弹幕。
func (m *Message) IsDanmu() bool {
	return m.Type == TypeDanmu
}

// ParseMessage 解析页面桥接发来的 JSON 消息。
func ParseMessage(data []byte) (*Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidMessage
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, ErrInvalidMessage
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ID:          id.String(),
		Type:        Type(res.Get("type").String()),
		User:        res.Get("user").String(),
		Content:     res.Get("content").String(),
		GiftName:    res.Get("gift_name").String(),
		GiftCount:   res.Get("gift_count").Int(),
		ViewerCount: res.Get("viewer_count").Int(),
		Timestamp:   time.Now(),
	}
	if msg.Type == "" {
		msg.Type = TypeDanmu
	}
	if ts := res.Get("ts"); ts.Exists() && ts.Float() > 0 {
		sec, frac := math.Modf(ts.Float())
		msg.Timestamp = time.Unix(int64(sec), int64(frac*1e9))
	}
	return msg, nil
}
