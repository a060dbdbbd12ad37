// Package history 把收到的弹幕和发送的消息保存到 SQLite。
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
)

// ErrNotOpen 表示数据库尚未打开或已经关闭。
var ErrNotOpen = errors.New("history store is not open")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS danmu (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		type TEXT NOT NULL,
		user TEXT NOT NULL,
		content TEXT NOT NULL,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_danmu_account_ts ON danmu(account, ts)`,
	`CREATE TABLE IF NOT EXISTS sent (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		text TEXT NOT NULL,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sent_account_ts ON sent(account, ts)`,
}

// Danmu 是一条历史弹幕。
type Danmu struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Type      string    `json:"type"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Sent 是一条已发送的消息。
type Sent struct {
	Account   string    `json:"account"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store 订阅机器人事件并写入数据库。
type Store struct {
	path   string
	logger *interfaces.Logger

	lock      sync.RWMutex
	db        *sql.DB
	ed        events.Dispatcher
	onDanmu   *events.EventListener
	onSent    *events.EventListener
	writeCtx  context.Context
	cancelCtx context.CancelFunc
}

// NewStore 创建历史库并挂到实例上，数据库在 Start 时打开。
func NewStore(ctx context.Context) *Store {
	inst := instance.GetInstance(ctx)
	s := &Store{
		path:   inst.Config.History.Path,
		logger: inst.Logger,
	}
	inst.History = s
	return s
}

// Start 打开数据库、建表并订阅事件。
func (s *Store) Start(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite 同一时间只允许一个写入者
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	s.lock.Lock()
	s.db = db
	s.writeCtx, s.cancelCtx = context.WithCancel(context.Background())
	s.lock.Unlock()

	if inst := instance.GetInstance(ctx); inst != nil && inst.EventDispatcher != nil {
		s.ed = inst.EventDispatcher.(events.Dispatcher)
		s.onDanmu = events.NewEventListener(s.handleDanmu)
		s.onSent = events.NewEventListener(s.handleSent)
		s.ed.AddEventListener(bots.DanmuReceived, s.onDanmu)
		s.ed.AddEventListener(bots.MessageSent, s.onSent)
	}
	return nil
}

// Close 取消订阅并关闭数据库。
func (s *Store) Close(ctx context.Context) {
	if s.ed != nil {
		s.ed.RemoveEventListener(bots.DanmuReceived, s.onDanmu)
		s.ed.RemoveEventListener(bots.MessageSent, s.onSent)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.db == nil {
		return
	}
	s.cancelCtx()
	if err := s.db.Close(); err != nil && s.logger != nil {
		s.logger.WithError(err).Error("关闭历史库失败")
	}
	s.db = nil
}

func (s *Store) handleDanmu(event *events.Event) {
	e, ok := event.Object.(*bots.DanmuEvent)
	if !ok || e.Message == nil {
		return
	}
	d := Danmu{
		ID:        e.Message.ID,
		Account:   e.Account,
		Type:      string(e.Message.Type),
		User:      e.Message.User,
		Content:   e.Message.Content,
		Timestamp: e.Message.Timestamp,
	}
	if err := s.InsertDanmu(s.ctx(), d); err != nil && s.logger != nil {
		s.logger.WithAccount(e.Account).WithError(err).Warn("保存弹幕失败")
	}
}

func (s *Store) handleSent(event *events.Event) {
	e, ok := event.Object.(*bots.SentEvent)
	if !ok {
		return
	}
	if err := s.InsertSent(s.ctx(), Sent{Account: e.Account, Text: e.Text, Timestamp: e.Time}); err != nil && s.logger != nil {
		s.logger.WithAccount(e.Account).WithError(err).Warn("保存发送记录失败")
	}
}

func (s *Store) ctx() context.Context {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.writeCtx == nil {
		return context.Background()
	}
	return s.writeCtx
}

// InsertDanmu 写入一条弹幕，相同 ID 的弹幕只保存一次。
func (s *Store) InsertDanmu(ctx context.Context, d Danmu) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return ErrNotOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO danmu (id, account, type, user, content, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Account, d.Type, d.User, d.Content, d.Timestamp.UnixMilli(),
	)
	return err
}

// InsertSent 写入一条发送记录。
func (s *Store) InsertSent(ctx context.Context, m Sent) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return ErrNotOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent (account, text, ts) VALUES (?, ?, ?)`,
		m.Account, m.Text, m.Timestamp.UnixMilli(),
	)
	return err
}

// Recent 返回账户最近的弹幕，按时间倒序；account 为空时返回所有账户的。
func (s *Store) Recent(ctx context.Context, account string, limit int) ([]Danmu, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account, type, user, content, ts FROM danmu
		WHERE (? = '' OR account = ?) ORDER BY ts DESC, rowid DESC LIMIT ?`,
		account, account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Danmu, 0)
	for rows.Next() {
		var (
			d  Danmu
			ts int64
		)
		if err := rows.Scan(&d.ID, &d.Account, &d.Type, &d.User, &d.Content, &ts); err != nil {
			return nil, err
		}
		d.Timestamp = time.UnixMilli(ts)
		res = append(res, d)
	}
	return res, rows.Err()
}

// RecentSent 返回账户最近发送的消息，按时间倒序。
func (s *Store) RecentSent(ctx context.Context, account string, limit int) ([]Sent, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, text, ts FROM sent
		WHERE (? = '' OR account = ?) ORDER BY ts DESC, id DESC LIMIT ?`,
		account, account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]Sent, 0)
	for rows.Next() {
		var (
			m  Sent
			ts int64
		)
		if err := rows.Scan(&m.Account, &m.Text, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts)
		res = append(res, m)
	}
	return res, rows.Err()
}

// Clear 删除账户的所有历史记录。
func (s *Store) Clear(ctx context.Context, account string) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.db == nil {
		return ErrNotOpen
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM danmu WHERE account = ?`, account); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent WHERE account = ?`, account)
	return err
}
