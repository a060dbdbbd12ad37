// Package warmup 在直播间冷场时自动发送暖场消息。
package warmup

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/pkg/utils"
	"github.com/yuhaohwang/danmubot/src/reply"
)

const (
	legacyIdle     = 120 * time.Second
	legacyCooldown = 60 * time.Second
)

// State 是暖场计时器的状态，重建处理器时用来延续计时。
type State struct {
	RuleLast           map[int]time.Time `json:"rule_last"`
	LegacyLast         time.Time         `json:"legacy_last"`
	FirstDanmuReceived bool              `json:"first_danmu_received"`
	EnabledSince       time.Time         `json:"enabled_since"`
}

// Handler 是单个账户的暖场处理器。
type Handler struct {
	lock       sync.Mutex
	enabled    bool
	rules      []configs.WarmupRule
	legacyPool string

	lastDanmu          time.Time
	ruleLast           map[int]time.Time
	legacyLast         time.Time
	firstDanmuReceived bool
	enabledSince       time.Time

	logger *logrus.Entry
	now    func() time.Time
}

// NewHandler 创建暖场处理器，初始为关闭状态。
func NewHandler(rules []configs.WarmupRule, legacyPool string, logger *logrus.Entry) *Handler {
	return &Handler{
		rules:      rules,
		legacyPool: legacyPool,
		ruleLast:   make(map[int]time.Time),
		logger:     logger,
		now:        time.Now,
	}
}

func (h *Handler) log() *logrus.Entry {
	if h.logger != nil {
		return h.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (h *Handler) resetTimers() {
	h.ruleLast = make(map[int]time.Time)
	h.legacyLast = time.Time{}
	h.firstDanmuReceived = false
}

// SetEnabled 开关暖场，状态变化时重置计时器。
func (h *Handler) SetEnabled(enabled bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if enabled == h.enabled {
		return
	}
	h.enabled = enabled
	h.resetTimers()
	if enabled {
		h.enabledSince = h.now()
		h.log().Info("暖场功能已启用，计时器已初始化")
	} else {
		h.enabledSince = time.Time{}
		h.log().Info("暖场功能已禁用，计时器已重置")
	}
}

func (h *Handler) Enabled() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.enabled
}

// UpdateRules 替换暖场规则，计时器保留。
func (h *Handler) UpdateRules(rules []configs.WarmupRule, legacyPool string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.rules = rules
	h.legacyPool = legacyPool
}

// NotifyDanmu 记录最近一次收到弹幕的时间。
func (h *Handler) NotifyDanmu(t time.Time) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.lastDanmu = t
}

// Check 判断是否需要暖场，返回需要发送的消息。
func (h *Handler) Check(now time.Time, hasPending bool) []string {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !h.enabled || hasPending || h.lastDanmu.IsZero() {
		return nil
	}
	h.firstDanmuReceived = true

	idle := now.Sub(h.lastDanmu)
	if len(h.rules) == 0 {
		return h.checkLegacy(now, idle)
	}

	eligible := make([]int, 0, len(h.rules))
	for i, r := range h.rules {
		if !r.Active {
			continue
		}
		cooldown := time.Duration(r.Cooldown) * time.Second
		last, fired := h.ruleLast[i]
		if fired && now.Sub(last) < cooldown {
			continue
		}
		if r.TriggerType != configs.TriggerTimed {
			if idle < time.Duration(r.MinNoDanmuTime)*time.Second {
				continue
			}
			if r.MaxNoDanmuTime > 0 && idle > time.Duration(r.MaxNoDanmuTime)*time.Second {
				continue
			}
		}
		eligible = append(eligible, i)
	}
	if len(eligible) == 0 {
		return nil
	}

	i := utils.RandomPick(eligible)
	r := h.rules[i]
	msgs := reply.Generate(r.Messages, r.Mode, "", "", "")
	if len(msgs) == 0 {
		return nil
	}
	h.ruleLast[i] = now

	name := r.Name
	if name == "" {
		name = fmt.Sprintf("规则%d", i+1)
	}
	if r.TriggerType == configs.TriggerTimed {
		h.log().Infof("【暖场触发-定时】%s (间隔%d秒，生成 %d 条消息)", name, r.Cooldown, len(msgs))
	} else {
		h.log().Infof("【暖场触发】%s (无弹幕%d秒，生成 %d 条消息)", name, int(idle.Seconds()), len(msgs))
	}
	return msgs
}

func (h *Handler) checkLegacy(now time.Time, idle time.Duration) []string {
	pool := configs.SplitPool(h.legacyPool)
	if len(pool) == 0 || idle < legacyIdle {
		return nil
	}
	if !h.legacyLast.IsZero() && now.Sub(h.legacyLast) < legacyCooldown {
		return nil
	}
	h.legacyLast = now
	h.log().Info("【暖场触发】任务已加入队列")
	return []string{utils.RandomPick(pool)}
}

// State 返回计时器状态，未启用时返回 nil。
func (h *Handler) State() *State {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.enabled {
		return nil
	}
	s := &State{
		RuleLast:           make(map[int]time.Time, len(h.ruleLast)),
		LegacyLast:         h.legacyLast,
		FirstDanmuReceived: h.firstDanmuReceived,
		EnabledSince:       h.enabledSince,
	}
	for k, v := range h.ruleLast {
		s.RuleLast[k] = v
	}
	return s
}

// Restore 恢复计时器状态，未启用时忽略。
func (h *Handler) Restore(s *State) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.enabled || s == nil {
		return
	}
	h.ruleLast = make(map[int]time.Time, len(s.RuleLast))
	for k, v := range s.RuleLast {
		h.ruleLast[k] = v
	}
	h.legacyLast = s.LegacyLast
	h.firstDanmuReceived = s.FirstDanmuReceived
	h.enabledSince = s.EnabledSince
}
