// Package metrics 以 Prometheus 格式导出运行统计。
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
)

const namespace = "danmubot"

var (
	danmuTotal = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "danmu", "total"),
		"received danmu",
		nil, nil,
	)
	repliesTotal = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bot", "replies_total"),
		"replies per account",
		[]string{"account"}, nil,
	)
	botRunning = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bot", "running"),
		"bot running state",
		[]string{"account", "nickname"}, nil,
	)
	senderPending = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sender", "pending"),
		"messages waiting to be sent",
		[]string{"account"}, nil,
	)
	queueActiveLocks = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "queue", "active_locks"),
		"active danmu locks",
		nil, nil,
	)
	lockContentionTotal = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "queue", "lock_contention_total"),
		"lock contentions between accounts",
		nil, nil,
	)
)

// collector 结构表示 Prometheus 指标收集器
type collector struct {
	inst *instance.Instance
}

// NewCollector 创建一个新的收集器实例
func NewCollector(ctx context.Context) interfaces.Module {
	return &collector{
		inst: instance.GetInstance(ctx),
	}
}

// bool2float64 将布尔值转换为浮点数（0 或 1）
func bool2float64(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Collect 收集 Prometheus 指标
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if stats := c.inst.Statistics; stats != nil {
		ch <- prometheus.MustNewConstMetric(danmuTotal, prometheus.CounterValue, float64(stats.DanmuTotal()))
		for account, count := range stats.ReplyStats().ReplyCounts {
			ch <- prometheus.MustNewConstMetric(repliesTotal, prometheus.CounterValue, float64(count), account)
		}
		ch <- prometheus.MustNewConstMetric(lockContentionTotal, prometheus.CounterValue,
			float64(stats.PerformanceStats().LockContentionTotal))
	}
	if q := c.inst.Queue; q != nil {
		ch <- prometheus.MustNewConstMetric(queueActiveLocks, prometheus.GaugeValue, float64(q.Stats().ActiveLocks))
	}
	if m, ok := c.inst.BotManager.(bots.Manager); ok {
		for _, b := range m.Bots() {
			status := b.Status()
			ch <- prometheus.MustNewConstMetric(botRunning, prometheus.GaugeValue,
				bool2float64(b.Running()), status.Account, status.Nickname)
			ch <- prometheus.MustNewConstMetric(senderPending, prometheus.GaugeValue,
				float64(status.Pending), status.Account)
		}
	}
}

// Describe 描述 Prometheus 指标
func (*collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- danmuTotal
	ch <- repliesTotal
	ch <- botRunning
	ch <- senderPending
	ch <- queueActiveLocks
	ch <- lockContentionTotal
}

// Start 启动收集器
func (c *collector) Start(_ context.Context) error {
	return prometheus.Register(c)
}

// Close 注销收集器
func (c *collector) Close(_ context.Context) {
	prometheus.Unregister(c)
}
