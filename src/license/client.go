package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/yuhaohwang/requests"
	"golang.org/x/sync/singleflight"

	"github.com/yuhaohwang/danmubot/src/configs"
)

const (
	featureCacheTTL = 60 * time.Second
	defaultTimeout  = 10 * time.Second
	userAgent       = "DanmuBot-go"
)

var (
	// ErrServerUnavailable 表示授权服务器无法连接或返回了错误。
	ErrServerUnavailable = errors.New("授权服务器不可用")
	// ErrDeviceBanned 表示设备已被封禁。
	ErrDeviceBanned = errors.New("设备已被封禁")
)

// RemoteFeatures 是服务器为本机开通的功能。
type RemoteFeatures struct {
	SpecificReply bool `json:"specific_reply"`
	AdvancedReply bool `json:"advanced_reply"`
	Warmup        bool `json:"warmup"`
	Command       bool `json:"command"`
	AIReply       bool `json:"ai_reply"`
}

// Has 判断是否开通了某个功能。
func (f RemoteFeatures) Has(feature string) bool {
	switch feature {
	case FeatureSpecificReply:
		return f.SpecificReply
	case FeatureAdvancedReply:
		return f.AdvancedReply
	case FeatureWarmup:
		return f.Warmup
	case FeatureCommand:
		return f.Command
	case FeatureAIReply:
		return f.AIReply
	}
	return false
}

// List 返回已开通的功能名。
func (f RemoteFeatures) List() []string {
	res := make([]string, 0, len(AllFeatures))
	for _, feature := range AllFeatures {
		if f.Has(feature) {
			res = append(res, feature)
		}
	}
	return res
}

// Merge 合并两组功能，任一方开通即视为开通。
func (f RemoteFeatures) Merge(o RemoteFeatures) RemoteFeatures {
	return RemoteFeatures{
		SpecificReply: f.SpecificReply || o.SpecificReply,
		AdvancedReply: f.AdvancedReply || o.AdvancedReply,
		Warmup:        f.Warmup || o.Warmup,
		Command:       f.Command || o.Command,
		AIReply:       f.AIReply || o.AIReply,
	}
}

// FeaturesFromList 把功能名列表转换为 RemoteFeatures，未知的名字被忽略。
func FeaturesFromList(list []string) RemoteFeatures {
	var f RemoteFeatures
	for _, name := range list {
		switch name {
		case FeatureSpecificReply:
			f.SpecificReply = true
		case FeatureAdvancedReply:
			f.AdvancedReply = true
		case FeatureWarmup:
			f.Warmup = true
		case FeatureCommand:
			f.Command = true
		case FeatureAIReply:
			f.AIReply = true
		}
	}
	return f
}

// BanStatus 是设备封禁状态。
type BanStatus struct {
	Banned bool   `json:"banned"`
	Reason string `json:"ban_reason"`
}

// CDKResult 是服务器校验 CDK 的结果。
type CDKResult struct {
	Valid      bool     `json:"valid"`
	Message    string   `json:"message"`
	Features   []string `json:"features"`
	ExpireTime int64    `json:"expire_time"`
}

// Client 是授权服务器客户端。
type Client struct {
	baseUrl string
	device  *DeviceInfo
	session *requests.Session
	logger  *logrus.Entry

	features gcache.Cache
	group    singleflight.Group
	now      func() time.Time

	lock       sync.Mutex
	registered bool
}

// NewClient 创建授权服务器客户端。
func NewClient(cfg configs.Server, device *DeviceInfo, logger *logrus.Entry) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseUrl:  strings.TrimRight(cfg.BaseUrl, "/"),
		device:   device,
		session:  requests.NewSession(&http.Client{Timeout: timeout}),
		logger:   logger,
		features: gcache.New(1).LRU().Expiration(featureCacheTTL).Build(),
		now:      time.Now,
	}
}

// Device 返回本机设备信息。
func (c *Client) Device() *DeviceInfo {
	return c.device
}

func (c *Client) url(path string) string {
	return c.baseUrl + path
}

// do 通过会话发起请求，ctx 结束或超过配置的超时都会中断请求。
func (c *Client) do(ctx context.Context, method, path string, opts ...requests.RequestOption) ([]byte, int, error) {
	opts = append([]requests.RequestOption{requests.UserAgent(userAgent)}, opts...)
	req, err := requests.NewRequestWithContext(ctx, method, c.url(path), opts...)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) ([]byte, int, error) {
	return c.do(ctx, http.MethodGet, path, requests.Queries(query))
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	return c.do(ctx, http.MethodPost, path, requests.JSON(payload))
}

func statusError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error").String()
	}
	return fmt.Errorf("%w: status %d %s", ErrServerUnavailable, status, msg)
}

// Health 检查服务器是否在线。
func (c *Client) Health(ctx context.Context) error {
	body, status, err := c.get(ctx, "/api/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	return nil
}

// Register 上报设备信息。
func (c *Client) Register(ctx context.Context) error {
	body, status, err := c.postJSON(ctx, "/api/register", c.device)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	c.lock.Lock()
	c.registered = true
	c.lock.Unlock()
	return nil
}

// Registered 判断本次运行是否已注册成功。
func (c *Client) Registered() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.registered
}

// SubmitKeywords 上报关键词配置。
func (c *Client) SubmitKeywords(ctx context.Context, keywords Keywords) error {
	payload := map[string]interface{}{
		"device_info": c.device,
		"keywords":    keywords,
		"timestamp":   c.now().Unix(),
	}
	body, status, err := c.postJSON(ctx, "/api/submit_keywords", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	return nil
}

// CheckBan 查询设备是否被封禁，服务器返回 403 也视为封禁。
func (c *Client) CheckBan(ctx context.Context) (BanStatus, error) {
	body, status, err := c.get(ctx, "/api/check_ban", map[string]string{"machine_code": c.device.MachineCode})
	if err != nil {
		return BanStatus{}, err
	}
	switch status {
	case http.StatusOK:
		res := gjson.ParseBytes(body)
		return BanStatus{Banned: res.Get("banned").Bool(), Reason: res.Get("ban_reason").String()}, nil
	case http.StatusForbidden:
		return BanStatus{Banned: true, Reason: gjson.GetBytes(body, "ban_reason").String()}, nil
	default:
		return BanStatus{}, statusError(status, body)
	}
}

// CheckFeatures 查询本机开通的功能，结果缓存 60 秒；失败时返回全部关闭。
func (c *Client) CheckFeatures(ctx context.Context) RemoteFeatures {
	if v, err := c.features.Get(c.device.MachineCode); err == nil {
		return v.(RemoteFeatures)
	}
	v, err, _ := c.group.Do(c.device.MachineCode, func() (interface{}, error) {
		body, status, err := c.get(ctx, "/api/check_features", map[string]string{"machine_code": c.device.MachineCode})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, statusError(status, body)
		}
		var f RemoteFeatures
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, err
		}
		c.features.Set(c.device.MachineCode, f)
		return f, nil
	})
	if err != nil {
		c.logger.WithError(err).Warn("查询功能权限失败")
		return RemoteFeatures{}
	}
	return v.(RemoteFeatures)
}

// InvalidateFeatures 清除功能缓存，下次查询会重新请求服务器。
func (c *Client) InvalidateFeatures() {
	c.features.Purge()
}

// VerifyCDK 由服务器校验 CDK。
func (c *Client) VerifyCDK(ctx context.Context, cdk string) (CDKResult, error) {
	body, status, err := c.postJSON(ctx, "/api/verify_cdk", map[string]string{
		"machine_code": c.device.MachineCode,
		"cdk":          cdk,
	})
	if err != nil {
		return CDKResult{}, err
	}
	var res CDKResult
	if err := json.Unmarshal(body, &res); err != nil {
		if status != http.StatusOK {
			return CDKResult{}, statusError(status, body)
		}
		return CDKResult{}, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	if res.Valid {
		c.InvalidateFeatures()
	}
	return res, nil
}

// ReportActivation 上报 CDK 激活记录。
func (c *Client) ReportActivation(ctx context.Context, cdk string, info *CDKInfo) error {
	body, status, err := c.postJSON(ctx, "/api/report_cdk_activation", map[string]interface{}{
		"machine_code":  c.device.MachineCode,
		"cdk":           cdk,
		"features":      info.Features,
		"expire_time":   info.ExpireTime,
		"activate_time": c.now().Unix(),
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	return nil
}

// ReportAIUsage 上报一次 AI 调用的用量。
func (c *Client) ReportAIUsage(ctx context.Context, requestLength, responseLength int, cdk string) error {
	payload := map[string]interface{}{
		"machine_code":    c.device.MachineCode,
		"request_length":  requestLength,
		"response_length": responseLength,
	}
	if cdk != "" {
		payload["cdk"] = cdk
	}
	body, status, err := c.postJSON(ctx, "/api/report_ai_token_usage", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body)
	}
	return nil
}

// VerifyAndRegister 在启动时依次检查服务器、封禁状态，注册设备并上报关键词。
// 关键词上报失败只记录警告。
func (c *Client) VerifyAndRegister(ctx context.Context, cfg *configs.Config) error {
	if err := c.Health(ctx); err != nil {
		return err
	}
	ban, err := c.CheckBan(ctx)
	if err != nil {
		return err
	}
	if ban.Banned {
		return fmt.Errorf("%w: %s", ErrDeviceBanned, ban.Reason)
	}
	if err := c.Register(ctx); err != nil {
		return err
	}
	if err := c.SubmitKeywords(ctx, CollectKeywords(cfg)); err != nil {
		c.logger.WithError(err).Warn("上报关键词失败")
	}
	return nil
}
