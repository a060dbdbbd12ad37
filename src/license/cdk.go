package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// 可授权的功能。
const (
	FeatureSpecificReply = "specific_reply"
	FeatureAdvancedReply = "advanced_reply"
	FeatureWarmup        = "warmup"
	FeatureCommand       = "command"
	FeatureAIReply       = "ai_reply"
)

// AllFeatures 是全部可授权功能。
var AllFeatures = []string{FeatureSpecificReply, FeatureAdvancedReply, FeatureWarmup, FeatureCommand, FeatureAIReply}

var (
	ErrInvalidCDK      = errors.New("CDK 无效或已被篡改")
	ErrCDKExpired      = errors.New("CDK 已过期")
	ErrMachineMismatch = errors.New("CDK 已绑定到其他设备")
	ErrUnknownFeature  = errors.New("未知的功能")
)

// CDKInfo 是 CDK 中携带的数据，字段按字母序排列以保证签名一致。
type CDKInfo struct {
	CreateTime  int64    `json:"create_time"`
	ExpireTime  int64    `json:"expire_time"` // 0 表示永久
	Features    []string `json:"features"`
	MachineCode *string  `json:"machine_code"` // nil 表示不绑定设备
}

// Expired 判断 CDK 在给定时间是否已过期。
func (i *CDKInfo) Expired(now time.Time) bool {
	return i.ExpireTime > 0 && now.Unix() > i.ExpireTime
}

func sign(secret, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func validFeature(f string) bool {
	for _, v := range AllFeatures {
		if v == f {
			return true
		}
	}
	return false
}

// GenerateCDK 生成 CDK。features 为空表示全部功能，expireDays<=0 表示永久，
// machineCode 为空表示不绑定设备。
func GenerateCDK(secret string, features []string, expireDays int, machineCode string, now time.Time) (string, error) {
	if len(features) == 0 {
		features = AllFeatures
	}
	sorted := make([]string, len(features))
	copy(sorted, features)
	sort.Strings(sorted)
	for _, f := range sorted {
		if !validFeature(f) {
			return "", fmt.Errorf("%w: %s", ErrUnknownFeature, f)
		}
	}

	info := CDKInfo{CreateTime: now.Unix(), Features: sorted}
	if expireDays > 0 {
		info.ExpireTime = now.Add(time.Duration(expireDays) * 24 * time.Hour).Unix()
	}
	if machineCode != "" {
		info.MachineCode = &machineCode
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data) + "-" + sign([]byte(secret), data), nil
}

func decode(cdk string) ([]byte, string, error) {
	cdk = strings.TrimSpace(cdk)
	i := strings.LastIndex(cdk, "-")
	if i <= 0 || i == len(cdk)-1 {
		return nil, "", ErrInvalidCDK
	}
	data, err := base64.StdEncoding.DecodeString(cdk[:i])
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidCDK, err)
	}
	return data, cdk[i+1:], nil
}

// ParseCDK 解析 CDK 数据，不校验签名，仅用于展示。
func ParseCDK(cdk string) (*CDKInfo, error) {
	data, _, err := decode(cdk)
	if err != nil {
		return nil, err
	}
	info := new(CDKInfo)
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCDK, err)
	}
	return info, nil
}

// VerifyCDK 离线校验 CDK 的签名、绑定的机器码和有效期。
func VerifyCDK(secret, cdk, machineCode string, now time.Time) (*CDKInfo, error) {
	data, signature, err := decode(cdk)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(signature), []byte(sign([]byte(secret), data))) {
		return nil, ErrInvalidCDK
	}
	info := new(CDKInfo)
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCDK, err)
	}
	if info.MachineCode != nil && *info.MachineCode != "" && *info.MachineCode != machineCode {
		return nil, ErrMachineMismatch
	}
	if info.Expired(now) {
		return nil, fmt.Errorf("%w: 有效期至 %s", ErrCDKExpired, time.Unix(info.ExpireTime, 0).Format("2006-01-02 15:04:05"))
	}
	return info, nil
}

// FormatExpireTime 格式化到期时间。
func FormatExpireTime(expire int64, now time.Time) string {
	if expire == 0 {
		return "永久有效"
	}
	t := time.Unix(expire, 0)
	date := t.Format("2006-01-02 15:04:05")
	d := t.Sub(now)
	switch {
	case d < 0:
		return fmt.Sprintf("已过期 (%s)", date)
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d天后到期 (%s)", int(d.Hours()/24), date)
	case d >= time.Hour:
		return fmt.Sprintf("%d小时后到期 (%s)", int(d.Hours()), date)
	case d >= time.Minute:
		return fmt.Sprintf("%d分钟后到期 (%s)", int(d.Minutes()), date)
	default:
		return fmt.Sprintf("即将到期 (%s)", date)
	}
}
