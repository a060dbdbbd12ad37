package servers

import (
	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/license"
)

// commonResp 结构体定义了通用的响应结构，用于返回 JSON 格式的响应数据。
type commonResp struct {
	ErrNo  int         `json:"err_no"`  // ErrNo 表示错误代码，用于标识请求的处理状态。
	ErrMsg string      `json:"err_msg"` // ErrMsg 包含了可选的错误消息，用于描述错误的详细信息。
	Data   interface{} `json:"data"`    // Data 包含响应的数据部分，可以是任何类型的数据。
}

// accountInfo 是账户及其机器人的状态。
type accountInfo struct {
	configs.Account
	Running         bool         `json:"running"`
	BridgeConnected bool         `json:"bridge_connected"`
	Status          *bots.Status `json:"status,omitempty"`
}

// deviceInfo 是本机设备信息和已授权的功能。
type deviceInfo struct {
	Device        *license.DeviceInfo `json:"device"`
	ServerEnabled bool                `json:"server_enabled"`
	Features      []string            `json:"features"`
}

// cdkResult 是 CDK 激活结果。
type cdkResult struct {
	Features   []string `json:"features"`
	ExpireTime int64    `json:"expire_time"`
	Expire     string   `json:"expire"`
}
