package flag

import (
	"os"
	"strings"

	"github.com/alecthomas/kingpin"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/consts"
)

// 创建一个新的应用程序实例
var (
	app = kingpin.New(consts.AppName, "直播间多账户弹幕自动回复机器人。").Version(consts.AppVersion)

	runCmd = app.Command("run", "启动弹幕机器人。").Default()

	// 调试模式标志
	Debug = runCmd.Flag("debug", "启用调试模式。").Default("false").Bool()

	// 机器人主循环间隔
	Interval = runCmd.Flag("interval", "机器人主循环间隔（毫秒）").Default("500").Short('t').Int()

	// 配置文件路径
	Conf = runCmd.Flag("config", "配置文件路径。").Short('c').String()

	// 账户列表，格式为 名称 或 名称=昵称
	Accounts = runCmd.Flag("account", "账户，格式为 name 或 name=nickname，可重复").Short('a').Strings()

	// 直播间URL列表
	Input = runCmd.Flag("input", "直播间URL列表").Short('i').Strings()

	// 启用RPC服务器标志
	RPC = runCmd.Flag("enable-rpc", "启用RPC服务器。").Default("true").Bool()

	// RPC服务器绑定地址
	RPCBind = runCmd.Flag("rpc-bind", "RPC服务器绑定地址").Default("127.0.0.1:8080").String()

	genCDKCmd = app.Command("gen-cdk", "生成离线 CDK。")

	// CDK 签名密钥
	CDKSecret = genCDKCmd.Flag("secret", "签名密钥").Required().String()

	// CDK 包含的功能，为空表示全部功能
	CDKFeatures = genCDKCmd.Flag("feature", "开通的功能，可重复，为空表示全部").Short('f').Strings()

	// CDK 有效天数
	CDKDays = genCDKCmd.Flag("days", "有效天数，0 表示永久").Default("0").Int()

	// CDK 绑定的机器码
	CDKMachine = genCDKCmd.Flag("machine-code", "绑定的机器码，为空表示不绑定").String()

	// Command 是本次执行的子命令
	Command string
)

// 子命令名称
const (
	CommandRun    = "run"
	CommandGenCDK = "gen-cdk"
)

func init() {
	// 解析命令行参数
	Command = kingpin.MustParse(app.Parse(os.Args[1:]))
}

// GenConfigFromFlags 通过解析命令行参数生成配置信息。
func GenConfigFromFlags() *configs.Config {
	cfg := configs.NewConfig()
	cfg.RPC = configs.RPC{
		Enable: *RPC,
		Bind:   *RPCBind,
	}
	cfg.Debug = *Debug
	cfg.Interval = *Interval

	url := ""
	if len(*Input) > 0 {
		url = (*Input)[0]
	}
	for _, u := range *Input {
		_ = cfg.AddLiveRoom("", u)
	}
	for _, s := range *Accounts {
		name, nickname, _ := strings.Cut(s, "=")
		if nickname == "" {
			nickname = name
		}
		_ = cfg.AddAccount(configs.NewAccount(name, nickname, url))
	}
	return cfg
}
