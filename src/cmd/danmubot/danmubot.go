package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yuhaohwang/danmubot/src/ai"
	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/cmd/danmubot/internal/flag"
	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/consts"
	"github.com/yuhaohwang/danmubot/src/history"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
	"github.com/yuhaohwang/danmubot/src/license"
	"github.com/yuhaohwang/danmubot/src/log"
	"github.com/yuhaohwang/danmubot/src/metrics"
	"github.com/yuhaohwang/danmubot/src/pkg/events"
	"github.com/yuhaohwang/danmubot/src/queue"
	"github.com/yuhaohwang/danmubot/src/servers"
	"github.com/yuhaohwang/danmubot/src/statistics"
)

// getConfig 函数用于获取程序的配置信息。
func getConfig() (*configs.Config, error) {
	var config *configs.Config

	// 检查命令行参数是否指定了配置文件。
	if *flag.Conf != "" {
		c, err := configs.NewConfigWithFile(*flag.Conf)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		config = flag.GenConfigFromFlags()
	}

	// 命令行没有给出任何账户时，尝试加载可执行文件旁边的 config.yml。
	if config.File == "" && len(config.Accounts) == 0 {
		configBesidesExe, err := getConfigBesidesExecutable()
		if err == nil {
			return configBesidesExe, configBesidesExe.Verify()
		}
	}

	return config, config.Verify()
}

// getConfigBesidesExecutable 函数用于获取可执行文件旁边的配置信息。
func getConfigBesidesExecutable() (*configs.Config, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return configs.NewConfigWithFile(filepath.Join(filepath.Dir(exePath), "config.yml"))
}

// genCDK 生成一个离线 CDK 并输出到标准输出。
func genCDK() {
	cdk, err := license.GenerateCDK(*flag.CDKSecret, *flag.CDKFeatures, *flag.CDKDays, *flag.CDKMachine, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(cdk)
}

// startLicense 校验设备并向授权服务器注册，设备被封禁或服务器不可用时退出。
func startLicense(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	logger := inst.Logger
	client := license.NewClient(inst.Config.Server, inst.Device, logger.WithField("module", "license"))

	status, err := client.CheckBan(ctx)
	if err != nil {
		logger.WithError(err).Fatal("无法连接授权服务器")
	}
	if status.Banned {
		logger.Fatalf("设备已被封禁: %s", status.Reason)
	}
	if err := client.VerifyAndRegister(ctx, inst.Config); err != nil {
		logger.WithError(err).Fatal("设备注册失败")
	}
	inst.License = client
	logger.Info("设备已通过授权服务器验证")
}

// aiUsageReporter 把 AI 用量上报给授权服务器，未启用服务器时不上报。
func aiUsageReporter(inst *instance.Instance) ai.UsageReporter {
	return func(ctx context.Context, usage ai.Usage) error {
		if inst.License == nil {
			return nil
		}
		return inst.License.ReportAIUsage(ctx, usage.RequestLength, usage.ResponseLength, usage.CDK)
	}
}

// watchConfig 在配置文件变化时热加载。
func watchConfig(ctx context.Context) *configs.Watcher {
	inst := instance.GetInstance(ctx)
	if inst.Config.File == "" {
		return nil
	}
	w, err := configs.NewWatcher(inst.Config.File, func(c *configs.Config) {
		inst.Config.Apply(c)
		inst.BotManager.(bots.Manager).Reload(ctx)
		inst.Logger.Info("配置文件已重新加载")
	}, func(err error) {
		inst.Logger.WithError(err).Warn("重新加载配置文件失败")
	})
	if err != nil {
		inst.Logger.WithError(err).Warn("无法监听配置文件")
		return nil
	}
	if err := w.Start(); err != nil {
		inst.Logger.WithError(err).Warn("无法监听配置文件")
		w.Close()
		return nil
	}
	return w
}

func main() {
	if flag.Command == flag.CommandGenCDK {
		genCDK()
		return
	}

	// 获取配置信息
	config, err := getConfig()
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		os.Exit(1)
	}

	inst := new(instance.Instance)
	inst.Config = config
	ctx := instance.WithInstance(context.Background(), inst)

	logger := log.New(ctx)
	logger.Infof("%s 版本: %s", consts.AppName, consts.AppVersion)
	if config.File != "" {
		logger.Debugf("配置路径: %s.", config.File)
		logger.Debugf("其他标志已被忽略.")
	} else {
		logger.Debugf("未使用配置文件.")
		logger.Debugf("标志: %s 被使用.", os.Args)
	}
	logger.Debugf("%+v", consts.AppInfo)

	inst.Device = license.CollectDeviceInfo()
	logger.Infof("机器码: %s", inst.Device.MachineCode)
	if config.Server.Enable {
		startLicense(ctx)
	}

	events.NewDispatcher(ctx)
	inst.Statistics = statistics.NewManager()
	inst.Queue = queue.New(config.Queue, inst.Statistics)
	var aiConfig configs.AI
	config.Snapshot(func(c *configs.Config) { aiConfig = c.AI })
	inst.AI = ai.NewClient(aiConfig, aiUsageReporter(inst), logger.WithField("module", "ai"))
	servers.NewBridgeManager(ctx)

	modules := make([]interfaces.Module, 0)
	if config.History.Enable {
		modules = append(modules, history.NewStore(ctx))
	}
	if config.RPC.Enable {
		modules = append(modules, servers.NewServer(ctx))
	}
	modules = append(modules, metrics.NewCollector(ctx), bots.NewManager(ctx))
	for _, m := range modules {
		if err := m.Start(ctx); err != nil {
			logger.Fatalf("初始化模块失败，错误: %s", err)
		}
	}

	watcher := watchConfig(ctx)

	// 创建一个用于捕获信号的通道。
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		if watcher != nil {
			watcher.Close()
		}
		// 按启动的相反顺序关闭
		for i := len(modules) - 1; i >= 0; i-- {
			modules[i].Close(ctx)
		}
	}()

	// 等待程序实例的WaitGroup计数为0，即等待所有协程结束。
	inst.WaitGroup.Wait()
	logger.Info("再见~")
}
