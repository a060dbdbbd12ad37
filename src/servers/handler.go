package servers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v2"

	"github.com/yuhaohwang/danmubot/src/bots"
	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/consts"
	"github.com/yuhaohwang/danmubot/src/danmu"
	"github.com/yuhaohwang/danmubot/src/history"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/license"
)

func botManager(ctx context.Context) bots.Manager {
	m, _ := instance.GetInstance(ctx).BotManager.(bots.Manager)
	return m
}

// saveConfig 通知控制面板配置已变更，并在指定了配置文件时写回。
func saveConfig(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	if inst.WebsocketManager != nil {
		if _, err := inst.WebsocketManager.BroadcastMessage(configEvent, nil); err != nil {
			inst.Logger.WithError(err).Debug("推送配置变更失败")
		}
	}
	if inst.Config.File == "" {
		return
	}
	if err := inst.Config.Marshal(); err != nil {
		inst.Logger.WithError(err).Warn("保存配置失败")
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return b, true
}

// 获取应用程序信息
func getInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.AppInfo)
}

// 获取配置信息
func getConfig(writer http.ResponseWriter, r *http.Request) {
	instance.GetInstance(r.Context()).Config.Snapshot(func(c *configs.Config) {
		writeJSON(writer, c)
	})
}

// 将当前配置持久化到文件
func putConfig(writer http.ResponseWriter, r *http.Request) {
	if err := instance.GetInstance(r.Context()).Config.Marshal(); err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	writeOK(writer, "OK")
}

// 获取原始配置信息
func getRawConfig(writer http.ResponseWriter, r *http.Request) {
	var (
		b   []byte
		err error
	)
	instance.GetInstance(r.Context()).Config.Snapshot(func(c *configs.Config) {
		b, err = yaml.Marshal(c)
	})
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, map[string]string{
		"config": string(b),
	})
}

// 更新原始配置信息，新配置立即生效并同步到机器人
func putRawConfig(writer http.ResponseWriter, r *http.Request) {
	b, ok := readBody(writer, r)
	if !ok {
		return
	}
	ctx := r.Context()
	inst := instance.GetInstance(ctx)

	raw := gjson.GetBytes(b, "config")
	if !raw.Exists() {
		writeError(writer, http.StatusBadRequest, errors.New("缺少 config 字段"))
		return
	}
	newConfig, err := configs.NewConfigWithBytes([]byte(raw.String()))
	if err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	if err := newConfig.Verify(); err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	if path, err := inst.Config.GetFilePath(); err == nil {
		if err := os.WriteFile(path, []byte(raw.String()), 0644); err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
	}
	inst.Config.Apply(newConfig)
	if m := botManager(ctx); m != nil {
		m.Reload(ctx)
	}
	writeOK(writer, "OK")
}

func buildAccountInfo(ctx context.Context, acc configs.Account) accountInfo {
	inst := instance.GetInstance(ctx)
	info := accountInfo{Account: acc}
	if m := botManager(ctx); m != nil {
		if b, err := m.GetBot(ctx, acc.Name); err == nil {
			status := b.Status()
			info.Running = b.Running()
			info.Status = &status
		}
	}
	if bm, ok := inst.Bridge.(*BridgeManager); ok {
		info.BridgeConnected = bm.Connected(acc.Name)
	}
	return info
}

// 获取所有账户
func getAllAccounts(writer http.ResponseWriter, r *http.Request) {
	accounts := instance.GetInstance(r.Context()).Config.GetAccounts()
	res := make([]accountInfo, 0, len(accounts))
	for _, acc := range accounts {
		res = append(res, buildAccountInfo(r.Context(), acc))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	writeJSON(writer, res)
}

// 获取单个账户
func getAccount(writer http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	acc, err := instance.GetInstance(r.Context()).Config.GetAccount(name)
	if err != nil {
		writeError(writer, http.StatusNotFound, fmt.Errorf("%s: %w", name, err))
		return
	}
	writeJSON(writer, buildAccountInfo(r.Context(), acc))
}

/*
Post 数据示例

[

	{
		"name": "a1",
		"nickname": "小号一",
		"url": "https://live.douyin.com/123456",
		"enabled": true
	}

]
*/
func addAccounts(writer http.ResponseWriter, r *http.Request) {
	b, ok := readBody(writer, r)
	if !ok {
		return
	}
	ctx := r.Context()
	inst := instance.GetInstance(ctx)

	added := make([]accountInfo, 0)
	errorMessages := make([]string, 0)
	add := func(value gjson.Result) {
		acc := configs.NewAccount(value.Get("name").String(), value.Get("nickname").String(), value.Get("url").String())
		if enabled := value.Get("enabled"); enabled.Exists() {
			acc.Enabled = enabled.Bool()
		}
		if err := addAccountImpl(ctx, acc); err != nil {
			msg := acc.Name + "：" + err.Error()
			inst.Logger.Error(msg)
			errorMessages = append(errorMessages, msg)
			return
		}
		added = append(added, buildAccountInfo(ctx, acc))
	}

	body := gjson.ParseBytes(b)
	if body.IsArray() {
		body.ForEach(func(_, value gjson.Result) bool {
			add(value)
			return true
		})
	} else {
		add(body)
	}
	saveConfig(ctx)

	resp := commonResp{Data: added}
	if len(errorMessages) > 0 {
		resp.ErrNo = http.StatusBadRequest
		resp.ErrMsg = strings.Join(errorMessages, "; ")
	}
	writeJSON(writer, resp)
}

func addAccountImpl(ctx context.Context, acc configs.Account) error {
	inst := instance.GetInstance(ctx)
	if err := inst.Config.AddAccount(acc); err != nil {
		return err
	}
	if !acc.Enabled {
		return nil
	}
	if m := botManager(ctx); m != nil {
		return m.AddBot(ctx, acc)
	}
	return nil
}

// 删除账户
func removeAccount(writer http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]
	if m := botManager(ctx); m != nil {
		if err := m.RemoveBot(ctx, name); err != nil && !errors.Is(err, bots.ErrBotNotExist) {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
	}
	if err := instance.GetInstance(ctx).Config.RemoveAccount(name); err != nil {
		writeError(writer, http.StatusNotFound, fmt.Errorf("%s: %w", name, err))
		return
	}
	saveConfig(ctx)
	writeOK(writer, "OK")
}

// accountActions 是账户可以执行的操作。
var accountActions = map[string]func(ctx context.Context, name string) (interface{}, error){
	"start": func(ctx context.Context, name string) (interface{}, error) {
		inst := instance.GetInstance(ctx)
		if err := inst.Config.UpdateAccount(name, func(a *configs.Account) { a.Enabled = true }); err != nil {
			return nil, err
		}
		acc, err := inst.Config.GetAccount(name)
		if err != nil {
			return nil, err
		}
		saveConfig(ctx)
		if err := botManager(ctx).AddBot(ctx, acc); err != nil && !errors.Is(err, bots.ErrBotExist) {
			return nil, err
		}
		return "OK", nil
	},
	"stop": func(ctx context.Context, name string) (interface{}, error) {
		inst := instance.GetInstance(ctx)
		if err := inst.Config.UpdateAccount(name, func(a *configs.Account) { a.Enabled = false }); err != nil {
			return nil, err
		}
		saveConfig(ctx)
		if err := botManager(ctx).RemoveBot(ctx, name); err != nil && !errors.Is(err, bots.ErrBotNotExist) {
			return nil, err
		}
		return "OK", nil
	},
	"clear-queue": func(ctx context.Context, name string) (interface{}, error) {
		b, err := botManager(ctx).GetBot(ctx, name)
		if err != nil {
			return nil, err
		}
		return map[string]int{"cleared": b.ClearQueue()}, nil
	},
	"clear-history": func(ctx context.Context, name string) (interface{}, error) {
		inst := instance.GetInstance(ctx)
		if _, err := inst.Config.GetAccount(name); err != nil {
			return nil, err
		}
		if inst.AI != nil {
			inst.AI.ClearHistory("")
		}
		if store, ok := inst.History.(*history.Store); ok {
			if err := store.Clear(ctx, name); err != nil {
				return nil, err
			}
		}
		return "OK", nil
	},
}

// 执行账户操作
func accountActionHandler(writer http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	action, ok := accountActions[vars["action"]]
	if !ok {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("不支持的操作: %s", vars["action"]))
		return
	}
	data, err := action(r.Context(), vars["name"])
	switch {
	case err == nil:
		writeOK(writer, data)
	case errors.Is(err, configs.ErrAccountNotExist), errors.Is(err, bots.ErrBotNotExist):
		writeError(writer, http.StatusNotFound, err)
	default:
		writeError(writer, http.StatusInternalServerError, err)
	}
}

// 查询账户的历史弹幕
func getAccountHistory(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	store, ok := inst.History.(*history.Store)
	if !ok {
		writeError(writer, http.StatusNotFound, errors.New("未启用历史记录"))
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	name := mux.Vars(r)["name"]

	var (
		res interface{}
		err error
	)
	switch query.Get("kind") {
	case "", "danmu":
		res, err = store.Recent(r.Context(), name, limit)
	case "sent":
		res, err = store.RecentSent(r.Context(), name, limit)
	default:
		writeError(writer, http.StatusBadRequest, fmt.Errorf("未知的记录类型: %s", query.Get("kind")))
		return
	}
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, res)
}

// 注入一条弹幕，格式与页面桥接相同
func injectDanmu(writer http.ResponseWriter, r *http.Request) {
	b, ok := readBody(writer, r)
	if !ok {
		return
	}
	ctx := r.Context()
	msg, err := danmu.ParseMessage(b)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	m := botManager(ctx)
	if m == nil {
		writeError(writer, http.StatusServiceUnavailable, bots.ErrBotNotExist)
		return
	}
	bot, err := m.GetBot(ctx, mux.Vars(r)["name"])
	if err != nil {
		writeError(writer, http.StatusNotFound, err)
		return
	}
	bot.HandleMessage(msg)
	writeOK(writer, map[string]interface{}{
		"id":      msg.ID,
		"pending": bot.Pending(),
	})
}

func getLiveRooms(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, instance.GetInstance(r.Context()).Config.GetLiveRooms())
}

func addLiveRoom(writer http.ResponseWriter, r *http.Request) {
	b, ok := readBody(writer, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body := gjson.ParseBytes(b)
	if err := instance.GetInstance(ctx).Config.AddLiveRoom(body.Get("name").String(), body.Get("url").String()); err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	saveConfig(ctx)
	writeOK(writer, "OK")
}

func removeLiveRoom(writer http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := instance.GetInstance(ctx).Config.RemoveLiveRoom(r.URL.Query().Get("url")); err != nil {
		writeError(writer, http.StatusNotFound, err)
		return
	}
	saveConfig(ctx)
	writeOK(writer, "OK")
}

func getStats(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	writeJSON(writer, inst.Statistics.Export(inst.Config.AllKeywords()))
}

func writeCSV(writer http.ResponseWriter, name string, export func(io.Writer) error) {
	writer.Header().Set(contentType, contentTypeCSV)
	writer.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s.csv", name, time.Now().Format("20060102-150405")))
	if err := export(writer); err != nil {
		writeMsg(writer, http.StatusInternalServerError, err.Error())
	}
}

func getStatsCSV(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	writeCSV(writer, "stats", func(w io.Writer) error {
		return inst.Statistics.ExportCSV(w, inst.Config.AllKeywords())
	})
}

func getUnmatchedCSV(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	writeCSV(writer, "unmatched", func(w io.Writer) error {
		return inst.Statistics.ExportUnmatchedCSV(w, inst.Config.AllKeywords())
	})
}

func resetStats(writer http.ResponseWriter, r *http.Request) {
	instance.GetInstance(r.Context()).Statistics.Reset()
	writeOK(writer, "OK")
}

func getQueue(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, instance.GetInstance(r.Context()).Queue.Stats())
}

// authorizedFeatures 合并本地激活和服务器开通的功能。
func authorizedFeatures(ctx context.Context) license.RemoteFeatures {
	inst := instance.GetInstance(ctx)
	var local []string
	inst.Config.Snapshot(func(c *configs.Config) {
		local = append(local, c.CDK.Features...)
	})
	f := license.FeaturesFromList(local)
	if inst.License != nil {
		f = f.Merge(inst.License.CheckFeatures(ctx))
	}
	return f
}

func getDevice(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	writeJSON(writer, deviceInfo{
		Device:        inst.Device,
		ServerEnabled: inst.License != nil,
		Features:      authorizedFeatures(r.Context()).List(),
	})
}

// verifyCDK 先在本地校验 CDK，启用授权服务器时再在线校验，通过后激活功能。
func verifyCDK(writer http.ResponseWriter, r *http.Request) {
	b, ok := readBody(writer, r)
	if !ok {
		return
	}
	ctx := r.Context()
	inst := instance.GetInstance(ctx)
	cdk := strings.TrimSpace(gjson.GetBytes(b, "cdk").String())
	if cdk == "" {
		writeError(writer, http.StatusBadRequest, license.ErrInvalidCDK)
		return
	}

	var secret, machineCode string
	inst.Config.Snapshot(func(c *configs.Config) { secret = c.CDK.Secret })
	if inst.Device != nil {
		machineCode = inst.Device.MachineCode
	}

	var info *license.CDKInfo
	if secret != "" {
		var err error
		if info, err = license.VerifyCDK(secret, cdk, machineCode, time.Now()); err != nil {
			writeError(writer, http.StatusBadRequest, err)
			return
		}
	} else if inst.License == nil {
		writeError(writer, http.StatusBadRequest, errors.New("未配置 CDK 密钥，无法校验"))
		return
	}

	if inst.License != nil {
		res, err := inst.License.VerifyCDK(ctx, cdk)
		if err != nil {
			writeError(writer, http.StatusServiceUnavailable, err)
			return
		}
		if !res.Valid {
			writeError(writer, http.StatusBadRequest, fmt.Errorf("%w: %s", license.ErrInvalidCDK, res.Message))
			return
		}
		if info == nil {
			info = &license.CDKInfo{Features: res.Features, ExpireTime: res.ExpireTime}
		}
	}

	inst.Config.Update(func(c *configs.Config) {
		c.CDK.Features = mergeFeatures(c.CDK.Features, info.Features)
		for _, f := range info.Features {
			if f == license.FeatureAIReply {
				c.AI.CDK = cdk
			}
		}
	})
	saveConfig(ctx)

	if inst.License != nil {
		if err := inst.License.ReportActivation(ctx, cdk, info); err != nil {
			inst.Logger.WithError(err).Warn("上报 CDK 激活失败")
		}
	}
	if m := botManager(ctx); m != nil {
		m.Reload(ctx)
	}
	inst.Logger.Infof("CDK 激活成功: %v", info.Features)

	writeOK(writer, cdkResult{
		Features:   info.Features,
		ExpireTime: info.ExpireTime,
		Expire:     license.FormatExpireTime(info.ExpireTime, time.Now()),
	})
}

func mergeFeatures(current, added []string) []string {
	seen := make(map[string]struct{}, len(current)+len(added))
	res := make([]string, 0, len(current)+len(added))
	for _, list := range [][]string{current, added} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			res = append(res, f)
		}
	}
	return res
}
