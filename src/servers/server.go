package servers

import (
	"context"
	"net/http"
	_ "net/http/pprof" // 导入 net/http/pprof 包，用于性能分析

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuhaohwang/danmubot/src/instance"
)

const (
	apiRouterPrefix = "/api" // 定义 API 路由的前缀
)

// Server 结构体表示服务器对象。
type Server struct {
	server *http.Server
	ws     *WebSocketManager
	bridge *BridgeManager
}

// initMux 函数初始化路由处理器，并添加中间件。
func initMux(ctx context.Context, ws *WebSocketManager, bridge *BridgeManager) *mux.Router {
	m := mux.NewRouter()
	m.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w,
				r.WithContext(
					context.WithValue(
						r.Context(),
						instance.Key,
						instance.GetInstance(ctx),
					),
				),
			)
		})
	}, log) // 使用 log 中间件记录请求日志

	// 设置 API 路由
	apiRoute := m.PathPrefix(apiRouterPrefix).Subrouter()
	apiRoute.Use(mux.CORSMethodMiddleware(apiRoute))
	apiRoute.HandleFunc("/info", getInfo).Methods("GET")
	apiRoute.HandleFunc("/config", getConfig).Methods("GET")
	apiRoute.HandleFunc("/config", putConfig).Methods("PUT")
	apiRoute.HandleFunc("/raw-config", getRawConfig).Methods("GET")
	apiRoute.HandleFunc("/raw-config", putRawConfig).Methods("PUT")
	apiRoute.HandleFunc("/accounts", getAllAccounts).Methods("GET")
	apiRoute.HandleFunc("/accounts", addAccounts).Methods("POST")
	apiRoute.HandleFunc("/accounts/{name}", getAccount).Methods("GET")
	apiRoute.HandleFunc("/accounts/{name}", removeAccount).Methods("DELETE")
	apiRoute.HandleFunc("/accounts/{name}/history", getAccountHistory).Methods("GET")
	apiRoute.HandleFunc("/accounts/{name}/danmu", injectDanmu).Methods("POST")
	apiRoute.HandleFunc("/accounts/{name}/{action}", accountActionHandler).Methods("GET")
	apiRoute.HandleFunc("/live-rooms", getLiveRooms).Methods("GET")
	apiRoute.HandleFunc("/live-rooms", addLiveRoom).Methods("POST")
	apiRoute.HandleFunc("/live-rooms", removeLiveRoom).Methods("DELETE")
	apiRoute.HandleFunc("/stats", getStats).Methods("GET")
	apiRoute.HandleFunc("/stats", resetStats).Methods("DELETE")
	apiRoute.HandleFunc("/stats.csv", getStatsCSV).Methods("GET")
	apiRoute.HandleFunc("/stats/unmatched.csv", getUnmatchedCSV).Methods("GET")
	apiRoute.HandleFunc("/queue", getQueue).Methods("GET")
	apiRoute.HandleFunc("/device", getDevice).Methods("GET")
	apiRoute.HandleFunc("/cdk/verify", verifyCDK).Methods("POST")
	apiRoute.Handle("/metrics", promhttp.Handler()) // 用于处理 Prometheus 监控数据

	m.HandleFunc("/ws", ws.HandleConnection)                   // 控制面板事件推送
	m.HandleFunc("/bridge/{account}", bridge.HandleConnection) // 直播间页面桥接

	// 启用 pprof 性能分析
	if instance.GetInstance(ctx).Config.Debug {
		m.PathPrefix("/debug/").Handler(http.DefaultServeMux)
	}
	return m
}

// NewServer 函数创建一个新的服务器实例。
func NewServer(ctx context.Context) *Server {
	inst := instance.GetInstance(ctx)
	bridge, ok := inst.Bridge.(*BridgeManager)
	if !ok {
		bridge = NewBridgeManager(ctx)
	}
	ws := NewWebSocketManager(ctx)
	server := &Server{
		server: &http.Server{
			Addr:    inst.Config.RPC.Bind,
			Handler: initMux(ctx, ws, bridge),
		},
		ws:     ws,
		bridge: bridge,
	}
	inst.Server = server
	return server
}

// Start 方法启动服务器。
func (s *Server) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)
	inst.WaitGroup.Add(1)
	go func() {
		switch err := s.server.ListenAndServe(); err {
		case nil, http.ErrServerClosed:
		default:
			inst.Logger.Error(err)
		}
	}()
	inst.Logger.Infof("Server start at %s", s.server.Addr)
	return nil
}

// Close 方法关闭服务器。
func (s *Server) Close(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	defer inst.WaitGroup.Done()
	s.ws.Close(ctx)
	s.bridge.Close(ctx)
	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.server.Shutdown(ctx2); err != nil {
		inst.Logger.WithError(err).Error("failed to shutdown server")
	}
	inst.Logger.Infof("Server close")
}
