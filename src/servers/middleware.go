package servers

import (
	"net/http"

	"github.com/yuhaohwang/danmubot/src/instance"
)

// log 函数是一个中间件，用于记录 HTTP 请求的日志信息。
func log(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instance.GetInstance(r.Context()).Logger.WithFields(map[string]interface{}{
			"Method":     r.Method,
			"Path":       r.RequestURI,
			"RemoteAddr": r.RemoteAddr,
		}).Debug("Http Request")
		handler.ServeHTTP(w, r)
	})
}
