package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestObserver はHTTPリクエストの結果を記録する。
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Metrics はリクエストごとのステータスと処理時間を記録するGinミドルウェアを返す。
// ルートが一致しないリクエストは "unmatched" として集計し、ラベルの爆発を防ぐ。
func Metrics(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observer.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
