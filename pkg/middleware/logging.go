package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Logging はリクエストの開始と完了をログに出力するGinミドルウェアを返す。
// 5xxはError、4xxはWarn、それ以外はInfoで出力する。
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		entry := log.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"request_id": GetRequestID(c),
		})
		entry.Debug("リクエストを受け付けました")

		c.Next()

		entry = entry.WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"bytes":   c.Writer.Size(),
			"latency": time.Since(start).String(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("リクエストを処理しました")
		case status >= 400:
			entry.Warn("リクエストを処理しました")
		default:
			entry.Info("リクエストを処理しました")
		}
	}
}
