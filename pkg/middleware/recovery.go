package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にスタックトレースをログに出力し、500エラーを返す。
// レスポンスの書き込みが始まっている場合は接続を打ち切るだけにする。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"method":     c.Request.Method,
					"path":       c.Request.URL.Path,
					"request_id": GetRequestID(c),
					"panic":      r,
					"stack":      string(debug.Stack()),
				}).Error("パニックが発生しました")

				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "内部サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}
