package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/datachat/pkg/httpclient"
)

// contextKeyRequestID はGinコンテキストにリクエストIDを格納するキー。
const contextKeyRequestID = "request_id"

// RequestID はリクエストごとに一意なIDを付与するGinミドルウェアを返す。
// クライアントがX-Request-IDを送ってきた場合はそれを引き継ぐ。
// IDはレスポンスヘッダーとリクエストのcontext.Contextにも設定し、下流サービスへ伝播させる。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(httpclient.HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Set(contextKeyRequestID, id)
		c.Header(httpclient.HeaderRequestID, id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
// RequestIDミドルウェアが適用されていない場合は空文字列を返す。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
