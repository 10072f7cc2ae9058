package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AllowedMethods はクロスオリジンで許可するHTTPメソッド。
var AllowedMethods = []string{http.MethodGet, http.MethodPost}

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// "*"を含む場合は全てのオリジンを許可する。
// フロントエンドを別オリジンで配信する場合に使用する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	_, wildcard := originsSet["*"]
	methods := strings.Join(AllowedMethods, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, ok := originsSet[origin]
		if origin != "" && (ok || wildcard) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Max-Age", "86400")
			c.Writer.Header().Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
