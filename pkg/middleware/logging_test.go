package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// TestLogging はLoggingミドルウェアを検証する。
// グローバルロガーにフックを差し込むため並列実行しない。
func TestLogging(t *testing.T) {
	hook := test.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })

	tests := []struct {
		name      string
		status    int
		wantLevel log.Level
	}{
		{name: "2xxはInfoで出力されること", status: http.StatusOK, wantLevel: log.InfoLevel},
		{name: "4xxはWarnで出力されること", status: http.StatusUnsupportedMediaType, wantLevel: log.WarnLevel},
		{name: "5xxはErrorで出力されること", status: http.StatusInternalServerError, wantLevel: log.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()

			router := gin.New()
			router.Use(RequestID(), Logging())
			router.POST("/chat", func(c *gin.Context) {
				c.Status(tt.status)
			})

			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			router.ServeHTTP(httptest.NewRecorder(), req)

			entry := hook.LastEntry()
			if entry == nil {
				t.Fatal("ログが出力されていない")
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", entry.Level, tt.wantLevel)
			}
			if entry.Data["status"] != tt.status {
				t.Errorf("status = %v, want %d", entry.Data["status"], tt.status)
			}
			if entry.Data["path"] != "/chat" {
				t.Errorf("path = %v, want %q", entry.Data["path"], "/chat")
			}
			if id, _ := entry.Data["request_id"].(string); id == "" {
				t.Error("request_idが出力されていない")
			}
		})
	}
}
