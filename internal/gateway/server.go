package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/nao1215/datachat/internal/approach"
	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/internal/telemetry"
	"github.com/nao1215/datachat/pkg/middleware"
)

// DefaultShutdownTimeout はグレースフルシャットダウンの既定の上限時間。
const DefaultShutdownTimeout = 10 * time.Second

// AuthHelper はユーザー認証の補助を行う。
type AuthHelper interface {
	// AuthClaimsIfEnabled は認証が有効な場合にリクエストヘッダーからクレームを取り出す。
	AuthClaimsIfEnabled(ctx context.Context, header http.Header) map[string]any
	// AuthSetupForClient はフロントエンドのMSAL.jsに渡す設定を返す。
	AuthSetupForClient() map[string]any
}

// CredentialGate はアプローチ呼び出し前に有効なベアラートークンを用意する。
type CredentialGate interface {
	EnsureFresh(ctx context.Context) (credential.Token, error)
}

// Options はサーバーの設定。
type Options struct {
	// Port はリッスンポート。
	Port string
	// BasePath は/basepathで返すベースパス。
	BasePath string
	// StaticDir はindex.html、favicon.ico、assets/を含むディレクトリ。
	StaticDir string
	// AllowedOrigins はCORSで許可するオリジン。空の場合CORSは無効。
	AllowedOrigins []string
	// ChatRequestTimeout は非ストリーミングのチャットリクエストの上限時間。0の場合は無制限。
	ChatRequestTimeout time.Duration
	// ReadTimeout はリクエストの読み込みの上限時間。
	ReadTimeout time.Duration
	// WriteTimeout はレスポンスの書き込みの上限時間。ストリーミング中は解除する。
	WriteTimeout time.Duration
	// ShutdownTimeout はグレースフルシャットダウンの上限時間。
	ShutdownTimeout time.Duration
	// Tracing はハンドラーをトレースで包むかどうか。
	Tracing bool
}

// Dependencies はサーバーが呼び出す協調オブジェクト。
type Dependencies struct {
	// Approach はチャット応答を生成する。
	Approach approach.Approach
	// Auth はユーザー認証の補助を行う。
	Auth AuthHelper
	// Credentials はベアラートークンを用意する。nilの場合は何もしない。
	Credentials CredentialGate
	// Closers はサーバー停止時に閉じるリソース。
	Closers []io.Closer
}

// Server はチャットゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// opts はサーバーの設定。
	opts Options
	// approach はチャット応答を生成する。
	approach approach.Approach
	// auth はユーザー認証の補助を行う。
	auth AuthHelper
	// credentials はベアラートークンを用意する。
	credentials CredentialGate
	// closers はサーバー停止時に閉じるリソース。
	closers []io.Closer
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(opts Options, deps Dependencies) *Server {
	if opts.BasePath == "" {
		opts.BasePath = "/"
	}
	creds := deps.Credentials
	if creds == nil {
		creds = credential.NewPassthrough()
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging())
	if len(opts.AllowedOrigins) > 0 {
		log.WithField("origins", opts.AllowedOrigins).Info("CORSを有効にしました")
		router.Use(middleware.CORS(opts.AllowedOrigins))
	}

	s := &Server{
		router:      router,
		opts:        opts,
		approach:    deps.Approach,
		auth:        deps.Auth,
		credentials: creds,
		closers:     deps.Closers,
	}
	s.setupRoutes()
	return s
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// フロントエンド
	s.router.GET("/", s.handleStaticFile("index.html"))
	s.router.GET("/favicon.ico", s.handleStaticFile("favicon.ico"))
	s.router.Static("/assets", filepath.Join(s.opts.StaticDir, "assets"))
	s.router.GET("/basepath", s.handleBasePath())
	// MSALのログインリダイレクト先。空のページを返す
	s.router.GET("/redirect", s.handleRedirect())

	// チャット
	s.router.POST("/chat", s.handleChat())
	s.router.GET("/auth_setup", s.handleAuthSetup())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "datachat"})
	})
}

// Handler はサーバーのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	if s.opts.Tracing {
		return telemetry.Handler(s.router)
	}
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
// キャンセル後はShutdownTimeoutを上限にグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("ポート %s のリッスンに失敗: %w", s.opts.Port, err)
	}
	return s.serve(ctx, srv, ln)
}

// serve はlnでsrvを動かし、ctxのキャンセルでシャットダウンする。
func (s *Server) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	log.WithField("addr", ln.Addr().String()).Info("datachatサービスを起動します")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return shutdownErr
}

// Close はサーバーが保持するリソースを閉じる。
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleStaticFile はStaticDir配下のファイルを返すハンドラを返す。
func (s *Server) handleStaticFile(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.File(filepath.Join(s.opts.StaticDir, name))
	}
}

// handleBasePath はフロントエンドのベースパスを返すハンドラを返す。
func (s *Server) handleBasePath() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"basepath": s.opts.BasePath})
	}
}

// handleRedirect は空のページを返すハンドラを返す。
func (s *Server) handleRedirect() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", nil)
	}
}

// handleAuthSetup はMSAL.jsの設定を返すハンドラを返す。
func (s *Server) handleAuthSetup() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.auth.AuthSetupForClient())
	}
}
