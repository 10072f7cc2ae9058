package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nao1215/datachat/internal/approach"
	"github.com/nao1215/datachat/internal/auth"
	"github.com/nao1215/datachat/internal/config"
	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/internal/telemetry"
	"github.com/nao1215/datachat/internal/tokenstore"
	"github.com/nao1215/datachat/pkg/httpclient"
)

// primeTimeout は起動時のトークン取得の上限時間。
const primeTimeout = 30 * time.Second

// New は設定から協調オブジェクトを組み立ててサーバーを生成する。
// Azure ADのベアラートークンを使う場合は起動時に1度取得を試みる。失敗しても起動は続ける。
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	transport := http.DefaultTransport
	if cfg.TelemetryEnabled() {
		transport = telemetry.Transport(transport)
	}
	outbound := &http.Client{Transport: transport}

	deps := Dependencies{
		Auth: auth.NewHelper(auth.Config{
			Enabled:         cfg.UseAuthentication,
			ServerAppID:     cfg.ServerAppID,
			ServerAppSecret: cfg.ServerAppSecret,
			ClientAppID:     cfg.ClientAppID,
			TenantID:        cfg.TenantID,
			AuthorityHost:   cfg.AuthorityHost,
		}),
		Credentials: credential.NewPassthrough(),
	}

	if cfg.UsesDelegatedIdentity() {
		var opts []credential.Option
		store, closer, err := openTokenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if store != nil {
			opts = append(opts, credential.WithStore(store))
			deps.Closers = append(deps.Closers, closer)
		}

		provider := credential.NewClientCredentialsProvider(credential.ClientCredentialsConfig{
			TenantID:      cfg.TenantID,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			AuthorityHost: cfg.AuthorityHost,
			HTTPClient:    outbound,
		})
		cache := credential.NewCache(provider, credential.CognitiveServicesScope, opts...)
		deps.Credentials = cache

		primeCtx, cancel := context.WithTimeout(ctx, primeTimeout)
		if _, err := cache.EnsureFresh(primeCtx); err != nil {
			log.WithError(err).Warn("起動時のベアラートークン取得に失敗しました。最初のリクエストで再試行します")
		}
		cancel()
	}

	if cfg.ApproachURL != "" {
		log.WithField("url", cfg.ApproachURL).Info("外部のアプローチサービスを使用します")
		deps.Approach = approach.NewRemote(httpclient.New(cfg.ApproachURL, httpclient.WithTransport(transport)))
	} else {
		log.WithField("host", cfg.OpenAIHost).Info("チャット補完を直接呼び出します")
		deps.Approach = approach.NewOpenAI(approach.OpenAIConfig{
			Host:               cfg.OpenAIHost,
			Model:              cfg.ChatModel,
			AzureEndpoint:      cfg.AzureOpenAIEndpoint,
			AzureDeployment:    cfg.AzureOpenAIDeployment,
			AzureAPIKey:        cfg.AzureOpenAIAPIKey,
			AzureAPIVersion:    cfg.AzureOpenAIAPIVersion,
			OpenAIAPIKey:       cfg.OpenAIAPIKey,
			OpenAIOrganization: cfg.OpenAIOrganization,
			HTTPClient:         outbound,
		})
	}

	return NewServer(Options{
		Port:               cfg.Port,
		BasePath:           cfg.BasePath,
		StaticDir:          cfg.StaticDir,
		AllowedOrigins:     cfg.AllowedOrigins,
		ChatRequestTimeout: cfg.ChatRequestTimeout,
		ReadTimeout:        cfg.ServerReadTimeout,
		WriteTimeout:       cfg.ServerWriteTimeout,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		Tracing:            cfg.TelemetryEnabled(),
	}, deps), nil
}

// openTokenStore はベアラートークンの永続化先を開く。
// REDIS_ADDRが設定されていればRedis、TOKEN_CACHE_PATHが設定されていればSQLiteを使う。
// どちらも無い場合はnilを返す。
func openTokenStore(ctx context.Context, cfg *config.Config) (credential.Store, io.Closer, error) {
	switch {
	case cfg.RedisAddr != "":
		store, err := tokenstore.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("ベアラートークンをRedisで共有します")
		return store, store, nil
	case cfg.TokenCachePath != "":
		store, err := tokenstore.OpenSQLite(ctx, cfg.TokenCachePath)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.TokenCachePath).Info("ベアラートークンをファイルに保存します")
		return store, store, nil
	default:
		return nil, nil, nil
	}
}
