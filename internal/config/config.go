// Package config は環境変数からゲートウェイの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 接続先ホストの種類。
const (
	HostAzure  = "azure"
	HostOpenAI = "openai"
)

// Config はゲートウェイの設定。
type Config struct {
	// Port は待ち受けポート。
	Port string
	// BasePath はフロントエンドに返すベースパス。
	BasePath string
	// StaticDir はindex.html、favicon.ico、assets/を含むディレクトリ。
	StaticDir string

	// OpenAIHost はチャットモデルの接続先。azureまたはopenai。
	OpenAIHost string
	// ChatModel はチャットモデル名。
	ChatModel string
	// AzureOpenAIEndpoint はAzure OpenAIのエンドポイント。
	AzureOpenAIEndpoint string
	// AzureOpenAIDeployment はチャットモデルのデプロイ名。
	AzureOpenAIDeployment string
	// AzureOpenAIAPIKey はAzure OpenAIのAPIキー。
	AzureOpenAIAPIKey string
	// AzureOpenAIAPIVersion はAzure OpenAIのapi-version。
	AzureOpenAIAPIVersion string
	// OpenAIAPIKey はopenai.comのAPIキー。
	OpenAIAPIKey string
	// OpenAIOrganization はopenai.comの組織ID。
	OpenAIOrganization string

	// UseAuthentication はユーザー認証を有効にするかどうか。
	UseAuthentication bool
	// ServerAppID はAPIを公開するサーバーアプリのID。
	ServerAppID string
	// ServerAppSecret はサーバーアプリのシークレット。
	ServerAppSecret string
	// ClientAppID はフロントエンドのアプリID。
	ClientAppID string
	// TenantID はAzure ADのテナントID。
	TenantID string
	// ClientID はトークン取得に使うサービスプリンシパルのID。
	ClientID string
	// ClientSecret はサービスプリンシパルのシークレット。
	ClientSecret string
	// AuthorityHost はAzure ADのホスト。
	AuthorityHost string

	// TokenCachePath はベアラートークンを保存するSQLiteファイルのパス。
	TokenCachePath string
	// RedisAddr はベアラートークンを共有するRedisのアドレス。TokenCachePathより優先する。
	RedisAddr string
	// RedisPassword はRedisのパスワード。
	RedisPassword string

	// ApproachURL は外部のアプローチサービスのURL。空の場合はチャット補完を直接呼び出す。
	ApproachURL string
	// AllowedOrigins はCORSで許可するオリジン。空の場合CORSは無効。
	AllowedOrigins []string

	// LogLevel はログレベル。空の場合は環境に応じた既定値を使う。
	LogLevel string
	// WebsiteHostname は本番環境（App Service）のホスト名。
	WebsiteHostname string
	// AppInsightsConnectionString はApplication Insightsの接続文字列。
	AppInsightsConnectionString string
	// OTLPEndpoint はOTLPトレースの送信先。
	OTLPEndpoint string

	// ChatRequestTimeout は非ストリーミングのチャットリクエストの上限時間。
	ChatRequestTimeout time.Duration
	// ServerReadTimeout はリクエストの読み込みの上限時間。
	ServerReadTimeout time.Duration
	// ServerWriteTimeout はレスポンスの書き込みの上限時間。ストリーミング中は解除する。
	ServerWriteTimeout time.Duration
	// ShutdownTimeout はグレースフルシャットダウンの上限時間。
	ShutdownTimeout time.Duration
}

// defaults は環境変数が設定されていない場合の値。
var defaults = map[string]any{
	"port":                     "8080",
	"data_chat_base_path":      "/",
	"static_dir":               "static",
	"openai_host":              HostAzure,
	"azure_openai_api_version": "2024-06-01",
	"azure_use_authentication": false,
	"azure_authority_host":     "https://login.microsoftonline.com",
	"chat_request_timeout":     2 * time.Minute,
	"server_read_timeout":      30 * time.Second,
	"server_write_timeout":     2*time.Minute + 30*time.Second,
	"shutdown_timeout":         10 * time.Second,
}

// keys は読み込む環境変数。viperのキーは小文字で、環境変数名は大文字になる。
var keys = []string{
	"port", "data_chat_base_path", "static_dir",
	"openai_host", "azure_openai_chatgpt_model", "azure_openai_endpoint",
	"azure_openai_chatgpt_deployment", "azure_openai_api_key", "azure_openai_api_version",
	"openai_api_key", "openai_organization",
	"azure_use_authentication", "azure_server_app_id", "azure_server_app_secret",
	"azure_client_app_id", "azure_tenant_id", "azure_client_id", "azure_client_secret",
	"azure_authority_host",
	"token_cache_path", "redis_addr", "redis_password",
	"approach_url", "allowed_origin",
	"app_log_level", "website_hostname", "applicationinsights_connection_string",
	"otel_exporter_otlp_endpoint",
	"chat_request_timeout", "server_read_timeout", "server_write_timeout", "shutdown_timeout",
}

// Load は環境変数から設定を読み込んで検証する。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("環境変数 %s の登録に失敗: %w", strings.ToUpper(k), err)
		}
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		Port:      v.GetString("port"),
		BasePath:  v.GetString("data_chat_base_path"),
		StaticDir: v.GetString("static_dir"),

		OpenAIHost:            strings.ToLower(v.GetString("openai_host")),
		ChatModel:             v.GetString("azure_openai_chatgpt_model"),
		AzureOpenAIEndpoint:   v.GetString("azure_openai_endpoint"),
		AzureOpenAIDeployment: v.GetString("azure_openai_chatgpt_deployment"),
		AzureOpenAIAPIKey:     v.GetString("azure_openai_api_key"),
		AzureOpenAIAPIVersion: v.GetString("azure_openai_api_version"),
		OpenAIAPIKey:          v.GetString("openai_api_key"),
		OpenAIOrganization:    v.GetString("openai_organization"),

		UseAuthentication: v.GetBool("azure_use_authentication"),
		ServerAppID:       v.GetString("azure_server_app_id"),
		ServerAppSecret:   v.GetString("azure_server_app_secret"),
		ClientAppID:       v.GetString("azure_client_app_id"),
		TenantID:          v.GetString("azure_tenant_id"),
		ClientID:          v.GetString("azure_client_id"),
		ClientSecret:      v.GetString("azure_client_secret"),
		AuthorityHost:     v.GetString("azure_authority_host"),

		TokenCachePath: v.GetString("token_cache_path"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),

		ApproachURL:    strings.TrimSuffix(v.GetString("approach_url"), "/"),
		AllowedOrigins: splitList(v.GetString("allowed_origin")),

		LogLevel:                    v.GetString("app_log_level"),
		WebsiteHostname:             v.GetString("website_hostname"),
		AppInsightsConnectionString: v.GetString("applicationinsights_connection_string"),
		OTLPEndpoint:                v.GetString("otel_exporter_otlp_endpoint"),

		ChatRequestTimeout: v.GetDuration("chat_request_timeout"),
		ServerReadTimeout:  v.GetDuration("server_read_timeout"),
		ServerWriteTimeout: v.GetDuration("server_write_timeout"),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定の組み合わせを検証する。
func (c *Config) Validate() error {
	var errs []error

	switch c.OpenAIHost {
	case HostAzure, HostOpenAI:
	default:
		errs = append(errs, fmt.Errorf("OPENAI_HOST は %q または %q である必要があります: %q", HostAzure, HostOpenAI, c.OpenAIHost))
	}

	if c.ApproachURL == "" {
		switch {
		case c.OpenAIHost == HostAzure && (c.AzureOpenAIEndpoint == "" || c.AzureOpenAIDeployment == ""):
			errs = append(errs, errors.New("APPROACH_URL が未設定の場合は AZURE_OPENAI_ENDPOINT と AZURE_OPENAI_CHATGPT_DEPLOYMENT が必要です"))
		case c.OpenAIHost == HostOpenAI && c.OpenAIAPIKey == "":
			errs = append(errs, errors.New("APPROACH_URL が未設定の場合は OPENAI_API_KEY が必要です"))
		}
	}

	if c.UsesDelegatedIdentity() && (c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "") {
		errs = append(errs, errors.New("AZURE_OPENAI_API_KEY が未設定の場合は AZURE_TENANT_ID、AZURE_CLIENT_ID、AZURE_CLIENT_SECRET が必要です"))
	}

	if c.ChatRequestTimeout <= 0 {
		errs = append(errs, errors.New("CHAT_REQUEST_TIMEOUT は正の値である必要があります"))
	}
	return errors.Join(errs...)
}

// UsesDelegatedIdentity はAzure ADのベアラートークンでAzure OpenAIを呼び出すかどうかを返す。
// Azureを使い、APIキーが設定されていない場合にtrueになる。
func (c *Config) UsesDelegatedIdentity() bool {
	return c.OpenAIHost == HostAzure && c.AzureOpenAIAPIKey == ""
}

// Production は本番環境（App Service）で動いているかどうかを返す。
func (c *Config) Production() bool {
	return c.WebsiteHostname != ""
}

// TelemetryEnabled はトレースを有効にするかどうかを返す。
func (c *Config) TelemetryEnabled() bool {
	return c.AppInsightsConnectionString != "" || c.OTLPEndpoint != ""
}

// splitList はカンマ区切りの値を分割し、空要素を除いて返す。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
