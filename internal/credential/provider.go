package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrAuthProvider はアイデンティティプロバイダからトークンを取得できなかったことを表す。
var ErrAuthProvider = errors.New("アイデンティティプロバイダからのトークン取得に失敗")

// CognitiveServicesScope はAzure OpenAI呼び出し用トークンのスコープ。
const CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// DefaultAuthorityHost はMicrosoft Entra IDのデフォルトの認証ホスト。
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// defaultTokenLifetime はプロバイダが有効期限を返さなかった場合に仮定する有効期間。
const defaultTokenLifetime = time.Hour

// Provider はスコープを指定してトークンを発行するアイデンティティプロバイダ。
type Provider interface {
	Token(ctx context.Context, scope string) (Token, error)
}

// ProviderFunc は関数をProviderとして扱うためのアダプタ。
type ProviderFunc func(ctx context.Context, scope string) (Token, error)

// Token はf(ctx, scope)を呼び出す。
func (f ProviderFunc) Token(ctx context.Context, scope string) (Token, error) {
	return f(ctx, scope)
}

// ClientCredentialsConfig はクライアントクレデンシャルフローの設定。
type ClientCredentialsConfig struct {
	// TenantID はEntra IDのテナントID。
	TenantID string
	// ClientID はアプリケーション（クライアント）ID。
	ClientID string
	// ClientSecret はクライアントシークレット。
	ClientSecret string
	// AuthorityHost は認証ホスト。空の場合はDefaultAuthorityHost。
	AuthorityHost string
	// HTTPClient はトークンエンドポイントの呼び出しに使うクライアント。nilの場合はデフォルト。
	HTTPClient *http.Client
}

// ClientCredentialsProvider はOAuth2クライアントクレデンシャルフローでトークンを取得する。
type ClientCredentialsProvider struct {
	// cfg はフローの設定。
	cfg ClientCredentialsConfig
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewClientCredentialsProvider は新しいClientCredentialsProviderを生成する。
func NewClientCredentialsProvider(cfg ClientCredentialsConfig) *ClientCredentialsProvider {
	if cfg.AuthorityHost == "" {
		cfg.AuthorityHost = DefaultAuthorityHost
	}
	return &ClientCredentialsProvider{cfg: cfg, now: time.Now}
}

// TokenURL はトークンエンドポイントのURLを返す。
func (p *ClientCredentialsProvider) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(p.cfg.AuthorityHost, "/"), p.cfg.TenantID)
}

// Token はscopeに対するアクセストークンを取得する。
func (p *ClientCredentialsProvider) Token(ctx context.Context, scope string) (Token, error) {
	cc := clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     p.TokenURL(),
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if p.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrAuthProvider, err)
	}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: 空のアクセストークンが返されました", ErrAuthProvider)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = p.now().Add(defaultTokenLifetime)
	}
	return Token{Value: tok.AccessToken, ExpiresOn: expiry.Unix()}, nil
}
