package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// DefaultAuthorityHost はテナントのauthority URLを組み立てる既定のホスト。
const DefaultAuthorityHost = "https://login.microsoftonline.com"

var (
	// ErrMissingToken はAuthorizationヘッダーが無いことを表す。
	ErrMissingToken = errors.New("Authorizationヘッダーが必要です")
	// ErrMalformedToken はAuthorizationヘッダーがBearer形式でないことを表す。
	ErrMalformedToken = errors.New("Bearer トークン形式が不正です")
	// ErrNoSecret は検証に使う鍵が設定されていないことを表す。
	ErrNoSecret = errors.New("サーバーアプリのシークレットが設定されていません")
)

// Config はHelperの設定。
type Config struct {
	// Enabled はユーザー認証を有効にするかどうか。
	Enabled bool
	// ServerAppID はAPIを公開するサーバーアプリのID。トークンのaudienceとして検証する。
	ServerAppID string
	// ServerAppSecret はトークンの署名検証に使うシークレット。
	ServerAppSecret string
	// ClientAppID はフロントエンドのアプリID。
	ClientAppID string
	// TenantID はAzure ADのテナントID。
	TenantID string
	// AuthorityHost はauthority URLのホスト。空の場合はDefaultAuthorityHost。
	AuthorityHost string
}

// Claims はアクセストークンから取り出すクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// ObjectID はユーザーのオブジェクトID。
	ObjectID string `json:"oid"`
	// Groups はユーザーが所属するグループID。
	Groups []string `json:"groups"`
}

// Helper はユーザー認証の補助を行う。
type Helper struct {
	cfg Config
}

// NewHelper はHelperを生成する。
func NewHelper(cfg Config) *Helper {
	if cfg.AuthorityHost == "" {
		cfg.AuthorityHost = DefaultAuthorityHost
	}
	cfg.AuthorityHost = strings.TrimSuffix(cfg.AuthorityHost, "/")
	return &Helper{cfg: cfg}
}

// Enabled はユーザー認証が有効かどうかを返す。
func (h *Helper) Enabled() bool {
	return h.cfg.Enabled
}

// AuthClaimsIfEnabled は認証が有効な場合にリクエストヘッダーからクレームを取り出す。
// 戻り値は{"oid": ..., "groups": [...]}の形をしたマップ。
// 認証が無効な場合や検証に失敗した場合は空のマップを返す。失敗はログに記録する。
func (h *Helper) AuthClaimsIfEnabled(ctx context.Context, header http.Header) map[string]any {
	if !h.cfg.Enabled {
		return map[string]any{}
	}

	claims, err := h.ParseClaims(header)
	if err != nil {
		log.WithContext(ctx).WithError(err).Warn("認証クレームの取得に失敗しました")
		return map[string]any{}
	}

	groups := claims.Groups
	if groups == nil {
		groups = []string{}
	}
	return map[string]any{
		"oid":    claims.ObjectID,
		"groups": groups,
	}
}

// ParseClaims はAuthorizationヘッダーのベアラートークンを検証してクレームを返す。
func (h *Helper) ParseClaims(header http.Header) (*Claims, error) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return nil, ErrMissingToken
	}
	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		return nil, ErrMalformedToken
	}
	if h.cfg.ServerAppSecret == "" {
		return nil, ErrNoSecret
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if h.cfg.ServerAppID != "" {
		opts = append(opts, jwt.WithAudience(h.cfg.ServerAppID))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(h.cfg.ServerAppSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("トークンが無効です: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	return claims, nil
}

// Authority はテナントのauthority URLを返す。
func (h *Helper) Authority() string {
	return h.cfg.AuthorityHost + "/" + h.cfg.TenantID
}

// AuthSetupForClient はフロントエンドのMSAL.jsに渡す設定を返す。
func (h *Helper) AuthSetupForClient() map[string]any {
	return map[string]any{
		"useLogin": h.cfg.Enabled,
		"msalConfig": map[string]any{
			"auth": map[string]any{
				"clientId":                  h.cfg.ClientAppID,
				"authority":                 h.Authority(),
				"redirectUri":               "/redirect",
				"postLogoutRedirectUri":     "/",
				"navigateToLoginRequestUrl": false,
			},
			"cache": map[string]any{
				"cacheLocation":          "sessionStorage",
				"storeAuthStateInCookie": false,
			},
		},
		"loginRequest": map[string]any{
			"scopes": []string{".default"},
		},
		"tokenRequest": map[string]any{
			"scopes": []string{fmt.Sprintf("api://%s/access_as_user", h.cfg.ServerAppID)},
		},
	}
}
