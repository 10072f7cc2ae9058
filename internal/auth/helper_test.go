package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// testServerAppID はテスト用のサーバーアプリID。
const testServerAppID = "server-app-id"

// signToken はテスト用にクレームへ署名したトークンを生成する。
func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// validClaims はテスト用の有効なクレームを返す。
func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{testServerAppID},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ObjectID: "user-oid",
		Groups:   []string{"g1", "g2"},
	}
}

// bearer はAuthorizationヘッダーを持つhttp.Headerを返す。
func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// enabledHelper は認証を有効にしたHelperを返す。
func enabledHelper() *Helper {
	return NewHelper(Config{
		Enabled:         true,
		ServerAppID:     testServerAppID,
		ServerAppSecret: testSecret,
		ClientAppID:     "client-app-id",
		TenantID:        "tenant-id",
	})
}

// TestAuthClaimsIfEnabled はAuthClaimsIfEnabledを検証する。
func TestAuthClaimsIfEnabled(t *testing.T) {
	t.Parallel()

	t.Run("認証が無効な場合は空のマップを返すこと", func(t *testing.T) {
		t.Parallel()

		h := NewHelper(Config{ServerAppSecret: testSecret})
		token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

		got := h.AuthClaimsIfEnabled(context.Background(), bearer(token))
		if len(got) != 0 {
			t.Errorf("got = %v, want empty", got)
		}
	})

	t.Run("有効なトークンからoidとgroupsを取り出せること", func(t *testing.T) {
		t.Parallel()

		token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())
		got := enabledHelper().AuthClaimsIfEnabled(context.Background(), bearer(token))

		if got["oid"] != "user-oid" {
			t.Errorf("oid = %v, want %q", got["oid"], "user-oid")
		}
		groups, ok := got["groups"].([]string)
		if !ok || len(groups) != 2 || groups[0] != "g1" || groups[1] != "g2" {
			t.Errorf("groups = %v, want [g1 g2]", got["groups"])
		}
	})

	t.Run("groupsが無いトークンでは空のスライスになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims.Groups = nil
		token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
		got := enabledHelper().AuthClaimsIfEnabled(context.Background(), bearer(token))

		groups, ok := got["groups"].([]string)
		if !ok || groups == nil || len(groups) != 0 {
			t.Errorf("groups = %#v, want empty slice", got["groups"])
		}
	})

	tests := []struct {
		name   string
		header func(t *testing.T) http.Header
	}{
		{
			name:   "Authorizationヘッダーが無い場合",
			header: func(*testing.T) http.Header { return http.Header{} },
		},
		{
			name: "Bearer形式でない場合",
			header: func(*testing.T) http.Header {
				h := http.Header{}
				h.Set("Authorization", "Basic dXNlcjpwYXNz")
				return h
			},
		},
		{
			name: "署名が一致しない場合",
			header: func(t *testing.T) http.Header {
				return bearer(signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), validClaims()))
			},
		},
		{
			name: "audienceが一致しない場合",
			header: func(t *testing.T) http.Header {
				claims := validClaims()
				claims.Audience = jwt.ClaimStrings{"someone-else"}
				return bearer(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
			},
		},
		{
			name: "有効期限切れの場合",
			header: func(t *testing.T) http.Header {
				claims := validClaims()
				claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
				return bearer(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
			},
		},
		{
			name: "HS256以外のアルゴリズムの場合",
			header: func(t *testing.T) http.Header {
				return bearer(signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()))
			},
		},
		{
			name:   "トークンが壊れている場合",
			header: func(*testing.T) http.Header { return bearer("not.a.jwt") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+"は空のマップを返すこと", func(t *testing.T) {
			t.Parallel()

			got := enabledHelper().AuthClaimsIfEnabled(context.Background(), tt.header(t))
			if len(got) != 0 {
				t.Errorf("got = %v, want empty", got)
			}
		})
	}

	t.Run("シークレット未設定の場合は空のマップを返すこと", func(t *testing.T) {
		t.Parallel()

		h := NewHelper(Config{Enabled: true})
		token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())
		if got := h.AuthClaimsIfEnabled(context.Background(), bearer(token)); len(got) != 0 {
			t.Errorf("got = %v, want empty", got)
		}
	})
}

// TestParseClaims はParseClaimsのエラー種別を検証する。
func TestParseClaims(t *testing.T) {
	t.Parallel()

	t.Run("ヘッダーが無い場合はErrMissingTokenを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, err := enabledHelper().ParseClaims(http.Header{}); err != ErrMissingToken {
			t.Errorf("err = %v, want %v", err, ErrMissingToken)
		}
	})

	t.Run("Bearerの後が空の場合はErrMalformedTokenを返すこと", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set("Authorization", "Bearer ")
		if _, err := enabledHelper().ParseClaims(h); err != ErrMalformedToken {
			t.Errorf("err = %v, want %v", err, ErrMalformedToken)
		}
	})

	t.Run("サーバーアプリIDが未設定の場合はaudienceを検証しないこと", func(t *testing.T) {
		t.Parallel()

		h := NewHelper(Config{Enabled: true, ServerAppSecret: testSecret})
		claims := validClaims()
		claims.Audience = nil
		got, err := h.ParseClaims(bearer(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)))
		if err != nil {
			t.Fatalf("ParseClaims()でエラーが発生: %v", err)
		}
		if got.ObjectID != "user-oid" {
			t.Errorf("ObjectID = %q, want %q", got.ObjectID, "user-oid")
		}
	})
}

// TestAuthSetupForClient はAuthSetupForClientを検証する。
func TestAuthSetupForClient(t *testing.T) {
	t.Parallel()

	t.Run("MSAL設定が組み立てられること", func(t *testing.T) {
		t.Parallel()

		got := enabledHelper().AuthSetupForClient()

		if got["useLogin"] != true {
			t.Errorf("useLogin = %v, want true", got["useLogin"])
		}
		msal, _ := got["msalConfig"].(map[string]any)
		authCfg, _ := msal["auth"].(map[string]any)
		if authCfg["clientId"] != "client-app-id" {
			t.Errorf("clientId = %v", authCfg["clientId"])
		}
		if authCfg["authority"] != "https://login.microsoftonline.com/tenant-id" {
			t.Errorf("authority = %v", authCfg["authority"])
		}
		if authCfg["redirectUri"] != "/redirect" {
			t.Errorf("redirectUri = %v", authCfg["redirectUri"])
		}
		tokenReq, _ := got["tokenRequest"].(map[string]any)
		scopes, _ := tokenReq["scopes"].([]string)
		if len(scopes) != 1 || scopes[0] != "api://server-app-id/access_as_user" {
			t.Errorf("tokenRequest.scopes = %v", tokenReq["scopes"])
		}
	})

	t.Run("認証が無効な場合はuseLoginがfalseになること", func(t *testing.T) {
		t.Parallel()

		got := NewHelper(Config{}).AuthSetupForClient()
		if got["useLogin"] != false {
			t.Errorf("useLogin = %v, want false", got["useLogin"])
		}
	})

	t.Run("authorityホストの末尾スラッシュが除去されること", func(t *testing.T) {
		t.Parallel()

		h := NewHelper(Config{TenantID: "t", AuthorityHost: "https://login.example.com/"})
		if got := h.Authority(); got != "https://login.example.com/t" {
			t.Errorf("Authority() = %q", got)
		}
	})
}
