package credential

import (
	"context"
	"time"
)

// RefreshMargin はトークンの有効期限に対する安全マージン。
// 残り時間がこれを下回るトークンは使用せずに更新する。
const RefreshMargin = 60 * time.Second

// Token はアイデンティティプロバイダが発行したベアラートークン。
type Token struct {
	// Value はAuthorizationヘッダーに設定するトークン文字列。
	Value string `json:"value"`
	// ExpiresOn は有効期限（Unix秒）。
	ExpiresOn int64 `json:"expires_on"`
}

// IsZero はトークンが未取得かどうかを返す。
func (t Token) IsZero() bool {
	return t.Value == ""
}

// ExpiresAt は有効期限をtime.Timeで返す。
func (t Token) ExpiresAt() time.Time {
	return time.Unix(t.ExpiresOn, 0)
}

// Fresh はnow時点でトークンを使用してよいかを返す。
// 有効期限までRefreshMargin以上残っている場合のみtrue。
func (t Token) Fresh(now time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.ExpiresAt().Before(now.Add(RefreshMargin))
}

// tokenContextKey はコンテキストにトークンを格納するためのキー。
type tokenContextKey struct{}

// NewContext はトークンを格納したコンテキストを返す。
// ゲートウェイが更新済みのトークンをApproachに渡すために使用する。
func NewContext(ctx context.Context, token Token) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// FromContext はコンテキストからトークンを取り出す。
func FromContext(ctx context.Context) (Token, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(Token)
	if !ok || token.IsZero() {
		return Token{}, false
	}
	return token, true
}
