package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// defaultRefreshTimeout はトークン更新1回あたりの上限時間。
const defaultRefreshTimeout = 30 * time.Second

// Store は現在のトークンを永続化する保存先。
// プロセス再起動時や複数インスタンス間でトークンを再利用するために使う。
type Store interface {
	// Load はscopeに対応するトークンを取得する。存在しない場合はfalseを返す。
	Load(ctx context.Context, scope string) (Token, bool, error)
	// Save はscopeに対応するトークンを保存する。
	Save(ctx context.Context, scope string, token Token) error
}

// Cache は現在有効な1つのベアラートークンを保持する。
// ゼロ値は使用できない。NewCacheまたはNewPassthroughで生成すること。
type Cache struct {
	// provider はトークンの発行元。nilの場合はパススルーとして動作する。
	provider Provider
	// scope は要求するトークンのスコープ。
	scope string
	// store はトークンの永続化先。nilの場合は永続化しない。
	store Store
	// now は現在時刻を返す関数。
	now func() time.Time
	// refreshTimeout はトークン更新1回あたりの上限時間。
	refreshTimeout time.Duration

	// mu はtokenへの並行アクセスを保護する。
	mu sync.RWMutex
	// token は現在のトークン。
	token Token
	// group は同時に発生した更新を1回にまとめる。
	group singleflight.Group
}

// Option はCacheの設定を変更する。
type Option func(*Cache)

// WithStore はトークンの永続化先を設定する。
func WithStore(store Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithClock は現在時刻を返す関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithRefreshTimeout はトークン更新1回あたりの上限時間を設定する。
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// NewCache はproviderからscopeのトークンを取得するCacheを生成する。
// トークンは最初のEnsureFresh呼び出しまで取得しない。
func NewCache(provider Provider, scope string, opts ...Option) *Cache {
	c := &Cache{
		provider:       provider,
		scope:          scope,
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewPassthrough はAPIキー認証用の何もしないCacheを生成する。
func NewPassthrough() *Cache {
	return NewCache(nil, "")
}

// Enabled はトークンの管理が有効かどうかを返す。
func (c *Cache) Enabled() bool {
	return c.provider != nil
}

// Current は現在保持しているトークンを返す。有効期限は確認しない。
func (c *Cache) Current() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// EnsureFresh は有効なトークンを返す。
// トークンが未取得または有効期限まで60秒を切っている場合は同期的に更新する。
// パススルーの場合はゼロ値のトークンとnilを返す。
func (c *Cache) EnsureFresh(ctx context.Context) (Token, error) {
	if !c.Enabled() {
		return Token{}, nil
	}
	if tok := c.Current(); tok.Fresh(c.now()) {
		return tok, nil
	}

	// 呼び出し元がキャンセルされても、まとめられた他の呼び出しのために更新は続ける
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.scope, func() (any, error) {
		return c.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return Token{}, fmt.Errorf("%w: %w", ErrAuthProvider, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		tok, ok := res.Val.(Token)
		if !ok {
			return Token{}, fmt.Errorf("%w: 更新結果の型が不正です: %T", ErrAuthProvider, res.Val)
		}
		return tok, nil
	}
}

// refresh はトークンを取得して保持する。
// 永続化先に有効なトークンがあればプロバイダを呼び出さずにそれを使う。
func (c *Cache) refresh(ctx context.Context) (Token, error) {
	if tok := c.Current(); tok.Fresh(c.now()) {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	if tok, ok := c.loadStored(ctx); ok {
		c.set(tok)
		return tok, nil
	}

	tok, err := c.provider.Token(ctx, c.scope)
	if err != nil {
		if !errors.Is(err, ErrAuthProvider) {
			err = fmt.Errorf("%w: %w", ErrAuthProvider, err)
		}
		return Token{}, err
	}
	if tok.IsZero() {
		return Token{}, fmt.Errorf("%w: 空のトークンが返されました", ErrAuthProvider)
	}
	if !tok.Fresh(c.now()) {
		return Token{}, fmt.Errorf("%w: 有効期限が近すぎるトークンが返されました (expires_on=%d)", ErrAuthProvider, tok.ExpiresOn)
	}

	c.set(tok)
	log.WithFields(log.Fields{
		"scope":      c.scope,
		"expires_at": tok.ExpiresAt().UTC().Format(time.RFC3339),
	}).Info("ベアラートークンを更新しました")

	if c.store != nil {
		if err := c.store.Save(ctx, c.scope, tok); err != nil {
			log.WithError(err).WithField("scope", c.scope).Warn("トークンの永続化に失敗しました")
		}
	}
	return tok, nil
}

// loadStored は永続化先から有効なトークンを読み込む。
// 読み込みの失敗はリクエストを失敗させず、プロバイダからの取得に切り替える。
func (c *Cache) loadStored(ctx context.Context) (Token, bool) {
	if c.store == nil {
		return Token{}, false
	}
	tok, ok, err := c.store.Load(ctx, c.scope)
	if err != nil {
		log.WithError(err).WithField("scope", c.scope).Warn("永続化されたトークンの読み込みに失敗しました")
		return Token{}, false
	}
	if !ok || !tok.Fresh(c.now()) {
		return Token{}, false
	}
	return tok, true
}

// set は現在のトークンを置き換える。
func (c *Cache) set(tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}
