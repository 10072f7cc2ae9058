package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/datachat/internal/credential"
)

// KeyPrefix はRedisに保存するキーの接頭辞。
const KeyPrefix = "datachat:token:"

// RedisStore はRedisにトークンを保存する。
// キーの有効期限はトークンの残り有効期間に合わせる。
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore はRedisStoreを作成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// DialRedis はaddrのRedisに接続し、疎通を確認したうえでRedisStoreを返す。
func DialRedis(ctx context.Context, addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisに接続できません: %w", err)
	}
	return NewRedisStore(client), nil
}

// Load はscopeのトークンを取得する。
func (s *RedisStore) Load(ctx context.Context, scope string) (credential.Token, bool, error) {
	data, err := s.client.Get(ctx, KeyPrefix+scope).Bytes()
	if errors.Is(err, redis.Nil) {
		return credential.Token{}, false, nil
	}
	if err != nil {
		return credential.Token{}, false, fmt.Errorf("トークンの読み込みに失敗: %w", err)
	}

	var tok credential.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return credential.Token{}, false, fmt.Errorf("トークンのデコードに失敗: %w", err)
	}
	return tok, true, nil
}

// Save はscopeのトークンを保存する。期限切れのトークンは保存しない。
func (s *RedisStore) Save(ctx context.Context, scope string, tok credential.Token) error {
	ttl := tok.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("トークンのエンコードに失敗: %w", err)
	}
	if err := s.client.Set(ctx, KeyPrefix+scope, data, ttl).Err(); err != nil {
		return fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	return nil
}

// Close はRedis接続を閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
