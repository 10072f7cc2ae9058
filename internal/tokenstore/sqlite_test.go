package tokenstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nao1215/datachat/internal/credential"
)

// setupSQLite はテスト用のSQLiteStoreを一時ディレクトリに作成する。
func setupSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache", "token.db")
	store, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

// TestSQLiteStore はSQLiteStoreの保存と読み込みを検証する。
func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	const scope = credential.CognitiveServicesScope

	t.Run("保存前は見つからないこと", func(t *testing.T) {
		t.Parallel()

		store, _ := setupSQLite(t)
		_, ok, err := store.Load(context.Background(), scope)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if ok {
			t.Error("保存前にトークンが見つかった")
		}
	})

	t.Run("保存したトークンを読み込めること", func(t *testing.T) {
		t.Parallel()

		store, _ := setupSQLite(t)
		want := credential.Token{Value: "tok-1", ExpiresOn: 1_900_000_000}
		if err := store.Save(context.Background(), scope, want); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}

		got, ok, err := store.Load(context.Background(), scope)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if !ok {
			t.Fatal("保存したトークンが見つからない")
		}
		if got != want {
			t.Errorf("got = %+v, want %+v", got, want)
		}
	})

	t.Run("同じスコープへの保存は上書きされること", func(t *testing.T) {
		t.Parallel()

		store, _ := setupSQLite(t)
		ctx := context.Background()
		if err := store.Save(ctx, scope, credential.Token{Value: "old", ExpiresOn: 100}); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}
		want := credential.Token{Value: "new", ExpiresOn: 200}
		if err := store.Save(ctx, scope, want); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}

		got, _, err := store.Load(ctx, scope)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if got != want {
			t.Errorf("got = %+v, want %+v", got, want)
		}
	})

	t.Run("スコープごとに独立して保存されること", func(t *testing.T) {
		t.Parallel()

		store, _ := setupSQLite(t)
		ctx := context.Background()
		if err := store.Save(ctx, "scope-a", credential.Token{Value: "a", ExpiresOn: 1}); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}
		if _, ok, _ := store.Load(ctx, "scope-b"); ok {
			t.Error("別スコープのトークンが見つかった")
		}
	})

	t.Run("再オープン後もトークンが残っていること", func(t *testing.T) {
		t.Parallel()

		store, path := setupSQLite(t)
		want := credential.Token{Value: "persisted", ExpiresOn: 1_900_000_000}
		if err := store.Save(context.Background(), scope, want); err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		reopened, err := OpenSQLite(context.Background(), path)
		if err != nil {
			t.Fatalf("OpenSQLite()でエラーが発生: %v", err)
		}
		defer func() { _ = reopened.Close() }()

		got, ok, err := reopened.Load(context.Background(), scope)
		if err != nil || !ok {
			t.Fatalf("Load() = %v, %v", ok, err)
		}
		if got != want {
			t.Errorf("got = %+v, want %+v", got, want)
		}
	})
}

// TestSQLiteStoreWithCache はSQLiteStoreがcredential.Cacheの保存先として機能することを検証する。
func TestSQLiteStoreWithCache(t *testing.T) {
	t.Parallel()

	store, _ := setupSQLite(t)
	ctx := context.Background()
	stored := credential.Token{Value: "from-disk", ExpiresOn: 4_000_000_000}
	if err := store.Save(ctx, credential.CognitiveServicesScope, stored); err != nil {
		t.Fatalf("Save()でエラーが発生: %v", err)
	}

	calls := 0
	provider := credential.ProviderFunc(func(context.Context, string) (credential.Token, error) {
		calls++
		return credential.Token{Value: "from-provider", ExpiresOn: 4_000_000_000}, nil
	})
	cache := credential.NewCache(provider, credential.CognitiveServicesScope, credential.WithStore(store))

	tok, err := cache.EnsureFresh(ctx)
	if err != nil {
		t.Fatalf("EnsureFresh()でエラーが発生: %v", err)
	}
	if tok != stored {
		t.Errorf("got = %+v, want %+v", tok, stored)
	}
	if calls != 0 {
		t.Errorf("有効な保存済みトークンがあるのにプロバイダーが%d回呼ばれた", calls)
	}
}
