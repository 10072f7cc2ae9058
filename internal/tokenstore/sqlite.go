package tokenstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore はSQLiteファイルにトークンを保存する。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite はpathのSQLiteファイルを開き、マイグレーションを適用する。
// 親ディレクトリが存在しない場合は作成する。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("トークンキャッシュのディレクトリ作成に失敗: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("トークンキャッシュを開けません: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Load はscopeのトークンを取得する。
func (s *SQLiteStore) Load(ctx context.Context, scope string) (credential.Token, bool, error) {
	var tok credential.Token
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_on FROM bearer_tokens WHERE scope = ?", scope,
	).Scan(&tok.Value, &tok.ExpiresOn)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Token{}, false, nil
	}
	if err != nil {
		return credential.Token{}, false, fmt.Errorf("トークンの読み込みに失敗: %w", err)
	}
	return tok, true, nil
}

// Save はscopeのトークンを上書き保存する。
func (s *SQLiteStore) Save(ctx context.Context, scope string, tok credential.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bearer_tokens (scope, value, expires_on, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(scope) DO UPDATE SET
			value = excluded.value,
			expires_on = excluded.expires_on,
			updated_at = excluded.updated_at
	`, scope, tok.Value, tok.ExpiresOn)
	if err != nil {
		return fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
