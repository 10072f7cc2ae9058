// Package migration はSQLiteデータベースのマイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、バージョン管理テーブルで適用状態を追跡する。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// upSuffix は適用対象となるマイグレーションファイルの拡張子。
const upSuffix = ".up.sql"

// File はマイグレーションファイル1つ分の情報。
type File struct {
	// Version はファイル名先頭の連番。
	Version int
	// Name はファイル名のバージョン以降の説明部分。
	Name string
	// Path はfs.FS内のパス。
	Path string
}

// Run はembedされたマイグレーションファイルを順序通りに適用する。
// 未適用のマイグレーションのみ実行し、適用済みのものはスキップする。
// ファイル名形式: 000001_description.up.sql
// 適用したマイグレーションの数を返す。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) (int, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	files, err := Collect(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	count := 0
	for _, f := range files {
		if applied[f.Version] {
			continue
		}
		if err := apply(ctx, db, fsys, f); err != nil {
			return count, fmt.Errorf("マイグレーション %06d の適用に失敗: %w", f.Version, err)
		}
		count++
		log.WithFields(log.Fields{
			"version": f.Version,
			"name":    f.Name,
		}).Info("マイグレーションを適用しました")
	}
	return count, nil
}

// Collect はディレクトリからup.sqlファイルを収集してバージョン順に返す。
// 命名規則に合わないファイルは無視する。同じバージョンが複数ある場合はエラー。
func Collect(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string)
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}

		prefix, rest, found := strings.Cut(entry.Name(), "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("バージョン %06d が重複しています: %s, %s", version, other, entry.Name())
		}
		seen[version] = entry.Name()

		files = append(files, File{
			Version: version,
			Name:    strings.TrimSuffix(rest, upSuffix),
			Path:    path.Join(dir, entry.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})
	return files, nil
}

// ensureMigrationsTable はバージョン管理テーブルを作成する。
func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// appliedVersions は適用済みのマイグレーションバージョンを取得する。
func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply は1つのマイグレーションをトランザクション内で適用する。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, f File) error {
	content, err := fs.ReadFile(fsys, f.Path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", f.Version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
