// Package credential はモデルバックエンドの呼び出しに使うベアラートークンを管理する。
//
// Cacheは常に1つのトークンだけを保持し、有効期限の60秒前を過ぎたトークンは
// 使用前に同期的に更新する。同時に複数のリクエストが更新を要求した場合は
// 1回のプロバイダ呼び出しにまとめる。APIキーで認証するモードでは何もしない。
package credential
