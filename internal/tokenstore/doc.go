// Package tokenstore はAzure ADから取得したベアラートークンの永続化先を提供する。
//
// SQLiteStoreはローカルファイル(TOKEN_CACHE_PATH)に、RedisStoreは
// 複数インスタンス間で共有するRedisにトークンを保存する。
// どちらもcredential.Storeを満たす。
package tokenstore
