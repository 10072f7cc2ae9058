// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// リクエストIDの付与、リクエストログ、パニックリカバリ、
// CORS設定など、ゲートウェイの全ルートで共通して使用するミドルウェアを含む。
package middleware
