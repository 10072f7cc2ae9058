// Package gateway はチャットゲートウェイのHTTPサーバーを提供する。
//
// フロントエンドの静的ファイルと設定用のエンドポイントを配信し、
// POST /chat をアプローチへ中継する。/chat の処理は次の順で進む。
//
//  1. リクエストがJSONであることを検証する（不正なら415）。
//  2. Authorizationヘッダーから認証クレームを取り出しcontext.auth_claimsに入れる。
//  3. Azure ADのベアラートークンが有効期限間近なら同期的に更新する。
//  4. アプローチを呼び出し、単発の応答はJSON、逐次の応答はNDJSONで返す。
//
// 失敗は全てログに記録し、{"error": メッセージ} の形で返す。
package gateway
