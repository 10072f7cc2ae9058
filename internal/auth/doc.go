// Package auth はチャットUIのログインに関わる処理を提供する。
//
// Helperは2つの役割を持つ。
//   - リクエストのAuthorizationヘッダーからユーザーのクレームを取り出し、
//     アプローチへ渡すコンテキストに含める。
//   - フロントエンドのMSAL.jsが使う設定ドキュメントを組み立てる。
//
// 認証が無効な場合、クレームは常に空になる。
package auth
