// Package httpclient は下流サービスとのHTTP通信を行うクライアントを提供する。
//
// ゲートウェイがアプローチサービスを呼び出す際に使用する。
// 単発のJSON応答と、NDJSONのような逐次応答の両方を扱い、
// ベアラートークンとリクエストIDをコンテキストから伝播する。
package httpclient
