// Package relay はApproachが生成するイベント列をNDJSONストリームに変換して送信する。
//
// イベントは生成された順に1行ずつ書き込まれ、行ごとにフラッシュされる。
// 中継はイベントの内容を解釈せず、重複排除や途中終了も行わない。
// クライアントの切断（コンテキストのキャンセル）を検知した時点で
// イベント列の消費を止め、生成側のリソースを解放させる。
package relay
