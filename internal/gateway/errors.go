package gateway

import "errors"

var (
	// ErrMalformedRequest は/chatのリクエストがJSONでない、またはチャットリクエストの形をしていないことを表す。
	ErrMalformedRequest = errors.New("request must be json")
	// ErrDownstreamApproach はアプローチの呼び出しに失敗したことを表す。
	ErrDownstreamApproach = errors.New("アプローチの呼び出しに失敗しました")
	// ErrUnknownResult はアプローチが未知の種類の結果を返したことを表す。
	ErrUnknownResult = errors.New("アプローチが未知の種類の結果を返しました")
)
