package event

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// New はイベント固有のデータ構造体からEventを生成する。
// dataはJSONオブジェクトにシリアライズできる必要がある。
func New(data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("イベントデータがJSONオブジェクトではありません: %w", err)
	}
	return e, nil
}

// DecodeData はEventを指定された型にデシリアライズする。
func DecodeData[T any](e Event) (*T, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// MarshalLine はEventをNDJSONの1行（末尾に改行を含む）に変換する。
// 非ASCII文字やHTML特殊文字はエスケープしない。
func MarshalLine(e Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalLine はNDJSONの1行をEventに変換する。
// 数値は精度を保つためjson.Numberとして保持する。
func UnmarshalLine(line []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var e Event
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("イベント行のデシリアライズに失敗: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("イベント行がJSONオブジェクトではありません: %q", bytes.TrimSpace(line))
	}
	return e, nil
}
