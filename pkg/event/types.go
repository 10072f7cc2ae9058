package event

// Role はチャットメッセージの発話者を表す。
type Role string

const (
	// RoleSystem はシステムプロンプトを表す。
	RoleSystem Role = "system"
	// RoleUser はユーザーの発話を表す。
	RoleUser Role = "user"
	// RoleAssistant はアシスタントの発話を表す。
	RoleAssistant Role = "assistant"
)

// Message はチャット履歴の1メッセージを表す。
type Message struct {
	// Role は発話者。
	Role Role `json:"role"`
	// Content はメッセージ本文。
	Content string `json:"content"`
}

// Event はApproachが生成するチャットイベント。
// 中身は不透明な構造化レコードであり、中継時に内容を解釈しない。
type Event map[string]any

// Object はCompletionの種類を表す。
type Object string

const (
	// ObjectCompletion は非ストリーミング応答を表す。
	ObjectCompletion Object = "chat.completion"
	// ObjectCompletionChunk はストリーミング応答の断片を表す。
	ObjectCompletionChunk Object = "chat.completion.chunk"
)

// Completion はチャット応答（またはその断片）のデータ。
// 組み込みのApproachはこの形でEventを生成する。
type Completion struct {
	// Object は応答の種類。
	Object Object `json:"object"`
	// Choices は応答候補。
	Choices []Choice `json:"choices"`
}

// Choice は応答候補の1つ。
type Choice struct {
	// Index は候補の順序番号。
	Index int `json:"index"`
	// Message は非ストリーミング応答のメッセージ。
	Message *Message `json:"message,omitempty"`
	// Delta はストリーミング応答の差分。
	Delta *Delta `json:"delta,omitempty"`
	// FinishReason は生成が終了した理由。終了前は空。
	FinishReason string `json:"finish_reason,omitempty"`
	// SessionState はクライアントから受け取ったセッション状態。そのまま返す。
	SessionState any `json:"session_state,omitempty"`
}

// Delta はストリーミング応答における差分。
type Delta struct {
	// Role は最初の断片にのみ設定される。
	Role Role `json:"role,omitempty"`
	// Content は追加されたテキスト。
	Content string `json:"content,omitempty"`
}
