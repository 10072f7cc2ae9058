package approach

import (
	"context"
	"iter"

	"github.com/nao1215/datachat/pkg/event"
)

// Approach はチャット履歴から応答を生成する。
type Approach interface {
	// Run はmessagesに対する応答を生成する。
	// streamがtrueの場合、実装はStreamを返すことが期待される。
	// chatCtxはクライアントから受け取ったコンテキストで、auth_claimsを含む。
	// sessionStateはクライアントから受け取った値をそのまま扱う。
	Run(ctx context.Context, messages []event.Message, stream bool, chatCtx map[string]any, sessionState any) (Result, error)
}

// Result はApproach.Runの戻り値。SingleかStreamのどちらか。
type Result interface {
	isResult()
}

// Single は1件のJSONドキュメントとして返す応答。
type Single struct {
	// Event は応答の内容。
	Event event.Event
}

// Stream はNDJSONとして逐次返す応答。
// Eventsは1度だけ反復できる。反復を途中でやめると上流のリソースは解放される。
type Stream struct {
	// Events は応答イベントの遅延シーケンス。
	Events iter.Seq2[event.Event, error]
}

func (Single) isResult() {}
func (Stream) isResult() {}

// Func は関数をApproachとして扱うためのアダプタ。
type Func func(ctx context.Context, messages []event.Message, stream bool, chatCtx map[string]any, sessionState any) (Result, error)

// Run はf自身を呼び出す。
func (f Func) Run(ctx context.Context, messages []event.Message, stream bool, chatCtx map[string]any, sessionState any) (Result, error) {
	return f(ctx, messages, stream, chatCtx, sessionState)
}

// Events はイベントのスライスを遅延シーケンスに変換する。
func Events(events ...event.Event) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}
