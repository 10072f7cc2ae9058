package approach

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/pkg/event"
	"github.com/nao1215/datachat/pkg/httpclient"
)

// RunPath はアプローチサービスの実行エンドポイント。
const RunPath = "/run"

// maxLineSize はアプローチサービスから受け取るNDJSON1行の上限バイト数。
const maxLineSize = 1 << 20

// RunRequest はアプローチサービスに送るリクエストボディ。
type RunRequest struct {
	// Messages はチャット履歴。
	Messages []event.Message `json:"messages"`
	// Stream は逐次応答を要求するかどうか。
	Stream bool `json:"stream"`
	// Context はクライアントのコンテキスト。auth_claimsを含む。
	Context map[string]any `json:"context"`
	// SessionState はクライアントのセッション状態。
	SessionState any `json:"session_state"`
}

// RemoteApproach は別サービスとして動くアプローチをHTTPで呼び出す。
// 非ストリーミングはJSON、ストリーミングはNDJSONで応答を受け取る。
type RemoteApproach struct {
	client *httpclient.Client
}

// NewRemote はRemoteApproachを生成する。
func NewRemote(client *httpclient.Client) *RemoteApproach {
	return &RemoteApproach{client: client}
}

// Run はアプローチサービスの/runを呼び出す。
// コンテキストにベアラートークンがあればAuthorizationヘッダーで伝播する。
func (a *RemoteApproach) Run(ctx context.Context, messages []event.Message, stream bool, chatCtx map[string]any, sessionState any) (Result, error) {
	if tok, ok := credential.FromContext(ctx); ok {
		ctx = httpclient.WithBearerToken(ctx, tok.Value)
	}
	req := RunRequest{
		Messages:     messages,
		Stream:       stream,
		Context:      chatCtx,
		SessionState: sessionState,
	}

	if !stream {
		var e event.Event
		if err := a.client.PostJSON(ctx, RunPath, req, &e); err != nil {
			return nil, fmt.Errorf("アプローチサービスの呼び出しに失敗: %w", err)
		}
		return Single{Event: e}, nil
	}

	body, err := a.client.PostStream(ctx, RunPath, req, "application/x-ndjson")
	if err != nil {
		return nil, fmt.Errorf("アプローチサービスの呼び出しに失敗: %w", err)
	}
	return Stream{Events: ReadEvents(body)}, nil
}

// ReadEvents はNDJSONのボディを1行ずつEventに変換する遅延シーケンスを返す。
// 空行は読み飛ばす。反復が終わるとbodyを閉じる。
func ReadEvents(body io.ReadCloser) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			e, err := event.UnmarshalLine(line)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("アプローチサービスからの読み込みに失敗: %w", err))
		}
	}
}
