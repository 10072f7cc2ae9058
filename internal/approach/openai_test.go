package approach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/pkg/event"
)

// completionBody は非ストリーミング応答のテスト用ボディ。
const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-35-turbo",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "hello"},
		"finish_reason": "stop"
	}]
}`

// chunkLine はストリーミング応答の1断片をSSEの行として返す。
func chunkLine(choices string) string {
	return fmt.Sprintf("data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"created\":1700000000,\"model\":\"gpt-35-turbo\",\"choices\":%s}\n\n", choices)
}

// capturedRequest はテストサーバーが受け取ったリクエスト。
type capturedRequest struct {
	Path    string
	Query   string
	Headers http.Header
	Body    map[string]any
}

// openaiServer はチャット補完APIを模したテストサーバーを起動する。
func openaiServer(t *testing.T, got *capturedRequest, respond func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Path = r.URL.Path
		got.Query = r.URL.Query().Get("api-version")
		got.Headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.Body)
		respond(w)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func respondCompletion(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(completionBody))
}

func respondStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = w.Write([]byte(chunkLine(`[]`)))
	_, _ = w.Write([]byte(chunkLine(`[{"index":0,"delta":{"role":"assistant","content":"he"},"finish_reason":null}]`)))
	_, _ = w.Write([]byte(chunkLine(`[{"index":0,"delta":{"content":"llo"},"finish_reason":"stop"}]`)))
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
}

// TestOpenAIApproachAzure はAzure OpenAIへの呼び出しを検証する。
func TestOpenAIApproachAzure(t *testing.T) {
	t.Parallel()

	msgs := []event.Message{
		{Role: event.RoleSystem, Content: "sys"},
		{Role: event.RoleUser, Content: "hi"},
	}

	t.Run("APIキーでデプロイメントURLを呼び出しchat.completionを返すこと", func(t *testing.T) {
		t.Parallel()

		var got capturedRequest
		ts := openaiServer(t, &got, respondCompletion)
		a := NewOpenAI(OpenAIConfig{
			Host:            HostAzure,
			AzureEndpoint:   ts.URL + "/",
			AzureDeployment: "chat",
			AzureAPIKey:     "azure-key",
			AzureAPIVersion: "2024-02-01",
		})

		res, err := a.Run(context.Background(), msgs, false, nil, map[string]any{"k": "v"})
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		if got.Path != "/openai/deployments/chat/chat/completions" {
			t.Errorf("Path = %q", got.Path)
		}
		if got.Query != "2024-02-01" {
			t.Errorf("api-version = %q, want %q", got.Query, "2024-02-01")
		}
		if key := got.Headers.Get("api-key"); key != "azure-key" {
			t.Errorf("api-key = %q, want %q", key, "azure-key")
		}
		if auth := got.Headers.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want empty", auth)
		}
		if got.Body["model"] != "chat" {
			t.Errorf("model = %v, want デプロイ名", got.Body["model"])
		}

		single, ok := res.(Single)
		if !ok {
			t.Fatalf("Result = %T, want Single", res)
		}
		c, err := event.DecodeData[event.Completion](single.Event)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if c.Object != event.ObjectCompletion {
			t.Errorf("object = %q", c.Object)
		}
		if len(c.Choices) != 1 || c.Choices[0].Message == nil || c.Choices[0].Message.Content != "hello" {
			t.Fatalf("choices = %+v", c.Choices)
		}
		if c.Choices[0].FinishReason != "stop" {
			t.Errorf("finish_reason = %q", c.Choices[0].FinishReason)
		}
		state, _ := c.Choices[0].SessionState.(map[string]any)
		if state["k"] != "v" {
			t.Errorf("session_state = %v", c.Choices[0].SessionState)
		}
	})

	t.Run("APIキーが無い場合はコンテキストのベアラートークンを使うこと", func(t *testing.T) {
		t.Parallel()

		var got capturedRequest
		ts := openaiServer(t, &got, respondCompletion)
		a := NewOpenAI(OpenAIConfig{Host: HostAzure, AzureEndpoint: ts.URL, AzureDeployment: "chat"})

		ctx := credential.NewContext(context.Background(), credential.Token{Value: "ad-token", ExpiresOn: 1})
		if _, err := a.Run(ctx, msgs, false, nil, nil); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if auth := got.Headers.Get("Authorization"); auth != "Bearer ad-token" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer ad-token")
		}
		if got.Query != DefaultAzureAPIVersion {
			t.Errorf("api-version = %q, want %q", got.Query, DefaultAzureAPIVersion)
		}
	})

	t.Run("ベアラートークンが無い場合はErrAuthProviderを返すこと", func(t *testing.T) {
		t.Parallel()

		a := NewOpenAI(OpenAIConfig{Host: HostAzure, AzureEndpoint: "http://127.0.0.1:1", AzureDeployment: "chat"})
		_, err := a.Run(context.Background(), msgs, false, nil, nil)
		if !errors.Is(err, credential.ErrAuthProvider) {
			t.Errorf("err = %v, want ErrAuthProvider", err)
		}
	})

	t.Run("ストリーミングではchat.completion.chunkを順に返すこと", func(t *testing.T) {
		t.Parallel()

		var got capturedRequest
		ts := openaiServer(t, &got, respondStream)
		a := NewOpenAI(OpenAIConfig{Host: HostAzure, AzureEndpoint: ts.URL, AzureDeployment: "chat", AzureAPIKey: "k"})

		res, err := a.Run(context.Background(), msgs, true, nil, nil)
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		events, err := collect(t, res)
		if err != nil {
			t.Fatalf("反復中にエラーが発生: %v", err)
		}
		if got.Body["stream"] != true {
			t.Errorf("stream = %v, want true", got.Body["stream"])
		}
		if len(events) != 2 {
			t.Fatalf("イベント数 = %d, want 2", len(events))
		}

		var text strings.Builder
		for _, e := range events {
			c, err := event.DecodeData[event.Completion](e)
			if err != nil {
				t.Fatalf("DecodeData()でエラーが発生: %v", err)
			}
			if c.Object != event.ObjectCompletionChunk {
				t.Errorf("object = %q", c.Object)
			}
			text.WriteString(c.Choices[0].Delta.Content)
		}
		if text.String() != "hello" {
			t.Errorf("連結したテキスト = %q, want %q", text.String(), "hello")
		}
	})

	t.Run("上流がエラーを返した場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		var got capturedRequest
		ts := openaiServer(t, &got, func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
		})
		a := NewOpenAI(OpenAIConfig{Host: HostAzure, AzureEndpoint: ts.URL, AzureDeployment: "chat", AzureAPIKey: "k"})

		if _, err := a.Run(context.Background(), msgs, false, nil, nil); err == nil {
			t.Error("非ストリーミングでエラーを返すべき")
		}

		res, err := a.Run(context.Background(), msgs, true, nil, nil)
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if _, err := collect(t, res); err == nil {
			t.Error("ストリーミングの反復でエラーを返すべき")
		}
	})
}

// TestOpenAIApproachOpenAI はopenai.comへの呼び出しを検証する。
func TestOpenAIApproachOpenAI(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	ts := openaiServer(t, &got, respondCompletion)
	a := NewOpenAI(OpenAIConfig{
		Host:               HostOpenAI,
		Model:              "gpt-4o-mini",
		OpenAIAPIKey:       "sk-test",
		OpenAIOrganization: "org-1",
		BaseURL:            ts.URL + "/v1/",
	})

	chatCtx := map[string]any{"overrides": map[string]any{"temperature": 0.3}}
	if _, err := a.Run(context.Background(), []event.Message{{Role: event.RoleUser, Content: "hi"}}, false, chatCtx, nil); err != nil {
		t.Fatalf("Run()でエラーが発生: %v", err)
	}

	if got.Path != "/v1/chat/completions" {
		t.Errorf("Path = %q", got.Path)
	}
	if auth := got.Headers.Get("Authorization"); auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if org := got.Headers.Get("OpenAI-Organization"); org != "org-1" {
		t.Errorf("OpenAI-Organization = %q", org)
	}
	if got.Body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", got.Body["model"])
	}
	if got.Body["temperature"] != 0.3 {
		t.Errorf("temperature = %v, want 0.3", got.Body["temperature"])
	}
}

// TestTemperature はTemperatureを検証する。
func TestTemperature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chatCtx map[string]any
		want    float64
		wantOK  bool
	}{
		{name: "overridesが無い場合", chatCtx: map[string]any{}, wantOK: false},
		{name: "float64の場合", chatCtx: map[string]any{"overrides": map[string]any{"temperature": 0.5}}, want: 0.5, wantOK: true},
		{name: "json.Numberの場合", chatCtx: map[string]any{"overrides": map[string]any{"temperature": json.Number("0.7")}}, want: 0.7, wantOK: true},
		{name: "文字列の場合", chatCtx: map[string]any{"overrides": map[string]any{"temperature": "1"}}, want: 1, wantOK: true},
		{name: "数値でない場合", chatCtx: map[string]any{"overrides": map[string]any{"temperature": "hot"}}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := Temperature(tt.chatCtx)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Temperature() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
