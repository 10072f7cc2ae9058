package approach

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/pkg/event"
)

const (
	// HostAzure はAzure OpenAIを使うことを表す。
	HostAzure = "azure"
	// HostOpenAI はopenai.comを使うことを表す。
	HostOpenAI = "openai"

	// DefaultAzureAPIVersion はAzure OpenAIのapi-versionの既定値。
	DefaultAzureAPIVersion = "2024-06-01"
	// DefaultModel はモデル名が設定されていない場合に使うモデル。
	DefaultModel = "gpt-35-turbo"
)

// ErrNoChoices はチャット補完が応答候補を1つも返さなかったことを表す。
var ErrNoChoices = errors.New("チャット補完が応答候補を返しませんでした")

// OpenAIConfig はOpenAIApproachの設定。
type OpenAIConfig struct {
	// Host は接続先。HostAzureまたはHostOpenAI。
	Host string
	// Model はチャットモデル名。
	Model string
	// AzureEndpoint はAzure OpenAIのエンドポイント（例: https://xxx.openai.azure.com）。
	AzureEndpoint string
	// AzureDeployment はチャットモデルのデプロイ名。
	AzureDeployment string
	// AzureAPIKey はAzure OpenAIのAPIキー。空の場合はAzure ADのベアラートークンを使う。
	AzureAPIKey string
	// AzureAPIVersion はAzure OpenAIのapi-version。
	AzureAPIVersion string
	// OpenAIAPIKey はopenai.comのAPIキー。
	OpenAIAPIKey string
	// OpenAIOrganization はopenai.comの組織ID。
	OpenAIOrganization string
	// BaseURL はopenai.comの代わりに使うベースURL。空の場合はSDKの既定値。
	BaseURL string
	// HTTPClient はSDKが使うHTTPクライアント。
	HTTPClient *http.Client
}

// OpenAIApproach はチャット補完APIを直接呼び出すアプローチ。
// 検索は行わず、受け取った履歴をそのままモデルに渡す。
type OpenAIApproach struct {
	client openai.Client
	model  string
	// delegated はAzure ADのベアラートークンで認証するかどうか。
	delegated bool
}

// NewOpenAI はOpenAIApproachを生成する。
func NewOpenAI(cfg OpenAIConfig) *OpenAIApproach {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	delegated := false
	switch cfg.Host {
	case HostOpenAI:
		opts = append(opts, option.WithAPIKey(cfg.OpenAIAPIKey))
		if cfg.OpenAIOrganization != "" {
			opts = append(opts, option.WithOrganization(cfg.OpenAIOrganization))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	default:
		version := cfg.AzureAPIVersion
		if version == "" {
			version = DefaultAzureAPIVersion
		}
		opts = append(opts,
			option.WithBaseURL(AzureDeploymentURL(cfg.AzureEndpoint, cfg.AzureDeployment)),
			option.WithQuery("api-version", version),
			option.WithHeaderDel("authorization"),
		)
		if cfg.AzureAPIKey != "" {
			opts = append(opts, option.WithHeader("api-key", cfg.AzureAPIKey))
		} else {
			delegated = true
		}
		if model == "" {
			model = cfg.AzureDeployment
		}
	}
	if model == "" {
		model = DefaultModel
	}

	return &OpenAIApproach{
		client:    openai.NewClient(opts...),
		model:     model,
		delegated: delegated,
	}
}

// AzureDeploymentURL はAzure OpenAIのデプロイメント単位のベースURLを返す。
func AzureDeploymentURL(endpoint, deployment string) string {
	return strings.TrimSuffix(endpoint, "/") + "/openai/deployments/" + deployment + "/"
}

// Run はチャット補完を呼び出す。
// streamがtrueの場合はchat.completion.chunk形式のイベントを逐次返す。
func (a *OpenAIApproach) Run(ctx context.Context, messages []event.Message, stream bool, chatCtx map[string]any, sessionState any) (Result, error) {
	params := a.params(messages, chatCtx)

	var reqOpts []option.RequestOption
	if a.delegated {
		tok, ok := credential.FromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("%w: ベアラートークンがありません", credential.ErrAuthProvider)
		}
		reqOpts = append(reqOpts, option.WithHeader("Authorization", "Bearer "+tok.Value))
	}

	if stream {
		return Stream{Events: a.stream(ctx, params, reqOpts, sessionState)}, nil
	}

	completion, err := a.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("チャット補完の呼び出しに失敗: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := completion.Choices[0]
	e, err := event.New(event.Completion{
		Object: event.ObjectCompletion,
		Choices: []event.Choice{{
			Index: int(choice.Index),
			Message: &event.Message{
				Role:    event.RoleAssistant,
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
			SessionState: sessionState,
		}},
	})
	if err != nil {
		return nil, err
	}
	return Single{Event: e}, nil
}

// stream はストリーミング補完の断片をイベントとして返す遅延シーケンスを作る。
// 上流への接続は最初の反復で開き、反復の終了時に閉じる。
func (a *OpenAIApproach) stream(ctx context.Context, params openai.ChatCompletionNewParams, reqOpts []option.RequestOption, sessionState any) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		s := a.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
		defer s.Close()

		for s.Next() {
			chunk := s.Current()
			// Azureはコンテンツフィルタの結果だけを持つ断片を最初に送る
			if len(chunk.Choices) == 0 {
				continue
			}

			choices := make([]event.Choice, 0, len(chunk.Choices))
			for _, c := range chunk.Choices {
				choices = append(choices, event.Choice{
					Index: int(c.Index),
					Delta: &event.Delta{
						Role:    event.Role(c.Delta.Role),
						Content: c.Delta.Content,
					},
					FinishReason: string(c.FinishReason),
					SessionState: sessionState,
				})
			}
			e, err := event.New(event.Completion{
				Object:  event.ObjectCompletionChunk,
				Choices: choices,
			})
			if !yield(e, err) || err != nil {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, fmt.Errorf("チャット補完のストリーミングに失敗: %w", err))
		}
	}
}

// params はチャット補完のリクエストパラメータを組み立てる。
func (a *OpenAIApproach) params(messages []event.Message, chatCtx map[string]any) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case event.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case event.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(a.model),
	}
	if t, ok := Temperature(chatCtx); ok {
		params.Temperature = openai.Float(t)
	}
	return params
}

// Temperature はコンテキストのoverrides.temperatureを取り出す。
// 数値またはjson.Numberのような文字列表現を受け付ける。
func Temperature(chatCtx map[string]any) (float64, bool) {
	overrides, ok := chatCtx["overrides"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := overrides["temperature"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(v.String(), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
