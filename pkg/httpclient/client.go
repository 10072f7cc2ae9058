package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// DefaultTimeout は単発のJSONリクエストのタイムアウト。
const DefaultTimeout = 30 * time.Second

// maxErrorBody はエラー時に読み込むレスポンスボディの上限バイト数。
const maxErrorBody = 4 << 10

// Client は下流サービス通信用のHTTPクライアント。
type Client struct {
	// httpClient は単発のJSONリクエストに使用するHTTPクライアント。
	httpClient *http.Client
	// streamClient は逐次応答に使用するHTTPクライアント。全体のタイムアウトを持たない。
	streamClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithTransport は内部のHTTPクライアントが使用するトランスポートを設定する。
// トレース計装済みのトランスポートを差し込むために使用する。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
		c.streamClient.Transport = rt
	}
}

// WithTimeout は単発のJSONリクエストのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://approach:8000"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
		baseURL:      baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError は下流サービスが2xx以外を返したことを表す。
type StatusError struct {
	// StatusCode はレスポンスのステータスコード。
	StatusCode int
	// Body はレスポンスボディの先頭部分。
	Body string
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。数値はjson.Numberとして保持する。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	resp, err := c.do(ctx, c.httpClient, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// PostStream は指定パスにJSONボディでPOSTリクエストを送信し、レスポンスボディをそのまま返す。
// 呼び出し側は読み終えたらボディを閉じる必要がある。
// ボディの読み込みはctxのキャンセルで中断される。
func (c *Client) PostStream(ctx context.Context, path string, body any, accept string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.streamClient, path, body, accept)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// do はJSONボディのPOSTリクエストを実行する共通処理。
// 2xx以外の場合はボディを閉じて*StatusErrorを返す。
func (c *Client) do(ctx context.Context, hc *http.Client, path string, body any, accept string) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	// コンテキストから認証情報とリクエストIDを伝播する
	if token, ok := BearerTokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok && id != "" {
		req.Header.Set(HeaderRequestID, id)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// contextKey はコンテキストキーの型。
type contextKey string

const (
	// contextKeyBearerToken はコンテキストにベアラートークンを格納するためのキー。
	contextKeyBearerToken contextKey = "bearer_token"
	// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
	contextKeyRequestID contextKey = "request_id"
)

// WithBearerToken はコンテキストにベアラートークンを設定する。
// 空文字列の場合はコンテキストをそのまま返す。
func WithBearerToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKeyBearerToken, token)
}

// BearerTokenFromContext はコンテキストからベアラートークンを取得する。
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(contextKeyBearerToken).(string)
	return token, ok && token != ""
}

// WithRequestID はコンテキストにリクエストIDを設定する。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}
