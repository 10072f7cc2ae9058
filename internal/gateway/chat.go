package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nao1215/datachat/internal/approach"
	"github.com/nao1215/datachat/internal/credential"
	"github.com/nao1215/datachat/internal/relay"
	"github.com/nao1215/datachat/internal/telemetry"
	"github.com/nao1215/datachat/pkg/event"
	"github.com/nao1215/datachat/pkg/middleware"
)

// chatRequest は/chatのリクエストボディ。
type chatRequest struct {
	// Messages はチャット履歴。必須。
	Messages []event.Message `json:"messages"`
	// Context はアプローチに渡すコンテキスト。
	Context map[string]any `json:"context"`
	// Stream は逐次応答を要求するかどうか。
	Stream bool `json:"stream"`
	// SessionState はクライアントのセッション状態。
	SessionState any `json:"session_state"`
}

// isJSON はContent-TypeがJSONを表すかどうかを返す。
// application/jsonとapplication/*+jsonを受け付ける。
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

// decodeChatRequest はリクエストを検証してチャットリクエストに変換する。
// 失敗した場合はErrMalformedRequestを返す。
func decodeChatRequest(r *http.Request) (*chatRequest, error) {
	if !isJSON(r.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: Content-Type=%q", ErrMalformedRequest, r.Header.Get("Content-Type"))
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req chatRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	// ボディはJSONドキュメント1つだけでなければならない
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: JSONの後に余分なデータがあります", ErrMalformedRequest)
	}
	if req.Messages == nil {
		return nil, fmt.Errorf("%w: messagesがありません", ErrMalformedRequest)
	}
	if req.Context == nil {
		req.Context = make(map[string]any)
	}
	return &req, nil
}

// handleChat はチャットリクエストをアプローチへ中継するハンドラを返す。
func (s *Server) handleChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := decodeChatRequest(c.Request)
		if err != nil {
			s.fail(c, http.StatusUnsupportedMediaType, err, ErrMalformedRequest.Error())
			return
		}

		ctx := c.Request.Context()
		req.Context["auth_claims"] = s.auth.AuthClaimsIfEnabled(ctx, c.Request.Header)

		tok, err := s.credentials.EnsureFresh(ctx)
		if err != nil {
			s.fail(c, http.StatusInternalServerError, err, err.Error())
			return
		}
		ctx = credential.NewContext(ctx, tok)

		if !req.Stream && s.opts.ChatRequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.ChatRequestTimeout)
			defer cancel()
		}

		ctx, span := telemetry.Start(ctx, "approach.run",
			attribute.Bool("stream", req.Stream),
			attribute.Int("messages", len(req.Messages)),
		)
		res, err := s.approach.Run(ctx, req.Messages, req.Stream, req.Context, req.SessionState)
		if err != nil {
			telemetry.End(span, err)
			s.fail(c, http.StatusInternalServerError, fmt.Errorf("%w: %w", ErrDownstreamApproach, err), err.Error())
			return
		}

		switch r := res.(type) {
		case approach.Single:
			err = s.writeSingle(c, r.Event)
		case approach.Stream:
			err = s.writeStream(ctx, c, r.Events)
		default:
			err = fmt.Errorf("%w: %T", ErrUnknownResult, res)
			s.fail(c, http.StatusInternalServerError, err, err.Error())
		}
		telemetry.End(span, err)
	}
}

// writeSingle は単発の応答をJSONドキュメントとして返す。
func (s *Server) writeSingle(c *gin.Context, e event.Event) error {
	body, err := event.MarshalLine(e)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDownstreamApproach, err)
		s.fail(c, http.StatusInternalServerError, err, err.Error())
		return err
	}
	c.Data(http.StatusOK, "application/json", body)
	return nil
}

// writeStream は逐次の応答をNDJSONとして返す。
// 最初の行を書き込む前に失敗した場合は500のエラーレスポンスを返す。
// 書き込み開始後の失敗ではストリームを途中で打ち切る。
func (s *Server) writeStream(ctx context.Context, c *gin.Context, events iter.Seq2[event.Event, error]) error {
	// ストリームの間はサーバーの書き込みタイムアウトを解除する
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.WithError(err).Warn("書き込みタイムアウトの解除に失敗しました。ストリームが途中で切れる可能性があります")
	}

	c.Header("Content-Type", relay.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	stats, err := relay.Write(ctx, c.Writer, events)
	entry := log.WithFields(log.Fields{
		"request_id": middleware.GetRequestID(c),
		"lines":      stats.Lines,
		"bytes":      stats.Bytes,
	})

	switch {
	case err == nil:
		if !c.Writer.Written() {
			c.Writer.WriteHeaderNow()
		}
		entry.Debug("ストリームを送信しました")
		return nil
	case !c.Writer.Written():
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Cache-Control")
		c.Writer.Header().Del("X-Accel-Buffering")
		message := err.Error()
		err = fmt.Errorf("%w: %w", ErrDownstreamApproach, err)
		s.fail(c, http.StatusInternalServerError, err, message)
		return err
	case errors.Is(err, relay.ErrTransport):
		entry.WithError(err).Warn("クライアントへのストリーム送信を中断しました")
		return err
	default:
		entry.WithError(err).Error("アプローチのストリームが途中で失敗しました")
		return err
	}
}

// fail はエラーをログに記録し、{"error": message}を返す。
func (s *Server) fail(c *gin.Context, status int, err error, message string) {
	entry := log.WithFields(log.Fields{
		"request_id": middleware.GetRequestID(c),
		"path":       c.Request.URL.Path,
		"status":     status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("/chat の処理に失敗しました")
	} else {
		entry.Warn("/chat のリクエストが不正です")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
