package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/nao1215/datachat/pkg/event"
)

// ContentType はNDJSONストリームのContent-Type。
const ContentType = "application/x-ndjson"

// ErrTransport はストリームの送信途中にクライアントへの書き込みが失敗したことを表す。
// ヘッダー送信後に発生するため、クライアントには途中で切れたストリームとして見える。
var ErrTransport = errors.New("ストリームの送信に失敗")

// Stats は送信済みストリームの統計。
type Stats struct {
	// Lines は書き込みが完了した行数。
	Lines int
	// Bytes は書き込んだバイト数。
	Bytes int64
}

// Lines はイベント列をNDJSON行の列に変換する。
// 元の列がエラーを返した場合、そのエラーを1度だけ流して終了する。
func Lines(events iter.Seq2[event.Event, error]) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for ev, err := range events {
			if err != nil {
				yield(nil, err)
				return
			}
			line, err := event.MarshalLine(ev)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

// Write はイベント列をNDJSONとしてwに書き込む。
// wがhttp.Flusherを実装している場合は1行ごとにフラッシュする。
// ctxがキャンセルされるか書き込みに失敗した場合はErrTransportをラップしたエラーを返し、
// 元の列がエラーを返した場合はそのエラーをそのまま返す。
func Write(ctx context.Context, w io.Writer, events iter.Seq2[event.Event, error]) (Stats, error) {
	var stats Stats
	flusher, _ := w.(http.Flusher)

	for line, err := range Lines(events) {
		if err != nil {
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		n, err := w.Write(line)
		stats.Bytes += int64(n)
		if err != nil {
			return stats, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		stats.Lines++

		if flusher != nil {
			flusher.Flush()
		}
	}
	return stats, nil
}
