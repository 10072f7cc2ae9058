// Package telemetry はOpenTelemetryによるトレースを設定する。
//
// OTEL_EXPORTER_OTLP_ENDPOINTが設定されていればOTLP(gRPC)で送信し、
// それ以外で有効な場合は標準エラー出力に書き出す。
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName はトレースに記録するサービス名。
const ServiceName = "datachat"

// Config はトレースの設定。
type Config struct {
	// Enabled はトレースを有効にするかどうか。
	Enabled bool
	// Endpoint はOTLP(gRPC)の送信先。空の場合はWriterに書き出す。
	Endpoint string
	// Writer はOTLPを使わない場合の出力先。nilの場合は標準エラー出力。
	Writer io.Writer
}

// ShutdownFunc はエクスポーターをフラッシュして停止する関数。
type ShutdownFunc func(context.Context) error

// Init はトレーサープロバイダーを作成してグローバルに設定する。
// 無効な場合は何もしないShutdownFuncを返す。
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", ServiceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("トレースのリソース作成に失敗: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("トレーサープロバイダーの停止に失敗: %w", err)
		}
		return nil
	}, nil
}

// newExporter は設定に応じたスパンエクスポーターを作成する。
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		log.Info("OTEL_EXPORTER_OTLP_ENDPOINTが未設定のため、トレースを標準エラー出力に書き出します")
		return stdouttrace.New(stdouttrace.WithWriter(w))
	}

	var opts []otlptracegrpc.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("OTLPエクスポーターの作成に失敗: %w", err)
	}
	log.WithField("endpoint", cfg.Endpoint).Info("OTLPトレースエクスポーターを設定しました")
	return exp, nil
}

// Handler はサーバーのハンドラーを受信リクエストのスパンで包む。
func Handler(h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Transport は送信リクエストにスパンを記録しトレースコンテキストを伝播するトランスポートを返す。
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// Start は名前付きのスパンを開始する。
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End はスパンにエラーを記録して終了する。
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
