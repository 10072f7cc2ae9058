// datachatゲートウェイのエントリポイント。
// チャットリクエストを受け付け、ベアラートークンを更新したうえでアプローチに中継する。
// SIGINT/SIGTERMを受け取るとグレースフルシャットダウンする。
package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/nao1215/datachat/internal/config"
	"github.com/nao1215/datachat/internal/gateway"
	"github.com/nao1215/datachat/internal/logging"
	"github.com/nao1215/datachat/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.Production()); err != nil {
		log.Fatalf("ログの初期化に失敗: %v", err)
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:  cfg.TelemetryEnabled(),
		Endpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("トレースの初期化に失敗: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("トレースの終了処理に失敗しました")
		}
	}()

	server, err := gateway.New(ctx, cfg)
	if err != nil {
		log.Fatalf("datachatサーバーの初期化に失敗: %v", err)
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		log.Errorf("datachatサービスの実行に失敗: %v", err)
	}
}
