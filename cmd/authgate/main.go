// 認証ゲートサービスのエントリポイント。
// サインアップ・ログインを外部IDプロバイダーへ転送し、
// Bearerトークンで保護されたリソースへのアクセスを提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/authgate/internal/authgate"
)

func main() {
	cfg, err := authgate.LoadConfig()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, closeProvider, err := authgate.NewProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("IDプロバイダーの初期化に失敗: %v", err)
	}

	server := authgate.NewServer(cfg, provider)

	log.Printf("認証ゲートサービスを起動します: :%s (provider=%s)", cfg.Port, cfg.Provider)
	runErr := server.Run(ctx)
	if err := closeProvider(); err != nil {
		log.Printf("IDプロバイダーの終了処理に失敗: %v", err)
	}
	if runErr != nil {
		log.Fatalf("認証ゲートサービスの起動に失敗: %v", runErr)
	}
	log.Printf("認証ゲートサービスを停止しました")
}
