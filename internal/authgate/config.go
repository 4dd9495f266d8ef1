package authgate

import (
	"fmt"
	"os"
	"time"
)

// プロバイダーの種類。
const (
	ProviderSupabase = "supabase"
	ProviderLocal    = "local"
)

// Config はサービスの設定。起動時に環境変数から読み込む。
type Config struct {
	// Port はリッスンポート。
	Port string
	// Provider は使用するIDプロバイダー（"supabase" または "local"）。
	Provider string
	// SupabaseURL はSupabaseプロジェクトのURL。
	SupabaseURL string
	// SupabaseKey はSupabaseのAPIキー。
	SupabaseKey string
	// LocalDBPath はローカルプロバイダーのSQLiteファイルパス。
	LocalDBPath string
	// LocalJWTSecret はローカルプロバイダーのJWT署名鍵。
	LocalJWTSecret string
	// LocalTokenTTL はローカルプロバイダーが発行するトークンの有効期間。
	LocalTokenTTL time.Duration
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string
}

// LoadConfig は環境変数から設定を読み込む。
// SUPABASE_URL と SUPABASE_KEY が未設定でもエラーにはしない。その場合プロバイダー呼び出しが失敗する。
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:           getEnvOr("PORT", "8080"),
		Provider:       getEnvOr("IDENTITY_PROVIDER", ProviderSupabase),
		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_KEY"),
		LocalDBPath:    getEnvOr("LOCAL_DB_PATH", "authgate.db"),
		LocalJWTSecret: getEnvOr("LOCAL_JWT_SECRET", "dev-secret-key"),
		FrontendURL:    getEnvOr("FRONTEND_URL", "http://localhost:3000"),
	}

	ttl, err := time.ParseDuration(getEnvOr("LOCAL_TOKEN_TTL", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("LOCAL_TOKEN_TTLの形式が不正: %w", err)
	}
	cfg.LocalTokenTTL = ttl

	switch cfg.Provider {
	case ProviderSupabase, ProviderLocal:
	default:
		return Config{}, fmt.Errorf("未知のIDENTITY_PROVIDER: %q", cfg.Provider)
	}
	return cfg, nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
