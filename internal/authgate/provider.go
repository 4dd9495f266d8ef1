package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/internal/identity/local"
	"github.com/nao1215/authgate/internal/identity/supabase"
)

// NewProvider は設定に応じたIDプロバイダーを生成する。
// 戻り値のcloseはプロセス終了時に呼び出す。
func NewProvider(ctx context.Context, cfg Config) (identity.Provider, func() error, error) {
	switch cfg.Provider {
	case ProviderSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			log.Printf("[AuthGate] SUPABASE_URL または SUPABASE_KEY が未設定です。プロバイダー呼び出しは失敗します")
		}
		return supabase.New(cfg.SupabaseURL, cfg.SupabaseKey), func() error { return nil }, nil
	case ProviderLocal:
		p, err := local.Open(ctx, local.Config{
			DBPath:   cfg.LocalDBPath,
			Secret:   cfg.LocalJWTSecret,
			TokenTTL: cfg.LocalTokenTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("ローカルプロバイダーの初期化に失敗: %w", err)
		}
		log.Printf("[AuthGate] ローカル開発用プロバイダーを使用します: db=%s", cfg.LocalDBPath)
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知のIDENTITY_PROVIDER: %q", cfg.Provider)
	}
}

// ProviderObserver はプロバイダー呼び出しの結果を記録する。
type ProviderObserver interface {
	ObserveProviderCall(operation, result string)
}

// observedProvider はプロバイダー呼び出しごとに結果と処理時間を記録するラッパー。
type observedProvider struct {
	next     identity.Provider
	observer ProviderObserver
}

var _ identity.Provider = (*observedProvider)(nil)

// observe はプロバイダーに計測を付与する。observerがnilの場合はそのまま返す。
func observe(p identity.Provider, observer ProviderObserver) identity.Provider {
	if observer == nil {
		return p
	}
	return &observedProvider{next: p, observer: observer}
}

func (o *observedProvider) SignUp(ctx context.Context, email, password string) (*identity.User, error) {
	start := time.Now()
	u, err := o.next.SignUp(ctx, email, password)
	o.record("signup", start, err)
	return u, err
}

func (o *observedProvider) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	start := time.Now()
	s, err := o.next.Login(ctx, email, password)
	o.record("login", start, err)
	return s, err
}

func (o *observedProvider) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	start := time.Now()
	id, err := o.next.Verify(ctx, token)
	o.record("verify", start, err)
	return id, err
}

func (o *observedProvider) record(operation string, start time.Time, err error) {
	result := resultLabel(err)
	o.observer.ObserveProviderCall(operation, result)
	if result == "unavailable" {
		log.Printf("[Provider] %s: プロバイダーとの通信に失敗 (%s): %v", operation, time.Since(start), err)
	}
}

// resultLabel はエラーをメトリクス用のラベルに変換する。
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, identity.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, identity.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, identity.ErrUserExists):
		return "user_exists"
	case errors.Is(err, identity.ErrWeakPassword):
		return "weak_password"
	default:
		return "rejected"
	}
}
