package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っていることを表す。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken はトークンが無効・期限切れ・未知のユーザーであることを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserExists は同じメールアドレスのユーザーが既に存在することを表す。
	ErrUserExists = errors.New("user already exists")
	// ErrWeakPassword はパスワードがプロバイダーの要件を満たさないことを表す。
	ErrWeakPassword = errors.New("weak password")
	// ErrRejected はプロバイダーがその他の理由でリクエストを拒否したことを表す。
	ErrRejected = errors.New("request rejected by identity provider")
	// ErrUnavailable はプロバイダーとの通信に失敗したことを表す。
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Identity はトークン検証に成功したユーザーを表す。
// 1リクエストの間だけ保持し、永続化しない。
type Identity struct {
	// ID はプロバイダー上のユーザー識別子。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はプロバイダーが付与したロール（例: "authenticated"）。
	Role string `json:"role,omitempty"`
	// Audience はトークンの対象者。
	Audience string `json:"aud,omitempty"`
}

// User はサインアップで作成されたユーザー。
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             string     `json:"role,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
}

// Session はログイン成功時にプロバイダーが返すアクセストークン情報。
// サービス側では解釈も保存もしない。
type Session struct {
	// AccessToken はBearerトークンとして使用するアクセストークン。
	AccessToken string `json:"access_token"`
	// TokenType はトークン種別。常に "bearer"。
	TokenType string `json:"token_type"`
	// ExpiresIn はアクセストークンの有効期間（秒）。
	ExpiresIn int64 `json:"expires_in"`
	// RefreshToken はリフレッシュトークン。プロバイダーが返さない場合は空。
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Verifier はBearerトークンを検証してユーザーを返す。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Provider は外部IDプロバイダーの能力インターフェース。
type Provider interface {
	Verifier
	// SignUp はユーザーを新規作成する。
	SignUp(ctx context.Context, email, password string) (*User, error)
	// Login はメールアドレスとパスワードでログインし、セッションを返す。
	Login(ctx context.Context, email, password string) (*Session, error)
}

// ProviderError はプロバイダーが返したエラーレスポンスを表す。
// Kindには上記のセンチネルエラーのいずれかを設定し、errors.Isで判定できるようにする。
type ProviderError struct {
	// Kind はエラーの分類。
	Kind error
	// StatusCode はプロバイダーのHTTPステータスコード。通信失敗時は0。
	StatusCode int
	// Message はプロバイダーが返したエラーメッセージ。
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: status=%d, %s", e.Kind, e.StatusCode, e.Message)
}

// Unwrap はerrors.Isのために分類エラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// Detail はクライアントに返してよいエラーメッセージを返す。
// プロバイダーのメッセージが無い場合は分類エラーの文言を使う。
func Detail(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	switch {
	case errors.Is(err, ErrUserExists):
		return ErrUserExists.Error()
	case errors.Is(err, ErrWeakPassword):
		return ErrWeakPassword.Error()
	case errors.Is(err, ErrInvalidCredentials):
		return ErrInvalidCredentials.Error()
	}
	return ErrRejected.Error()
}
