// Package supabase はSupabase Auth（GoTrue）のREST APIを使うIDプロバイダーを提供する。
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/pkg/httpclient"
)

const (
	pathSignUp = "/auth/v1/signup"
	pathToken  = "/auth/v1/token?grant_type=password"
	pathUser   = "/auth/v1/user"
)

// Provider はSupabase Authに処理を委譲するidentity.Providerの実装。
// 設定値のみを保持し、リクエスト間で状態を共有しない。
type Provider struct {
	client *httpclient.Client
}

var _ identity.Provider = (*Provider)(nil)

// New は新しいSupabaseプロバイダーを生成する。
// baseURLはプロジェクトURL（例: "https://xyz.supabase.co"）、apiKeyはanonキーまたはservice roleキー。
func New(baseURL, apiKey string, opts ...httpclient.Option) *Provider {
	opts = append([]httpclient.Option{
		httpclient.WithHeader("apikey", apiKey),
		httpclient.WithHeader("Authorization", "Bearer "+apiKey),
	}, opts...)
	return &Provider{
		client: httpclient.New(strings.TrimRight(baseURL, "/"), opts...),
	}
}

// credentialsRequest はサインアップ・ログインのリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID               string     `json:"id"`
	Aud              string     `json:"aud"`
	Role             string     `json:"role"`
	Email            string     `json:"email"`
	CreatedAt        time.Time  `json:"created_at"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

// signUpResponse はサインアップのレスポンス。
// メール確認が不要な設定ではセッションとuserフィールドが返り、
// それ以外ではユーザーオブジェクトがトップレベルに返る。
type signUpResponse struct {
	userResponse
	User *userResponse `json:"user"`
}

// tokenResponse はパスワードグラントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// errorResponse はGoTrueのエラーレスポンス。バージョンによってフィールド名が異なる。
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUp はユーザーを新規作成する。
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.User, error) {
	var resp signUpResponse
	if err := p.client.PostJSON(ctx, pathSignUp, credentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, classify(err, identity.ErrRejected)
	}

	u := &resp.userResponse
	if resp.User != nil {
		u = resp.User
	}
	return &identity.User{
		ID:               u.ID,
		Email:            u.Email,
		Role:             u.Role,
		CreatedAt:        u.CreatedAt,
		EmailConfirmedAt: u.EmailConfirmedAt,
	}, nil
}

// Login はパスワードグラントでアクセストークンを取得する。
func (p *Provider) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	var resp tokenResponse
	if err := p.client.PostJSON(ctx, pathToken, credentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, classify(err, identity.ErrInvalidCredentials)
	}
	if resp.AccessToken == "" {
		return nil, &identity.ProviderError{Kind: identity.ErrInvalidCredentials, StatusCode: http.StatusOK, Message: "empty access token"}
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &identity.Session{
		AccessToken:  resp.AccessToken,
		TokenType:    strings.ToLower(tokenType),
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// Verify はアクセストークンでユーザー情報を取得し、トークンの有効性を確認する。
// 署名や有効期限の検証はSupabase側で行われる。
func (p *Provider) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	var resp userResponse
	if err := p.client.GetJSON(httpclient.WithBearerToken(ctx, token), pathUser, &resp); err != nil {
		return nil, classify(err, identity.ErrInvalidToken)
	}
	if resp.ID == "" {
		return nil, &identity.ProviderError{Kind: identity.ErrInvalidToken, StatusCode: http.StatusOK, Message: "user not found in response"}
	}
	return &identity.Identity{
		ID:       resp.ID,
		Email:    resp.Email,
		Role:     resp.Role,
		Audience: resp.Aud,
	}, nil
}

// classify はhttpclientのエラーをidentityパッケージのエラーに変換する。
// 4xxはfallbackに分類し、エラーコードで判別できるものは個別のエラーにする。
func classify(err error, fallback error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return &identity.ProviderError{Kind: identity.ErrUnavailable, Message: err.Error()}
	}

	var body errorResponse
	_ = json.Unmarshal(se.Body, &body)

	pe := &identity.ProviderError{Kind: fallback, StatusCode: se.StatusCode, Message: body.text()}
	switch {
	case se.StatusCode >= http.StatusInternalServerError:
		pe.Kind = identity.ErrUnavailable
	case body.ErrorCode == "user_already_exists" || body.ErrorCode == "email_exists":
		pe.Kind = identity.ErrUserExists
	case body.ErrorCode == "weak_password":
		pe.Kind = identity.ErrWeakPassword
	case fallback == identity.ErrInvalidToken:
		// user_not_found, bad_jwt 等はすべて無効なトークンとして扱う
		pe.Kind = identity.ErrInvalidToken
	}
	return pe
}
