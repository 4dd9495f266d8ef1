// Package local はホスト型IDプロバイダーの代わりにプロセス内で動作する開発用プロバイダーを提供する。
//
// IDENTITY_PROVIDER=local で起動したときに使用する。ユーザーはSQLiteに保存し、
// パスワードはbcryptでハッシュ化し、アクセストークンはHS256署名のJWTとして発行する。
// オフライン開発と結合テスト用であり、本番ではsupabaseパッケージを使用すること。
package local

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// defaultIssuer はJWTのiss クレーム。
	defaultIssuer = "authgate-local"
	// defaultRole は新規ユーザーに付与するロール。
	defaultRole = "authenticated"
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 6
)

// Config はローカルプロバイダーの設定。
type Config struct {
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// Secret はJWT署名用の秘密鍵。
	Secret string
	// TokenTTL はアクセストークンの有効期間。0の場合は1時間。
	TokenTTL time.Duration
	// BcryptCost はbcryptのコスト。0の場合はbcrypt.DefaultCost。
	BcryptCost int
}

// Provider はSQLiteとJWTで動作するidentity.Providerの実装。
type Provider struct {
	db     *sql.DB
	secret []byte
	ttl    time.Duration
	cost   int
	issuer string
	now    func() time.Time
}

var _ identity.Provider = (*Provider)(nil)

// claims はローカルプロバイダーが発行するJWTのクレーム。
type claims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール。
	Role string `json:"role"`
}

// Open はSQLiteデータベースを開いてマイグレーションを適用し、プロバイダーを生成する。
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Secret == "" {
		return nil, errors.New("JWT署名用の秘密鍵が設定されていません")
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	p := &Provider{
		db:     db,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	if p.ttl <= 0 {
		p.ttl = time.Hour
	}
	if p.cost == 0 {
		p.cost = bcrypt.DefaultCost
	}
	return p, nil
}

// Close はデータベース接続を閉じる。
func (p *Provider) Close() error {
	return p.db.Close()
}

// SignUp はユーザーを新規作成する。
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.User, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, &identity.ProviderError{Kind: identity.ErrRejected, StatusCode: http.StatusBadRequest, Message: "Unable to validate email address: invalid format"}
	}
	if len(password) < minPasswordLength {
		return nil, &identity.ProviderError{
			Kind:       identity.ErrWeakPassword,
			StatusCode: http.StatusUnprocessableEntity,
			Message:    fmt.Sprintf("Password should be at least %d characters.", minPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		// 72バイトを超えるパスワード等
		return nil, &identity.ProviderError{Kind: identity.ErrWeakPassword, StatusCode: http.StatusUnprocessableEntity, Message: err.Error()}
	}

	user := &identity.User{
		ID:        uuid.New().String(),
		Email:     strings.ToLower(email),
		Role:      defaultRole,
		CreatedAt: p.now().UTC().Truncate(time.Second),
	}
	_, err = p.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Email, string(hash), user.Role, user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return nil, &identity.ProviderError{Kind: identity.ErrUserExists, StatusCode: http.StatusUnprocessableEntity, Message: "User already registered"}
		}
		return nil, &identity.ProviderError{Kind: identity.ErrUnavailable, Message: fmt.Sprintf("ユーザー作成に失敗: %v", err)}
	}
	return user, nil
}

// Login はメールアドレスとパスワードを照合してアクセストークンを発行する。
func (p *Provider) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	var id, hash, role string
	err := p.db.QueryRowContext(ctx,
		"SELECT id, password_hash, role FROM users WHERE email = ?", strings.ToLower(email),
	).Scan(&id, &hash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, &identity.ProviderError{Kind: identity.ErrUnavailable, Message: fmt.Sprintf("ユーザー取得に失敗: %v", err)}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, invalidCredentials()
	}

	now := p.now()
	token, err := p.issue(id, strings.ToLower(email), role, now)
	if err != nil {
		return nil, &identity.ProviderError{Kind: identity.ErrUnavailable, Message: err.Error()}
	}

	if _, err := p.db.ExecContext(ctx,
		"UPDATE users SET last_sign_in_at = ? WHERE id = ?", now.UTC().Format(time.RFC3339), id,
	); err != nil {
		return nil, &identity.ProviderError{Kind: identity.ErrUnavailable, Message: fmt.Sprintf("最終ログイン日時の更新に失敗: %v", err)}
	}

	return &identity.Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(p.ttl / time.Second),
	}, nil
}

// Verify はJWTの署名と有効期限を検証し、トークンの主体が存在することを確認する。
func (p *Provider) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(_ *jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, &identity.ProviderError{Kind: identity.ErrInvalidToken, StatusCode: http.StatusUnauthorized, Message: err.Error()}
	}

	var email, role string
	err = p.db.QueryRowContext(ctx, "SELECT email, role FROM users WHERE id = ?", c.Subject).Scan(&email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &identity.ProviderError{Kind: identity.ErrInvalidToken, StatusCode: http.StatusNotFound, Message: "User from sub claim in JWT does not exist"}
	}
	if err != nil {
		return nil, &identity.ProviderError{Kind: identity.ErrUnavailable, Message: fmt.Sprintf("ユーザー取得に失敗: %v", err)}
	}

	return &identity.Identity{
		ID:       c.Subject,
		Email:    email,
		Role:     role,
		Audience: defaultRole,
	}, nil
}

// issue はユーザー情報からHS256署名のアクセストークンを生成する。
func (p *Provider) issue(userID, email, role string, now time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Audience:  jwt.ClaimStrings{defaultRole},
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    p.issuer,
		},
		Email: email,
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// invalidCredentials はメールアドレスとパスワードのどちらが誤っているかを区別しないエラーを返す。
func invalidCredentials() error {
	return &identity.ProviderError{Kind: identity.ErrInvalidCredentials, StatusCode: http.StatusBadRequest, Message: "Invalid login credentials"}
}
