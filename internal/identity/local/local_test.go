package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/authgate/internal/identity"
)

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newTestProvider は一時ディレクトリのSQLiteを使うプロバイダーを生成する。
func newTestProvider(t *testing.T) *Provider {
	t.Helper()

	p, err := Open(context.Background(), Config{
		DBPath:     filepath.Join(t.TempDir(), "authgate.db"),
		Secret:     testSecret,
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("Open()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// mustSignUp はテスト用ユーザーを作成する。
func mustSignUp(t *testing.T, p *Provider, email, password string) *identity.User {
	t.Helper()

	u, err := p.SignUp(context.Background(), email, password)
	if err != nil {
		t.Fatalf("SignUp()でエラーが発生: %v", err)
	}
	return u
}

// TestOpen はOpenを検証する。
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("秘密鍵が空の場合エラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := Open(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
		if err == nil {
			t.Fatal("Open()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("既存のデータベースを開き直してもユーザーが保持されること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "authgate.db")
		cfg := Config{DBPath: path, Secret: testSecret, BcryptCost: bcrypt.MinCost}

		p1, err := Open(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		mustSignUp(t, p1, "keep@example.com", "secret123")
		p1.Close()

		p2, err := Open(context.Background(), cfg)
		if err != nil {
			t.Fatalf("2回目のOpen()でエラーが発生: %v", err)
		}
		defer p2.Close()

		if _, err := p2.Login(context.Background(), "keep@example.com", "secret123"); err != nil {
			t.Errorf("再オープン後のLogin()でエラーが発生: %v", err)
		}
	})

	t.Run("デフォルト値が設定されること", func(t *testing.T) {
		t.Parallel()

		p, err := Open(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "d.db"), Secret: testSecret})
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		defer p.Close()

		if p.ttl != time.Hour {
			t.Errorf("ttl = %v, want 1h", p.ttl)
		}
		if p.cost != bcrypt.DefaultCost {
			t.Errorf("cost = %d, want %d", p.cost, bcrypt.DefaultCost)
		}
	})
}

// TestSignUp はSignUpを検証する。
func TestSignUp(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーが作成されること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "new@example.com", "secret123")

		if u.ID == "" {
			t.Error("IDが空")
		}
		if u.Email != "new@example.com" {
			t.Errorf("Email = %q, want %q", u.Email, "new@example.com")
		}
		if u.Role != "authenticated" {
			t.Errorf("Role = %q, want %q", u.Role, "authenticated")
		}
		if u.CreatedAt.IsZero() {
			t.Error("CreatedAtが設定されていない")
		}
	})

	t.Run("パスワードが平文で保存されないこと", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "hash@example.com", "secret123")

		var stored string
		if err := p.db.QueryRow("SELECT password_hash FROM users WHERE id = ?", u.ID).Scan(&stored); err != nil {
			t.Fatalf("ユーザー取得に失敗: %v", err)
		}
		if stored == "secret123" {
			t.Fatal("パスワードが平文で保存されている")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte("secret123")); err != nil {
			t.Errorf("保存されたハッシュが一致しない: %v", err)
		}
	})

	t.Run("同じメールアドレスでErrUserExistsが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		mustSignUp(t, p, "dup@example.com", "secret123")

		_, err := p.SignUp(context.Background(), "DUP@example.com", "another123")
		if !errors.Is(err, identity.ErrUserExists) {
			t.Fatalf("err = %v, want ErrUserExists", err)
		}
	})

	t.Run("短いパスワードでErrWeakPasswordが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		_, err := p.SignUp(context.Background(), "weak@example.com", "123")
		if !errors.Is(err, identity.ErrWeakPassword) {
			t.Fatalf("err = %v, want ErrWeakPassword", err)
		}
	})

	t.Run("不正なメールアドレスでErrRejectedが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		for _, email := range []string{"", "not-an-email", "Name <a@example.com>"} {
			_, err := p.SignUp(context.Background(), email, "secret123")
			if !errors.Is(err, identity.ErrRejected) {
				t.Errorf("email=%q: err = %v, want ErrRejected", email, err)
			}
		}
	})
}

// TestLogin はLoginを検証する。
func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("正しい認証情報でセッションが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		mustSignUp(t, p, "login@example.com", "secret123")

		sess, err := p.Login(context.Background(), "login@example.com", "secret123")
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}
		if sess.AccessToken == "" {
			t.Error("AccessTokenが空")
		}
		if sess.TokenType != "bearer" {
			t.Errorf("TokenType = %q, want %q", sess.TokenType, "bearer")
		}
		if sess.ExpiresIn != 3600 {
			t.Errorf("ExpiresIn = %d, want 3600", sess.ExpiresIn)
		}
	})

	t.Run("最終ログイン日時が記録されること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "last@example.com", "secret123")
		if _, err := p.Login(context.Background(), "last@example.com", "secret123"); err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}

		var last *string
		if err := p.db.QueryRow("SELECT last_sign_in_at FROM users WHERE id = ?", u.ID).Scan(&last); err != nil {
			t.Fatalf("ユーザー取得に失敗: %v", err)
		}
		if last == nil || *last == "" {
			t.Error("last_sign_in_atが記録されていない")
		}
	})

	t.Run("誤ったパスワードと未登録ユーザーで同じエラーが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		mustSignUp(t, p, "wrong@example.com", "secret123")

		_, errPassword := p.Login(context.Background(), "wrong@example.com", "bad-password")
		_, errUnknown := p.Login(context.Background(), "nobody@example.com", "secret123")

		if !errors.Is(errPassword, identity.ErrInvalidCredentials) {
			t.Errorf("誤ったパスワード: err = %v, want ErrInvalidCredentials", errPassword)
		}
		if !errors.Is(errUnknown, identity.ErrInvalidCredentials) {
			t.Errorf("未登録ユーザー: err = %v, want ErrInvalidCredentials", errUnknown)
		}
		if errPassword.Error() != errUnknown.Error() {
			t.Errorf("エラーメッセージが異なる: %q != %q", errPassword.Error(), errUnknown.Error())
		}
	})
}

// TestVerify はVerifyを検証する。
func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("発行したトークンでユーザーが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "verify@example.com", "secret123")
		sess, err := p.Login(context.Background(), "verify@example.com", "secret123")
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}

		id, err := p.Verify(context.Background(), sess.AccessToken)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if id.ID != u.ID {
			t.Errorf("ID = %q, want %q", id.ID, u.ID)
		}
		if id.Email != "verify@example.com" {
			t.Errorf("Email = %q, want %q", id.Email, "verify@example.com")
		}
	})

	t.Run("発行したトークンのクレームが正しいこと", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "claims@example.com", "secret123")
		sess, err := p.Login(context.Background(), "claims@example.com", "secret123")
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}

		token, _, err := new(jwt.Parser).ParseUnverified(sess.AccessToken, &claims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if token.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", token.Method.Alg(), "HS256")
		}
		c := token.Claims.(*claims)
		if c.Subject != u.ID {
			t.Errorf("sub = %q, want %q", c.Subject, u.ID)
		}
		if c.Issuer != "authgate-local" {
			t.Errorf("iss = %q, want %q", c.Issuer, "authgate-local")
		}
		if c.Email != "claims@example.com" {
			t.Errorf("email = %q, want %q", c.Email, "claims@example.com")
		}
		if c.ID == "" {
			t.Error("jtiが空")
		}
	})

	t.Run("期限切れトークンでErrInvalidTokenが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		mustSignUp(t, p, "expired@example.com", "secret123")
		sess, err := p.Login(context.Background(), "expired@example.com", "secret123")
		if err != nil {
			t.Fatalf("Login()でエラーが発生: %v", err)
		}

		p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

		_, err = p.Verify(context.Background(), sess.AccessToken)
		if !errors.Is(err, identity.ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("異なるシークレットで署名されたトークンでErrInvalidTokenが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "forged@example.com", "secret123")

		forged := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   u.ID,
				Issuer:    "authgate-local",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		tokenStr, err := forged.SignedString([]byte("different-secret"))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		_, err = p.Verify(context.Background(), tokenStr)
		if !errors.Is(err, identity.ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("有効期限の無いトークンでErrInvalidTokenが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		u := mustSignUp(t, p, "noexp@example.com", "secret123")

		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: u.ID, Issuer: "authgate-local"},
		}).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		_, err = p.Verify(context.Background(), tokenStr)
		if !errors.Is(err, identity.ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("存在しないユーザーのトークンでErrInvalidTokenが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		tokenStr, err := p.issue("ghost-user", "ghost@example.com", "authenticated", time.Now())
		if err != nil {
			t.Fatalf("issue()でエラーが発生: %v", err)
		}

		_, err = p.Verify(context.Background(), tokenStr)
		if !errors.Is(err, identity.ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("JWT形式でない文字列でErrInvalidTokenが返ること", func(t *testing.T) {
		t.Parallel()

		p := newTestProvider(t)
		_, err := p.Verify(context.Background(), "invalid-token-string")
		if !errors.Is(err, identity.ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
	})
}
