package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/internal/identity/local"
	"github.com/nao1215/authgate/internal/identity/supabase"
)

// fakeObserver はプロバイダー呼び出しの記録を保持する。
type fakeObserver struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeObserver) ObserveProviderCall(operation, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, operation+"/"+result)
}

// TestResultLabel はエラーからメトリクスラベルへの変換を検証する。
func TestResultLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "成功", err: nil, want: "ok"},
		{name: "通信不可", err: &identity.ProviderError{Kind: identity.ErrUnavailable}, want: "unavailable"},
		{name: "認証情報の誤り", err: identity.ErrInvalidCredentials, want: "invalid_credentials"},
		{name: "不正なトークン", err: fmt.Errorf("wrap: %w", identity.ErrInvalidToken), want: "invalid_token"},
		{name: "登録済み", err: &identity.ProviderError{Kind: identity.ErrUserExists, StatusCode: http.StatusUnprocessableEntity}, want: "user_exists"},
		{name: "弱いパスワード", err: identity.ErrWeakPassword, want: "weak_password"},
		{name: "その他の拒否", err: errors.New("boom"), want: "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := resultLabel(tt.err); got != tt.want {
				t.Errorf("resultLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestObserve はプロバイダー呼び出しの計測を検証する。
func TestObserve(t *testing.T) {
	t.Parallel()

	t.Run("observerがnilの場合はそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		fp := &fakeProvider{}
		if got := observe(fp, nil); got != identity.Provider(fp) {
			t.Error("ラップされたプロバイダーが返された")
		}
	})

	t.Run("各操作の結果を記録し戻り値を変えないこと", func(t *testing.T) {
		t.Parallel()

		fp := &fakeProvider{
			signUpUser: &identity.User{ID: "u-1"},
			loginErr:   &identity.ProviderError{Kind: identity.ErrUnavailable, Message: "timeout"},
			tokens:     map[string]*identity.Identity{"tok": {ID: "u-1"}},
		}
		obs := &fakeObserver{}
		p := observe(fp, obs)
		ctx := context.Background()

		if u, err := p.SignUp(ctx, "a@example.com", "secret123"); err != nil || u.ID != "u-1" {
			t.Errorf("SignUp() = %v, %v", u, err)
		}
		if _, err := p.Login(ctx, "a@example.com", "secret123"); !errors.Is(err, identity.ErrUnavailable) {
			t.Errorf("Login() error = %v, want ErrUnavailable", err)
		}
		if id, err := p.Verify(ctx, "tok"); err != nil || id.ID != "u-1" {
			t.Errorf("Verify() = %v, %v", id, err)
		}
		if _, err := p.Verify(ctx, "bad"); !errors.Is(err, identity.ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}

		want := []string{"signup/ok", "login/unavailable", "verify/ok", "verify/invalid_token"}
		if len(obs.calls) != len(want) {
			t.Fatalf("calls = %v, want %v", obs.calls, want)
		}
		for i := range want {
			if obs.calls[i] != want[i] {
				t.Errorf("calls[%d] = %q, want %q", i, obs.calls[i], want[i])
			}
		}
	})
}

// TestNewProvider は設定に応じたプロバイダー生成を検証する。
func TestNewProvider(t *testing.T) {
	t.Parallel()

	t.Run("supabaseを指定するとSupabaseプロバイダーを返すこと", func(t *testing.T) {
		t.Parallel()

		p, closeFn, err := NewProvider(context.Background(), Config{Provider: ProviderSupabase, SupabaseURL: "http://localhost:54321", SupabaseKey: "anon"})
		if err != nil {
			t.Fatalf("NewProvider()でエラーが発生: %v", err)
		}
		if _, ok := p.(*supabase.Provider); !ok {
			t.Errorf("プロバイダーの型 = %T, want *supabase.Provider", p)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close()でエラーが発生: %v", err)
		}
	})

	t.Run("localを指定するとローカルプロバイダーを返すこと", func(t *testing.T) {
		t.Parallel()

		p, closeFn, err := NewProvider(context.Background(), Config{
			Provider:       ProviderLocal,
			LocalDBPath:    filepath.Join(t.TempDir(), "authgate.db"),
			LocalJWTSecret: "test-secret-key",
		})
		if err != nil {
			t.Fatalf("NewProvider()でエラーが発生: %v", err)
		}
		if _, ok := p.(*local.Provider); !ok {
			t.Errorf("プロバイダーの型 = %T, want *local.Provider", p)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close()でエラーが発生: %v", err)
		}
	})

	t.Run("署名鍵が空の場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		_, _, err := NewProvider(context.Background(), Config{
			Provider:    ProviderLocal,
			LocalDBPath: filepath.Join(t.TempDir(), "authgate.db"),
		})
		if err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("未知のプロバイダーはエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, _, err := NewProvider(context.Background(), Config{Provider: "firebase"}); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}
