package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/internal/identity"
	"github.com/nao1215/authgate/pkg/metrics"
	"github.com/nao1215/authgate/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// レスポンスメッセージ。
const (
	messageWelcome         = "Welcome to authgate"
	messageUserCreated     = "User created successfully"
	messageProtected       = "You have accessed a protected route!"
	errInvalidBody         = "invalid request body"
	errIncorrectLogin      = "incorrect email or password"
	errProviderUnavailable = "identity provider unavailable"
)

// Server は認証ゲートサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// provider は計測を付与した外部IDプロバイダー。
	provider identity.Provider
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
}

// credentialsRequest はサインアップ・ログインのリクエストボディ。
type credentialsRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// NewServer は新しいサーバーを生成する。
func NewServer(cfg Config, provider identity.Provider) *Server {
	m := metrics.New()

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))
	router.Use(middleware.Metrics(m))

	s := &Server{
		router:   router,
		port:     cfg.Port,
		provider: observe(provider, m),
		metrics:  m,
	}
	s.setupRoutes()

	return s
}

// Handler はルーターをhttp.Handlerとして返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[AuthGate] シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot())
	s.router.POST("/signup", s.handleSignUp())
	s.router.POST("/login", s.handleLogin())

	// 認証必須のエンドポイント
	s.router.GET("/protected", middleware.BearerAuth(s.provider, s.metrics), s.handleProtected())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "authgate"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// handleRoot は認証状態に関係なく歓迎メッセージを返すハンドラを返す。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": messageWelcome})
	}
}

// handleSignUp はユーザー作成をプロバイダーに転送するハンドラを返す。
// プロバイダーが拒否した場合は理由をそのまま400で返す。
func (s *Server) handleSignUp() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
			return
		}

		user, err := s.provider.SignUp(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, identity.ErrUnavailable) {
				c.JSON(http.StatusBadGateway, gin.H{"error": errProviderUnavailable})
				return
			}
			log.Printf("[SignUp] ユーザー作成が拒否されました: request_id=%s, error=%v", middleware.GetRequestID(c), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": identity.Detail(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": messageUserCreated,
			"user":    user,
		})
	}
}

// handleLogin はログインをプロバイダーに転送するハンドラを返す。
// 認証情報の誤りはメールアドレスとパスワードのどちらが誤っているかを区別せずに400で返す。
// プロバイダーと通信できない場合は認証情報の誤りとは区別して502を返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
			return
		}

		sess, err := s.provider.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, identity.ErrUnavailable) {
				c.JSON(http.StatusBadGateway, gin.H{"error": errProviderUnavailable})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": errIncorrectLogin})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token": sess.AccessToken,
			"token_type":   "bearer",
			"expires_in":   sess.ExpiresIn,
		})
	}
}

// handleProtected は認証済みユーザーの情報を返すハンドラを返す。
// BearerAuthミドルウェアの後に登録すること。
func (s *Server) handleProtected() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":    messageProtected,
			"user_email": middleware.GetEmail(c),
			"user_id":    middleware.GetUserID(c),
		})
	}
}
