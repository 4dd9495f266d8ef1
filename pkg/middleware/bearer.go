package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/internal/identity"
)

// ゲートの判定結果。メトリクスのラベルとして使用する。
const (
	GateOK          = "ok"
	GateMissing     = "missing"
	GateMalformed   = "malformed"
	GateInvalid     = "invalid"
	GateUnavailable = "unavailable"
)

// コンテキストキー。
const (
	contextKeyUserID   = "user_id"
	contextKeyEmail    = "email"
	contextKeyIdentity = "identity"
)

// GateRecorder は認証ゲートの判定結果を記録する。
type GateRecorder interface {
	ObserveGate(outcome string)
}

// BearerAuth はAuthorizationヘッダーのBearerトークンをIDプロバイダーで検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"identity" を設定する。
// ヘッダーが無い・形式が不正・検証に失敗した場合は401とWWW-Authenticateヘッダーを返す。
// キャッシュやリトライは行わず、リクエストごとにプロバイダーへ問い合わせる。
// recorderはnilでもよい。
func BearerAuth(verifier identity.Verifier, recorder GateRecorder) gin.HandlerFunc {
	observe := func(outcome string) {
		if recorder != nil {
			recorder.ObserveGate(outcome)
		}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			observe(GateMissing)
			abortUnauthorized(c, `Bearer`, "Not authenticated")
			return
		}

		token, ok := parseBearer(authHeader)
		if !ok {
			observe(GateMalformed)
			abortUnauthorized(c, `Bearer error="invalid_request"`, "Invalid authentication credentials")
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err == nil && (id == nil || id.ID == "") {
			err = identity.ErrInvalidToken
		}
		if err != nil {
			outcome := GateInvalid
			if errors.Is(err, identity.ErrUnavailable) {
				outcome = GateUnavailable
			}
			observe(outcome)
			log.Printf("[AuthGate] トークン検証に失敗: path=%s, outcome=%s, error=%v", c.Request.URL.Path, outcome, err)
			abortUnauthorized(c, `Bearer error="invalid_token"`, "Invalid authentication credentials")
			return
		}

		observe(GateOK)
		c.Set(contextKeyUserID, id.ID)
		c.Set(contextKeyEmail, id.Email)
		c.Set(contextKeyIdentity, id)
		c.Next()
	}
}

// parseBearer は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func parseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// abortUnauthorized は401レスポンスを返してチェーンを中断する。
func abortUnauthorized(c *gin.Context, challenge, message string) {
	c.Header("WWW-Authenticate", challenge)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// BearerAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetEmail はGinコンテキストからメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return c.GetString(contextKeyEmail)
}

// GetIdentity はGinコンテキストから検証済みのユーザーを取得する。
// BearerAuthを通過していない場合はnilを返す。
func GetIdentity(c *gin.Context) *identity.Identity {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*identity.Identity)
	return id
}
