// Package authgate は外部IDプロバイダーに認証を委譲するHTTPサービスの内部実装を提供する。
//
// サインアップ・ログインはプロバイダーへの転送のみを行い、
// /protected はBearerトークンをプロバイダーで検証した場合にだけアクセスを許可する。
// トークンの発行・署名検証・ユーザーの保存はこのサービスでは行わない。
package authgate
