// Package httpclient は外部HTTP APIを呼び出すJSONクライアントを提供する。
//
// IDプロバイダー（Supabase Auth）へのリクエストで使用する。
// APIキー等の共通ヘッダー、リクエスト単位のBearerトークン伝播、
// 2xx以外のレスポンスのStatusErrorへの変換を統一的に扱う。
package httpclient
