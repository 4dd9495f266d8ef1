// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンによる認証ゲート、リクエストID、パニックリカバリ、
// CORS設定、Prometheusメトリクスの記録を含む。
package middleware
