// Package identity は外部IDプロバイダーを抽象化する能力インターフェースを定義する。
//
// サインアップ、ログイン、トークン検証の3つの操作のみを公開し、
// パスワードのハッシュ化やトークンの発行・署名検証はすべてプロバイダー側の責務とする。
// 本番ではSupabase Auth（supabaseパッケージ）、開発時はローカル実装（localパッケージ）を使用する。
package identity
