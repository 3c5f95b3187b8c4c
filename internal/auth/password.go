package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// placeholderPrefix はディレクトリ由来ユーザーのプレースホルダーハッシュの接頭辞。
// bcryptのハッシュは必ず"$2"で始まるため、この値と衝突しない。
const placeholderPrefix = "!directory:"

// HashPassword は平文パスワードをbcryptでハッシュ化する。
func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword は平文パスワードがハッシュと一致するかどうかを返す。
// プレースホルダーハッシュや空のハッシュには常にfalseを返す。
func VerifyPassword(plain, hash string) bool {
	if hash == "" || IsPlaceholderHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// PlaceholderHash はディレクトリ由来ユーザー用の決定的なプレースホルダーを返す。
// bcryptハッシュではないため、この値でローカルログインすることはできない。
func PlaceholderHash(username string) string {
	sum := sha256.Sum256([]byte(username))
	return placeholderPrefix + hex.EncodeToString(sum[:])
}

// IsPlaceholderHash はhashがPlaceholderHashで生成された値かどうかを返す。
func IsPlaceholderHash(hash string) bool {
	return strings.HasPrefix(hash, placeholderPrefix)
}
