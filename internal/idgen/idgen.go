package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// NewRoomID は7文字の英数字ルームコードを生成します
func NewRoomID() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 7)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = chars[b[i]%byte(len(chars))]
	}
	return string(b), nil
}

// NewPlayerID はプレイヤーID（UUID v4）を生成します
func NewPlayerID() string {
	return uuid.NewString()
}
