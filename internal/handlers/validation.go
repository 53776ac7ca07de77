package handlers

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxUserNameLen は表示名の最大文字数（ルーン数）
const maxUserNameLen = 20

// validateUserId はユーザーIDのバリデーションを行います
// ユーザーIDが空の場合はエラーを返します
func validateUserId(userId string) error {
	return required("userId", userId)
}

// validateRoomId はルームIDのバリデーションを行います
// ルームIDが空の場合はエラーを返します
func validateRoomId(roomId string) error {
	return required("roomId", roomId)
}

// validateUserName は表示名を検証します
// 前後の空白を除いて1〜20文字。制御文字は使えません
func validateUserName(userName string) error {
	name := strings.TrimSpace(userName)
	if name == "" {
		return fmt.Errorf("userName required")
	}
	if utf8.RuneCountInString(name) > maxUserNameLen {
		return fmt.Errorf("userName must be at most %d characters", maxUserNameLen)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return fmt.Errorf("userName must not contain control characters")
	}
	return nil
}

func required(field, v string) error {
	if normalizeID(v) == "" {
		return fmt.Errorf("%s required", field)
	}
	return nil
}
