package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/service"
)

// errorResponse はエラーレスポンスの構造
type errorResponse struct {
	Message string `json:"message"` // エラーメッセージ
	Code    string `json:"code"`    // 機械可読なエラーコード
}

// respondJSON はJSONレスポンスを返します
// payloadがnilの場合は空のレスポンスを返します
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// respondError はエラーレスポンスを返します
func respondError(w http.ResponseWriter, status int, msg, code string) {
	respondJSON(w, status, errorResponse{Message: msg, Code: code})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	respondError(w, http.StatusBadRequest, msg, "BAD_REQUEST")
}

// statusOf はサービス層のエラー分類をHTTPステータスに変換します
func statusOf(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusUnprocessableEntity
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError はサービス層のエラーをレスポンスに変換します
// 内部エラーの詳細はクライアントに返さずログにだけ残します
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		log.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error", service.CodeOf(err))
		return
	}
	log.Debug().Err(err).Str("op", op).Str("kind", kind.String()).Msg("request rejected")
	respondError(w, statusOf(kind), err.Error(), service.CodeOf(err))
}

// decodeJSON はリクエストボディからJSONをデコードします
// デコードに失敗した場合は、エラーレスポンスを返してfalseを返します
// 成功した場合はtrueを返します
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	// 最低限の防御: 大きすぎるリクエストを防ぐ（1MB制限）
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			respondBadRequest(w, "invalid JSON payload")
			return false
		}
		respondBadRequest(w, "bad request")
		return false
	}
	return true
}

// normalizeID はIDの前後の空白を削除して正規化します
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
