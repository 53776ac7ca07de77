package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"github.com/thongdn34/guess-the-word-name/internal/service"
	"github.com/thongdn34/guess-the-word-name/internal/state"
)

type RoomHandler struct {
	svc *service.RoomService
}

func NewRoomHandler(s *service.RoomService) *RoomHandler { return &RoomHandler{svc: s} }

type createRoomRequest struct {
	UserName string `json:"userName"`
	RoomName string `json:"roomName"`
}

func (r createRoomRequest) validate() error {
	return validateUserName(r.UserName)
}

type userRequest struct {
	UserId string `json:"userId"`
}

func (r userRequest) validate() error {
	return validateUserId(r.UserId)
}

type joinRequest struct {
	UserName string `json:"userName"`
}

func (r joinRequest) validate() error {
	return validateUserName(r.UserName)
}

type leaveRequest struct {
	UserId   string `json:"userId"`
	TargetId string `json:"targetId"` // 省略時は本人
}

func (r leaveRequest) validate() error {
	return validateUserId(r.UserId)
}

type connectionRequest struct {
	UserId    string `json:"userId"`
	Connected bool   `json:"connected"`
}

func (r connectionRequest) validate() error {
	return validateUserId(r.UserId)
}

// roomIdParam はURLのルームIDを取り出します。不正な場合はレスポンスを返して false
func roomIdParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomId(roomId); err != nil {
		respondBadRequest(w, err.Error())
		return "", false
	}
	return roomId, true
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.ListRooms(r.Context())
	if err != nil {
		respondServiceError(w, r, "list rooms", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in createRoomRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	roomId, playerId, err := h.svc.CreateRoom(r.Context(), strings.TrimSpace(in.UserName), in.RoomName)
	if err != nil {
		respondServiceError(w, r, "create room", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "roomId": roomId, "playerId": playerId})
}

// Get はルームの状態を返します。userId を指定するとそのプレイヤーから見た状態になります
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.GetState(r.Context(), roomId)
	if err != nil {
		respondServiceError(w, r, "get room", err)
		return
	}
	respondJSON(w, http.StatusOK, state.NewView(snap, normalizeID(r.URL.Query().Get("userId"))))
}

func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in userRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	if err := h.svc.DeleteRoom(r.Context(), roomId, normalizeID(in.UserId)); err != nil {
		respondServiceError(w, r, "delete room", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in joinRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	playerId, err := h.svc.JoinRoom(r.Context(), roomId, strings.TrimSpace(in.UserName))
	if err != nil {
		respondServiceError(w, r, "join room", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "playerId": playerId})
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in leaveRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	requester := normalizeID(in.UserId)
	target := normalizeID(in.TargetId)
	if target == "" {
		target = requester
	}
	if err := h.svc.RemovePlayer(r.Context(), roomId, target, requester); err != nil {
		respondServiceError(w, r, "leave room", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *RoomHandler) Touch(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Touch(r.Context(), roomId); err != nil {
		respondServiceError(w, r, "touch room", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Connection はプレイヤーの接続状態を更新します（WebSocketを使わないクライアント用）
func (h *RoomHandler) Connection(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	var in connectionRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	if err := h.svc.SetConnected(r.Context(), roomId, normalizeID(in.UserId), in.Connected); err != nil {
		respondServiceError(w, r, "set connection", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// QR はルームの参加ページURLをQRコード（PNG）で返します
func (h *RoomHandler) QR(w http.ResponseWriter, r *http.Request) {
	roomId, ok := roomIdParam(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.GetState(r.Context(), roomId); err != nil {
		respondServiceError(w, r, "room qr", err)
		return
	}

	png, err := qrcode.Encode(shareURL(r, roomId), qrcode.Medium, qrSize)
	if err != nil {
		respondServiceError(w, r, "room qr", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

const qrSize = 320

// shareURL はリクエストのホストからルームの参加ページURLを組み立てます
func shareURL(r *http.Request, roomId string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/room/" + roomId
}
