package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/service"
	"github.com/thongdn34/guess-the-word-name/internal/state"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
	storeTimeout   = 5 * time.Second
)

// RoomHub は部屋ごとのWebSocket接続を管理します
// 部屋に1人目が接続した時点でストアの購読を始め、最後の1人が切断すると購読を止めます
type RoomHub struct {
	svc   *service.RoomService
	rooms map[string]*Room // ルームIDをキーとしたルームのマップ
	mu    sync.Mutex
}

// Room は1つの部屋のWebSocket接続と最新の状態を保持します
type Room struct {
	roomId  string
	clients map[string]*Client // プレイヤーIDをキーとしたクライアントのマップ
	mu      sync.RWMutex
	state   state.Reducer
	cancel  context.CancelFunc
}

// Client は1つのWebSocket接続を表します
// 書き込みは writePump だけが行い、他のgoroutineは send に積みます
type Client struct {
	userId  string
	conn    *websocket.Conn
	room    *Room
	send    chan WebSocketMessage
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	left   bool // leave メッセージで退出済み
}

// WebSocketMessage はWebSocketで送受信するメッセージの構造
type WebSocketMessage struct {
	Type    string `json:"type"`    // state / pong / error / room_closed
	Payload any    `json:"payload"` // メッセージのペイロード（型は動的）
}

// inboundMessage はクライアントから届くメッセージ
type inboundMessage struct {
	Type    string          `json:"type"` // ping / cast_vote / leave
	Payload json.RawMessage `json:"payload"`
}

// CastVotePayload は投票メッセージのペイロード
type CastVotePayload struct {
	SessionId  string `json:"sessionId"`
	VotedForId string `json:"votedForId"`
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	svc      *service.RoomService
	votes    *service.VotingEngine
	hub      *RoomHub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(s *service.RoomService, votes *service.VotingEngine, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		svc:   s,
		votes: votes,
		hub:   &RoomHub{svc: s, rooms: make(map[string]*Room)},
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// originChecker はCORSと同じオリジン一覧でWebSocketのOriginを検証します
// 一覧が空の場合とOriginヘッダーがない場合は許可します
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(set) == 0 || origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. プレイヤーの確認とWebSocketへのアップグレード
// 2. クライアントの登録と接続状態の更新
// 3. メッセージ受信ループ
// 4. 切断時に接続状態を切断中に戻す（プレイヤーは削除しない）
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	userId := normalizeID(r.URL.Query().Get("userId"))
	if err := validateRoomId(roomId); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	if err := validateUserId(userId); err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	snap, err := h.svc.GetState(r.Context(), roomId)
	if err != nil {
		respondServiceError(w, r, "websocket", err)
		return
	}
	if !isMember(snap, userId) {
		respondServiceError(w, r, "websocket", service.ErrPlayerNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("roomId", roomId).Msg("websocket upgrade failed")
		return
	}

	client, err := h.hub.registerClient(roomId, userId, conn)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomId).Msg("failed to subscribe room")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		_ = conn.Close()
		return
	}
	go client.writePump()

	h.setConnected(roomId, userId, true)
	log.Info().Str("roomId", roomId).Str("userId", userId).Msg("websocket connected")

	h.readLoop(client)

	current := h.hub.unregisterClient(client)
	if current && !client.hasLeft() {
		h.setConnected(roomId, userId, false)
	}
	log.Info().Str("roomId", roomId).Str("userId", userId).Msg("websocket disconnected")
}

func isMember(snap models.Snapshot, userId string) bool {
	for _, p := range snap.Players {
		if p.PlayerId == userId {
			return true
		}
	}
	return false
}

func (h *WebSocketHandler) setConnected(roomId, userId string, connected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.svc.SetConnected(ctx, roomId, userId, connected); err != nil {
		log.Warn().Err(err).Str("roomId", roomId).Str("userId", userId).Bool("connected", connected).Msg("failed to update connection state")
	}
}

// readLoop はクライアントからのメッセージを処理します
func (h *WebSocketHandler) readLoop(c *Client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("userId", c.userId).Msg("websocket read error")
			}
			return
		}
		if !c.limiter.Allow() {
			c.enqueue(errorMessage("too many messages", "RATE_LIMITED"))
			continue
		}

		// メッセージタイプに応じて処理
		switch msg.Type {
		case "ping":
			c.enqueue(WebSocketMessage{Type: "pong"})
		case "cast_vote":
			h.handleCastVote(c, msg.Payload)
		case "leave":
			if h.handleLeave(c) {
				return
			}
		default:
			c.enqueue(errorMessage("unknown message type: "+msg.Type, "BAD_REQUEST"))
		}
	}
}

func (h *WebSocketHandler) handleCastVote(c *Client, raw json.RawMessage) {
	var p CastVotePayload
	if err := json.Unmarshal(raw, &p); err != nil || normalizeID(p.SessionId) == "" || normalizeID(p.VotedForId) == "" {
		c.enqueue(errorMessage("sessionId and votedForId required", "BAD_REQUEST"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := h.votes.CastVote(ctx, c.room.roomId, normalizeID(p.SessionId), c.userId, normalizeID(p.VotedForId)); err != nil {
		c.enqueue(serviceErrorMessage(c, "cast vote", err))
	}
	// 成功時は購読経由で全員に新しい状態が届く
}

// handleLeave はプレイヤーをルームから削除します。成功した場合は true
func (h *WebSocketHandler) handleLeave(c *Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.svc.RemovePlayer(ctx, c.room.roomId, c.userId, c.userId); err != nil {
		c.enqueue(serviceErrorMessage(c, "leave", err))
		return false
	}
	c.mu.Lock()
	c.left = true
	c.mu.Unlock()
	return true
}

func errorMessage(msg, code string) WebSocketMessage {
	return WebSocketMessage{Type: "error", Payload: errorResponse{Message: msg, Code: code}}
}

func serviceErrorMessage(c *Client, op string, err error) WebSocketMessage {
	if service.KindOf(err) == service.KindInternal {
		log.Error().Err(err).Str("op", op).Str("roomId", c.room.roomId).Str("userId", c.userId).Msg("websocket command failed")
		return errorMessage("internal error", service.CodeOf(err))
	}
	return errorMessage(err.Error(), service.CodeOf(err))
}

func stateMessage(snap models.Snapshot, userId string) WebSocketMessage {
	return WebSocketMessage{Type: "state", Payload: state.NewView(snap, userId)}
}

// registerClient はクライアントを登録します
// ルームの購読がまだなければ開始し、保持中の状態があればすぐに送ります
// 同じプレイヤーの古い接続は閉じます
func (hub *RoomHub) registerClient(roomId, userId string, conn *websocket.Conn) (*Client, error) {
	hub.mu.Lock()
	room, exists := hub.rooms[roomId]
	if !exists {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := hub.svc.Watch(ctx, roomId)
		if err != nil {
			hub.mu.Unlock()
			cancel()
			return nil, err
		}
		room = &Room{roomId: roomId, clients: make(map[string]*Client), cancel: cancel}
		hub.rooms[roomId] = room
		go hub.run(ctx, room, stream)
	}

	client := &Client{
		userId:  userId,
		conn:    conn,
		room:    room,
		send:    make(chan WebSocketMessage, sendBuffer),
		limiter: rate.NewLimiter(5, 10),
	}
	room.mu.Lock()
	old := room.clients[userId]
	room.clients[userId] = client
	room.mu.Unlock()
	hub.mu.Unlock()

	if old != nil {
		old.close()
	}
	if snap, ok := room.state.Current(); ok {
		client.enqueue(stateMessage(snap, userId))
	}
	return client, nil
}

// run はストアから届くスナップショットを各クライアント向けの表示に変換して配信します
// ルームが削除されると全クライアントに通知して接続を閉じます
func (hub *RoomHub) run(ctx context.Context, room *Room, stream <-chan models.Snapshot) {
	room.state.Run(ctx, stream, func(snap models.Snapshot) {
		hub.broadcastState(room, snap)
	})
	if ctx.Err() != nil {
		return
	}

	log.Info().Str("roomId", room.roomId).Msg("room closed, disconnecting clients")
	hub.mu.Lock()
	if hub.rooms[room.roomId] == room {
		delete(hub.rooms, room.roomId)
	}
	hub.mu.Unlock()
	room.cancel()

	room.mu.RLock()
	defer room.mu.RUnlock()
	for _, c := range room.clients {
		c.enqueue(WebSocketMessage{Type: "room_closed", Payload: map[string]string{"roomId": room.roomId}})
		c.close()
	}
}

// unregisterClient はクライアントの登録を解除します
// 解除したのがそのプレイヤーの現在の接続だった場合は true
// ルームが空になった場合は購読を止めてルーム自体を削除します
func (hub *RoomHub) unregisterClient(client *Client) bool {
	client.close()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	room := client.room
	room.mu.Lock()
	current := room.clients[client.userId] == client
	if current {
		delete(room.clients, client.userId)
	}
	isEmpty := len(room.clients) == 0
	room.mu.Unlock()

	// 部屋が空になったら削除
	if isEmpty && hub.rooms[room.roomId] == room {
		delete(hub.rooms, room.roomId)
		room.cancel()
	}
	return current
}

// broadcastState は部屋内の全クライアントにそれぞれの視点の状態を送ります
func (hub *RoomHub) broadcastState(room *Room, snap models.Snapshot) {
	room.mu.RLock()
	defer room.mu.RUnlock()
	for userId, c := range room.clients {
		c.enqueue(stateMessage(snap, userId))
	}
}

// enqueue は送信キューにメッセージを積みます
// キューが詰まっているクライアントは切断します
func (c *Client) enqueue(msg WebSocketMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("roomId", c.room.roomId).Str("userId", c.userId).Msg("send buffer full, dropping client")
		c.closed = true
		close(c.send)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) hasLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

// writePump は送信キューのメッセージを書き込み、定期的にpingを送ります
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Err(err).Str("userId", c.userId).Msg("websocket write failed")
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
