package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongdn34/guess-the-word-name/internal/handlers"
	"github.com/thongdn34/guess-the-word-name/internal/models"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
	"github.com/thongdn34/guess-the-word-name/internal/service"
	"github.com/thongdn34/guess-the-word-name/internal/words"
)

type testServer struct {
	*httptest.Server
	store *repo.RedisRoomRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repo.NewRedisRoomRepo(rdb, 3600, 64)
	src := words.NewStatic("test", models.WordPair{WordA: "Heo", WordB: "Lợn"})
	rooms := service.NewRoomService(store, service.NewRoomIDGenerator())
	rounds := service.NewRoundManager(store, src, service.DefaultPointValue)
	votes := service.NewVotingEngine(store)

	router := NewRouter(
		handlers.NewRoomHandler(rooms),
		handlers.NewGameHandler(rounds, votes),
		handlers.NewWebSocketHandler(rooms, votes, nil),
		nil,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

// call はJSONリクエストを送り、ステータスとデコードしたボディを返します
func (s *testServer) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res.StatusCode, out
}

func (s *testServer) mustCall(t *testing.T, method, path string, body any) map[string]any {
	t.Helper()
	status, out := s.call(t, method, path, body)
	require.Equal(t, http.StatusOK, status, "%s %s: %v", method, path, out)
	return out
}

// createRoom は names[0] をホストとしてルームを作り、残りを参加させます
func (s *testServer) createRoom(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	out := s.mustCall(t, http.MethodPost, "/api/v1/room/create", map[string]any{"userName": names[0], "roomName": "party"})
	roomId := out["roomId"].(string)
	ids := []string{out["playerId"].(string)}
	for _, n := range names[1:] {
		out := s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/join", map[string]any{"userName": n})
		ids = append(ids, out["playerId"].(string))
	}
	return roomId, ids
}

func (s *testServer) snapshot(t *testing.T, roomId string) models.Snapshot {
	t.Helper()
	snap, ok, err := s.store.Snapshot(context.Background(), roomId)
	require.NoError(t, err)
	require.True(t, ok)
	return snap
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	res, err := s.Client().Get(s.URL + "/api/v1/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	roomId, ids := s.createRoom(t, "alice", "bob")
	host, bob := ids[0], ids[1]

	view := s.mustCall(t, http.MethodGet, "/api/v1/room/"+roomId+"?userId="+host, nil)
	assert.Equal(t, true, view["isHost"])
	assert.Len(t, view["players"], 2)
	me := view["me"].(map[string]any)
	assert.Equal(t, "alice", me["userName"])

	list := s.mustCall(t, http.MethodGet, "/api/v1/room/", nil)
	require.Len(t, list["rooms"], 1)
	listed := list["rooms"].([]any)[0].(map[string]any)
	assert.Equal(t, roomId, listed["roomId"])
	assert.EqualValues(t, 2, listed["playerCount"])

	res, err := s.Client().Get(s.URL + "/api/rooms/" + roomId)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	status, body := s.call(t, http.MethodPost, "/api/v1/room/"+roomId+"/join", map[string]any{"userName": "ALICE"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "USERNAME_TAKEN", body["code"])

	status, body = s.call(t, http.MethodPost, "/api/v1/room/"+roomId+"/join", map[string]any{"userName": "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", body["code"])

	joined := s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/join", map[string]any{"userName": "Thông"})
	thong := joined["playerId"].(string)
	status, body = s.call(t, http.MethodPost, "/api/v1/room/"+roomId+"/join", map[string]any{"userName": "THÔNG"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "USERNAME_TAKEN", body["code"])
	s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/leave", map[string]any{"userId": thong})

	s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/connection", map[string]any{"userId": bob, "connected": false})
	snap := s.snapshot(t, roomId)
	assert.False(t, snap.Players[1].Connected)

	s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/touch", nil)

	status, body = s.call(t, http.MethodPost, "/api/v1/room/"+roomId+"/leave", map[string]any{"userId": bob, "targetId": host})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_HOST", body["code"])

	s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/leave", map[string]any{"userId": host, "targetId": bob})
	assert.Len(t, s.snapshot(t, roomId).Players, 1)

	status, _ = s.call(t, http.MethodDelete, "/api/v1/room/delete/"+roomId, map[string]any{"userId": bob})
	assert.Equal(t, http.StatusForbidden, status)
	s.mustCall(t, http.MethodDelete, "/api/v1/room/delete/"+roomId, map[string]any{"userId": host})

	status, body = s.call(t, http.MethodGet, "/api/v1/room/"+roomId, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ROOM_NOT_FOUND", body["code"])
}

func TestGameFlow_ImpostorCaught(t *testing.T) {
	s := newTestServer(t)
	roomId, ids := s.createRoom(t, "alice", "bob", "carol")
	host := ids[0]
	base := "/api/v1/room/" + roomId

	status, body := s.call(t, http.MethodPost, base+"/rounds", map[string]any{"userId": ids[1]})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_HOST", body["code"])

	created := s.mustCall(t, http.MethodPost, base+"/rounds", map[string]any{"userId": host})
	roundId := created["roundId"].(string)
	assert.EqualValues(t, 1, created["roundNumber"])
	assert.Equal(t, "test", created["generatedBy"])
	assert.NotContains(t, created, "wordA", "words are not returned before the round starts")

	started := s.mustCall(t, http.MethodPost, base+"/rounds/"+roundId+"/start", map[string]any{"userId": host})
	assert.Contains(t, []any{"Heo", "Lợn"}, started["myWord"])

	round := *s.snapshot(t, roomId).CurrentRound
	impostor := round.ImporterId
	require.Contains(t, ids, impostor)

	// 他のプレイヤーにはインポスターが見えない
	for _, id := range ids {
		view := s.mustCall(t, http.MethodGet, base+"?userId="+id, nil)
		cur := view["currentRound"].(map[string]any)
		assert.NotContains(t, cur, "importerId")
		want := "Heo"
		if id == impostor {
			want = "Lợn"
		}
		assert.Equal(t, want, view["myWord"])
	}

	opened := s.mustCall(t, http.MethodPost, base+"/votes", map[string]any{"userId": host})
	sessionId := opened["session"].(map[string]any)["sessionId"].(string)

	status, body = s.call(t, http.MethodPost, base+"/votes", map[string]any{"userId": host})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "SESSION_ACTIVE", body["code"])

	var scapegoat string
	for _, id := range ids {
		if id != impostor {
			scapegoat = id
			break
		}
	}
	var last map[string]any
	for _, id := range ids {
		target := impostor
		if id == impostor {
			target = scapegoat
		}
		last = s.mustCall(t, http.MethodPost, base+"/votes/"+sessionId+"/cast", map[string]any{"userId": id, "votedForId": target})
	}

	session := last["session"].(map[string]any)
	assert.Equal(t, string(models.SessionCompleted), session["status"], "ends when everyone voted")
	assert.Equal(t, impostor, session["winnerId"])
	assert.Equal(t, true, session["isImpostor"])

	status, body = s.call(t, http.MethodPost, base+"/votes/"+sessionId+"/cast", map[string]any{"userId": host, "votedForId": impostor})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "SESSION_NOT_ACTIVE", body["code"])

	// 解決済みのラウンドは全員に公開される
	view := s.mustCall(t, http.MethodGet, base+"?userId="+ids[1], nil)
	assert.NotContains(t, view, "currentRound")
	rounds := view["rounds"].([]any)
	require.Len(t, rounds, 1)
	done := rounds[0].(map[string]any)
	assert.Equal(t, impostor, done["importerId"])
	assert.Equal(t, "Heo", done["wordA"])
	assert.Equal(t, models.VotingSystem, done["winnerMarkedBy"])

	s.mustCall(t, http.MethodPost, base+"/new-round", map[string]any{"userId": host})
	snap := s.snapshot(t, roomId)
	assert.Empty(t, snap.Room.CurrentRoundId)
	for _, p := range snap.Players {
		assert.False(t, p.Disabled)
	}
}

func TestGameFlow_MarkWinners(t *testing.T) {
	s := newTestServer(t)
	roomId, ids := s.createRoom(t, "alice", "bob")
	host := ids[0]
	base := "/api/v1/room/" + roomId

	created := s.mustCall(t, http.MethodPost, base+"/rounds", map[string]any{"userId": host, "wordA": "Ngô", "wordB": "Bắp"})
	assert.Equal(t, words.SourceManual, created["generatedBy"])
	roundId := created["roundId"].(string)

	status, body := s.call(t, http.MethodPost, base+"/rounds/"+roundId+"/winners", map[string]any{"userId": host, "winnerIds": []string{ids[1]}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "ROUND_NOT_STARTED", body["code"])

	s.mustCall(t, http.MethodPost, base+"/rounds/"+roundId+"/start", map[string]any{"userId": host})
	out := s.mustCall(t, http.MethodPost, base+"/rounds/"+roundId+"/winners", map[string]any{"userId": host, "winnerIds": []string{ids[1], ids[1]}, "points": 0})
	round := out["round"].(map[string]any)
	assert.Equal(t, host, round["winnerMarkedBy"])

	snap := s.snapshot(t, roomId)
	for _, p := range snap.Players {
		if p.PlayerId == ids[1] {
			assert.Equal(t, service.DefaultPointValue, p.Score)
		} else {
			assert.Zero(t, p.Score)
		}
	}

	status, body = s.call(t, http.MethodPost, base+"/rounds/"+roundId+"/winners", map[string]any{"userId": host, "winnerIds": []string{host}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "ROUND_RESOLVED", body["code"])
}

func TestRoomQR(t *testing.T) {
	s := newTestServer(t)
	roomId, _ := s.createRoom(t, "alice")

	res, err := s.Client().Get(s.URL + "/api/v1/room/" + roomId + "/qr")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	png, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	res2, err := s.Client().Get(s.URL + "/api/v1/room/nosuch1/qr")
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusNotFound, res2.StatusCode)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *testServer) dial(t *testing.T, roomId, userId string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/room/" + roomId + "/ws?userId=" + userId
	conn, res, err := websocket.DefaultDialer.Dial(u, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, res, err
}

// readUntil は条件を満たすメッセージが届くまで読み進めます
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func stateWithPlayers(n int) func(wsMessage) bool {
	return func(m wsMessage) bool {
		if m.Type != "state" {
			return false
		}
		var v struct {
			Players []models.Player `json:"players"`
		}
		return json.Unmarshal(m.Payload, &v) == nil && len(v.Players) == n
	}
}

func TestWebSocket_PushesState(t *testing.T) {
	s := newTestServer(t)
	roomId, ids := s.createRoom(t, "alice", "bob")

	_, res, err := s.dial(t, roomId, "stranger")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	conn, _, err := s.dial(t, roomId, ids[0])
	require.NoError(t, err)

	first := readUntil(t, conn, func(m wsMessage) bool { return m.Type == "state" })
	var view struct {
		IsHost bool `json:"isHost"`
		Me     struct {
			Connected bool `json:"connected"`
		} `json:"me"`
	}
	require.NoError(t, json.Unmarshal(first.Payload, &view))
	assert.True(t, view.IsHost)
	assert.True(t, view.Me.Connected)

	s.mustCall(t, http.MethodPost, "/api/v1/room/"+roomId+"/join", map[string]any{"userName": "carol"})
	readUntil(t, conn, stateWithPlayers(3))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	readUntil(t, conn, func(m wsMessage) bool { return m.Type == "pong" })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "cast_vote", "payload": map[string]any{"sessionId": "nope", "votedForId": ids[1]}}))
	errMsg := readUntil(t, conn, func(m wsMessage) bool { return m.Type == "error" })
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(errMsg.Payload, &body))
	assert.Equal(t, "SESSION_NOT_FOUND", body.Code)
}

func TestWebSocket_DisconnectMarksPlayer(t *testing.T) {
	s := newTestServer(t)
	roomId, ids := s.createRoom(t, "alice", "bob")

	conn, _, err := s.dial(t, roomId, ids[1])
	require.NoError(t, err)
	readUntil(t, conn, func(m wsMessage) bool { return m.Type == "state" })
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		for _, p := range s.snapshot(t, roomId).Players {
			if p.PlayerId == ids[1] {
				return !p.Connected
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWebSocket_LeaveAndRoomClosed(t *testing.T) {
	s := newTestServer(t)
	roomId, ids := s.createRoom(t, "alice", "bob")

	bob, _, err := s.dial(t, roomId, ids[1])
	require.NoError(t, err)
	readUntil(t, bob, func(m wsMessage) bool { return m.Type == "state" })
	require.NoError(t, bob.WriteJSON(map[string]any{"type": "leave"}))
	require.Eventually(t, func() bool { return len(s.snapshot(t, roomId).Players) == 1 }, 3*time.Second, 20*time.Millisecond)

	host, _, err := s.dial(t, roomId, ids[0])
	require.NoError(t, err)
	readUntil(t, host, func(m wsMessage) bool { return m.Type == "state" })

	s.mustCall(t, http.MethodDelete, "/api/v1/room/delete/"+roomId, map[string]any{"userId": ids[0]})
	readUntil(t, host, func(m wsMessage) bool { return m.Type == "room_closed" })
}
