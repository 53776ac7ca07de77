package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/thongdn34/guess-the-word-name/internal/handlers"
)

// accessLog はリクエストごとのアクセスログを出力します
// WebSocketは接続が閉じた時点で1行出力されます
func accessLog(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		ev := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			ev = hlog.FromRequest(r).Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	return hlog.NewHandler(log.Logger)(h)
}

func NewRouter(rooms *handlers.RoomHandler, game *handlers.GameHandler, wsHandler *handlers.WebSocketHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api/v1/room", func(r chi.Router) {
		r.Get("/", rooms.List)
		r.Post("/create", rooms.Create)
		r.Get("/{roomId}", rooms.Get)
		r.Delete("/delete/{roomId}", rooms.Delete)
		r.Post("/{roomId}/join", rooms.Join)
		r.Post("/{roomId}/leave", rooms.Leave)
		r.Post("/{roomId}/touch", rooms.Touch)
		r.Post("/{roomId}/connection", rooms.Connection)
		r.Get("/{roomId}/qr", rooms.QR)

		// ラウンド
		r.Post("/{roomId}/rounds", game.CreateRound)
		r.Post("/{roomId}/rounds/{roundId}/start", game.StartRound)
		r.Post("/{roomId}/rounds/{roundId}/winners", game.MarkWinners)
		r.Post("/{roomId}/new-round", game.StartNewRound)

		// 投票
		r.Post("/{roomId}/votes", game.StartVoting)
		r.Post("/{roomId}/votes/{sessionId}/cast", game.CastVote)
		r.Post("/{roomId}/votes/{sessionId}/end", game.EndVoting)

		// WebSocketエンドポイント
		r.Get("/{roomId}/ws", wsHandler.HandleWebSocket)
	})

	return r
}
