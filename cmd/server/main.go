package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thongdn34/guess-the-word-name/internal/config"
	"github.com/thongdn34/guess-the-word-name/internal/handlers"
	httpx "github.com/thongdn34/guess-the-word-name/internal/http"
	"github.com/thongdn34/guess-the-word-name/internal/logger"
	"github.com/thongdn34/guess-the-word-name/internal/repo"
	"github.com/thongdn34/guess-the-word-name/internal/service"
	"github.com/thongdn34/guess-the-word-name/internal/words"
)

const releaseVersion = "0.1.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logger.Init("info", true)
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg := &config.Config{}
	if err := newCmd(cfg).Execute(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "guess-the-word",
		Short:         "Realtime backend for the guess-the-word party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Finalize(); err != nil {
				return err
			}
			logger.Init(cfg.LogLevel, cfg.LogPretty)
			return serve(cmd.Context(), cfg)
		},
	}
	config.Bind(cmd.Flags(), cfg)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	return cmd
}

// wordSource は設定に応じてお題の取得元を組み立てます
// 優先する取得元をルームごとの回数制限で包み、失敗したときは既定のお題を使います
func wordSource(ctx context.Context, cfg *config.Config) (words.Source, func()) {
	var primary words.Source
	cleanup := func() {}

	switch {
	case cfg.WordsPostgresURL != "":
		pg, err := words.NewPostgresSource(ctx, cfg.WordsPostgresURL)
		if err != nil {
			log.Warn().Err(err).Msg("postgres word source unavailable, using defaults")
			break
		}
		primary = pg
		cleanup = pg.Close
	case cfg.WordsCSV != "":
		primary = words.NewCSVSource(cfg.WordsCSV)
	}

	if primary != nil {
		log.Info().Str("source", primary.Name()).Int("perMinute", cfg.WordsRatePerMin).Msg("word source configured")
		primary = words.NewLimited(primary, cfg.WordsRatePerMin)
	}
	return words.NewFallback(primary, words.DefaultPairs), cleanup
}

func serve(ctx context.Context, cfg *config.Config) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     10,              // 接続プールサイズ
		MinIdleConns: 5,               // 最小アイドル接続数
		MaxRetries:   3,               // リトライ回数
		DialTimeout:  5 * time.Second, // 接続タイムアウト
		ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
		WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
		PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
	})
	defer rdb.Close()

	// Redis接続確認
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	src, closeWords := wordSource(ctx, cfg)
	defer closeWords()

	rr := repo.NewRedisRoomRepo(rdb, cfg.RoomTTL, cfg.TxRetries)
	rooms := service.NewRoomService(rr, service.NewRoomIDGenerator())
	rounds := service.NewRoundManager(rr, src, cfg.PointValue)
	votes := service.NewVotingEngine(rr)

	router := httpx.NewRouter(
		handlers.NewRoomHandler(rooms),
		handlers.NewGameHandler(rounds, votes),
		handlers.NewWebSocketHandler(rooms, votes, cfg.AllowedOrigin),
		cfg.AllowedOrigin,
	)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown用のシグナル
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// サーバーを別goroutineで起動
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.APIAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// シャットダウンシグナルを待つ
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-sigCtx.Done():
	}
	log.Info().Msg("shutdown signal received, shutting down gracefully...")

	// 30秒のタイムアウトでGraceful Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
