// Package config はアプリケーションの設定を管理します
// フラグ・環境変数（.env を含む）から設定を読み込み、デフォルト値を提供します
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultAPIAddr    = ":8080"          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr  = "localhost:6379" // Redisのデフォルト接続先
	defaultRoomTTLSec = 60 * 60          // ルームのデフォルトTTL（1時間）
	defaultWordsRate  = 6                // ルームごとのお題生成回数（1分あたり）
	defaultPointValue = 50               // 勝者1人あたりの加点
	defaultTxRetries  = 16               // 楽観ロック競合時のリトライ回数
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:3002",
}

// envNames はフラグ名と環境変数名の対応
var envNames = map[string]string{
	"addr":               "API_ADDR",
	"redis-addr":         "REDIS_ADDR",
	"room-ttl":           "ROOM_TTL_SEC",
	"cors-origins":       "CORS_ALLOWED_ORIGINS",
	"words-csv":          "WORDS_CSV",
	"words-postgres-url": "WORDS_POSTGRES_URL",
	"words-rate":         "WORDS_RATE_PER_MIN",
	"point-value":        "POINT_VALUE",
	"tx-retries":         "TX_RETRIES",
	"log-level":          "LOG_LEVEL",
	"log-pretty":         "LOG_PRETTY",
}

// Config はアプリケーションの設定を保持します
type Config struct {
	APIAddr          string   // APIサーバーのリッスンアドレス
	RedisAddr        string   // Redisの接続先
	RoomTTL          int      // ルームのTTL（秒）
	AllowedOrigin    []string // CORSで許可するオリジン一覧
	WordsCSV         string   // お題CSVのパス（任意）
	WordsPostgresURL string   // お題テーブルの接続文字列（任意）
	WordsRatePerMin  int
	PointValue       int
	TxRetries        int
	LogLevel         string
	LogPretty        bool
}

// LoadDotEnv はカレントディレクトリの .env を環境変数に読み込みます
// ファイルがなければ何もしません。既に設定済みの環境変数は上書きしません
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
		log.Debug().Str("path", p).Msg("loaded env file")
	}
	return nil
}

// Bind はフラグを登録し、対応する環境変数の値をフラグのデフォルトとして反映します
// コマンドラインで指定されたフラグは環境変数より優先されます
func Bind(flags *pflag.FlagSet, cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	flags.StringVar(&cfg.APIAddr, "addr", defaultAPIAddr, "address to listen on (env: API_ADDR)")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", defaultRedisAddr, "redis address (env: REDIS_ADDR)")
	flags.IntVar(&cfg.RoomTTL, "room-ttl", defaultRoomTTLSec, "seconds before an idle room expires (env: ROOM_TTL_SEC)")
	flags.StringSliceVar(&cfg.AllowedOrigin, "cors-origins", defaultAllowedOrigins, "comma separated CORS origins (env: CORS_ALLOWED_ORIGINS)")
	flags.StringVar(&cfg.WordsCSV, "words-csv", "", "path to a wordA,wordB csv file (env: WORDS_CSV)")
	flags.StringVar(&cfg.WordsPostgresURL, "words-postgres-url", "", "postgres connection string for the word_pairs table (env: WORDS_POSTGRES_URL)")
	flags.IntVar(&cfg.WordsRatePerMin, "words-rate", defaultWordsRate, "word pairs a room may draw per minute (env: WORDS_RATE_PER_MIN)")
	flags.IntVar(&cfg.PointValue, "point-value", defaultPointValue, "points awarded to each winner (env: POINT_VALUE)")
	flags.IntVar(&cfg.TxRetries, "tx-retries", defaultTxRetries, "retries for conflicting room transactions (env: TX_RETRIES)")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: LOG_LEVEL)")
	flags.BoolVar(&cfg.LogPretty, "log-pretty", false, "human readable console logs (env: LOG_PRETTY)")

	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		if env, ok := envNames[f.Name]; ok {
			_ = v.BindEnv(f.Name, env)
		}
		if !f.Changed && v.IsSet(f.Name) {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				log.Warn().Err(err).Str("flag", f.Name).Msg("invalid environment value, fallback to default")
				_ = flags.Set(f.Name, f.DefValue)
				f.Changed = false
			}
		}
	})
	return v
}

// Load は引数と環境変数から設定を読み込み、検証します
func Load(args []string) (Config, error) {
	var cfg Config
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	Bind(flags, &cfg)
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Finalize はフラグ解析後の設定を整えて検証します
func (c *Config) Finalize() error {
	c.normalize()
	return c.Validate()
}

// normalize はオリジン一覧の空要素を取り除きます
func (c *Config) normalize() {
	out := make([]string, 0, len(c.AllowedOrigin))
	for _, o := range c.AllowedOrigin {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	c.AllowedOrigin = out
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIAddr) == "" {
		return errors.New("addr must not be empty")
	}
	if strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("redis-addr must not be empty")
	}
	if c.RoomTTL <= 0 {
		return fmt.Errorf("invalid room-ttl (must be positive): %d", c.RoomTTL)
	}
	if c.PointValue <= 0 {
		return fmt.Errorf("invalid point-value (must be positive): %d", c.PointValue)
	}
	if c.TxRetries <= 0 {
		return fmt.Errorf("invalid tx-retries (must be positive): %d", c.TxRetries)
	}
	if c.WordsRatePerMin < 0 {
		return fmt.Errorf("invalid words-rate: %d", c.WordsRatePerMin)
	}
	return nil
}
