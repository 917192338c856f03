package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skin-accounts/internal/account"
	"skin-accounts/internal/db"
	"skin-accounts/internal/discord"
	"skin-accounts/internal/guard"
	"skin-accounts/internal/hiatus"
	"skin-accounts/internal/maintenance"
	"skin-accounts/internal/observability"
	"skin-accounts/internal/provider"
	"skin-accounts/internal/secure"
	"skin-accounts/internal/session"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *zap.Logger
	// Drain waits for background Discord notifications.
	Drain func(ctx context.Context) error
	Close func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	server := envOrDefault("SERVER_NAME", hostname())
	logConfig := observability.LogConfigFromEnv()
	logConfig.Server = server
	logger, err := observability.NewLogger(logConfig)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	redisURL, err := mustEnv("REDIS_URL")
	if err != nil {
		return nil, err
	}
	sessionSecret, err := mustEnv("SESSION_SECRET")
	if err != nil {
		return nil, err
	}
	escrowKey, err := mustEnv("PASSWORD_ENCRYPTION_KEY")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development"), server); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	cipher, err := secure.NewCipher(escrowKey)
	if err != nil {
		return nil, fmt.Errorf("init password cipher: %w", err)
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(startupCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(startupCtx, database, logger); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOptions)
	if err := redisClient.Ping(startupCtx).Err(); err != nil {
		_ = redisClient.Close()
		_ = database.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	closeAll := func() error {
		return errors.Join(redisClient.Close(), database.Close())
	}

	providerClient := provider.NewHTTPClient(envSecondsOrDefault("PROVIDER_TIMEOUT_SECONDS", 10))
	microsoftEndpoints := provider.DefaultMicrosoftEndpoints()
	microsoftEndpoints.ClientID = os.Getenv("MICROSOFT_CLIENT_ID")
	mojang := provider.NewMojang(provider.DefaultMojangEndpoints(), providerClient)
	microsoft := provider.NewMicrosoft(microsoftEndpoints, providerClient)
	profiles := provider.NewCachedProfiles(
		provider.NewProfiles(os.Getenv("PROFILE_URL"), providerClient),
		redisClient,
		"profile",
		envSecondsOrDefault("PROFILE_CACHE_SECONDS", 60),
	)

	sessions, err := session.NewStore(redisClient, session.StoreOptions{
		Secret:       sessionSecret,
		TTL:          envSecondsOrDefault("SESSION_TTL_SECONDS", 600),
		SecureCookie: EnvBoolOrDefault("SESSION_COOKIE_SECURE", envOrDefault("APP_ENV", "development") == "production"),
	})
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("init session store: %w", err)
	}
	validator := session.NewValidator(profiles)

	accountRepo := account.NewRepository(database)
	accountService := account.NewService(accountRepo, cipher, logger, server)
	accountHandler := account.NewHandler(sessions, validator, mojang, microsoft, accountService, logger).
		WithProfileCache(profiles)

	discordClient := provider.NewHTTPClient(envSecondsOrDefault("DISCORD_TIMEOUT_SECONDS", 10))
	discordHandler := discord.NewHandler(discord.Options{
		Sessions:  sessions,
		Validator: validator,
		Accounts:  accountService,
		Links:     discord.NewRedisLinkStore(redisClient, "discord_link"),
		OAuth: discord.NewOAuthClient(discord.OAuthConfig{
			ClientID:     os.Getenv("DISCORD_CLIENT_ID"),
			ClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("DISCORD_REDIRECT_URL"),
		}, discordClient),
		Bot: discord.NewBot(discord.BotConfig{
			Token:           os.Getenv("DISCORD_BOT_TOKEN"),
			GuildID:         os.Getenv("DISCORD_GUILD_ID"),
			OwnerRoleID:     os.Getenv("DISCORD_OWNER_ROLE_ID"),
			AnnounceChannel: os.Getenv("DISCORD_ANNOUNCE_CHANNEL_ID"),
		}, discordClient),
		LinkTTL: envSecondsOrDefault("DISCORD_LINK_TTL_SECONDS", 600),
		Logger:  logger,
	})

	hiatusHandler := hiatus.NewHandler(accountRepo, logger)
	resetHandler := maintenance.NewResetHandler(accountRepo, logger, envIntOrDefault("COUNTER_RESET_BATCH_SIZE", 500))

	loginLimiter := guard.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	accountHandler.Register(mux, loginLimiter.Middleware)
	discordHandler.Register(mux)
	hiatusHandler.Register(mux)
	mux.Handle("POST /internal/maintenance/reset-counters",
		guard.Middleware(os.Getenv("MAINTENANCE_JWT_SECRET"), http.HandlerFunc(resetHandler.Handle)))
	mux.HandleFunc("GET /health", healthHandler(database, redisClient))

	accessLogger, accessCloser, err := observability.NewAccessLogger(logger, os.Getenv("ACCESS_LOG_DIR"))
	if err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("init access log: %w", err)
	}

	handler := observability.RecoverMiddleware(logger,
		observability.ServerHeaderMiddleware(server,
			observability.RequestLoggingMiddleware(accessLogger, mux)))

	logger.Info("runtime_built",
		zap.Bool("discord_oauth", os.Getenv("DISCORD_CLIENT_ID") != ""),
		zap.Bool("maintenance", os.Getenv("MAINTENANCE_JWT_SECRET") != ""),
	)

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Drain:   discordHandler.Wait,
		Close: func() error {
			observability.FlushSentry()
			_ = logger.Sync()
			return errors.Join(accessCloser.Close(), closeAll())
		},
	}, nil
}

func healthHandler(database *sql.DB, redisClient redis.UniversalClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"database": "ok", "redis": "ok"}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = "down"
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			status = http.StatusServiceUnavailable
			checks["redis"] = "down"
		}

		body := map[string]any{"status": "ok", "checks": checks, "time": time.Now().UTC().Format(time.RFC3339)}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "accounts"
	}
	return name
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
