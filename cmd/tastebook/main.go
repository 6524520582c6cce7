package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tastebook/tastebook/pkg/authflow"
	"github.com/tastebook/tastebook/pkg/authflow/authapi"
	"github.com/tastebook/tastebook/pkg/authsession"
	"github.com/tastebook/tastebook/pkg/client"
	"github.com/tastebook/tastebook/pkg/notification"
	"github.com/tastebook/tastebook/pkg/provider"
	"github.com/tastebook/tastebook/pkg/ratelimit"
	"github.com/tastebook/tastebook/pkg/token"
	tg "github.com/tastebook/tastebook/pkg/tokengenerator"
	"github.com/tastebook/tastebook/pkg/user"
)

type ServerConfig struct {
	Host string `env:"HOST" env-default:"localhost"`
	Port uint16 `env:"PORT" env-default:"4000"`
}

type DbConfig struct {
	Host     string `env:"TASTEBOOK_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"TASTEBOOK_PG_PORT" env-default:"5432"`
	Database string `env:"TASTEBOOK_PG_DATABASE" env-default:"tastebook_db"`
	User     string `env:"TASTEBOOK_PG_USER" env-default:"tastebook"`
	Password string `env:"TASTEBOOK_PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) toDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Database)
}

type RedisConfig struct {
	// When empty, pending auth sessions are kept in process memory
	Addr     string `env:"REDIS_ADDR" env-default:""`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type JwtConfig struct {
	Secret             string        `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer             string        `env:"JWT_ISSUER" env-default:"tastebook"`
	Audience           string        `env:"JWT_AUDIENCE" env-default:"tastebook-app"`
	AccessTokenExpiry  time.Duration `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	CookieHttpOnly     bool          `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure       bool          `env:"COOKIE_SECURE" env-default:"false"`
}

type ProviderConfig struct {
	ClientID     string `env:"OAUTH_CLIENT_ID" env-default:""`
	ClientSecret string `env:"OAUTH_CLIENT_SECRET" env-default:""`
	AuthURL      string `env:"OAUTH_AUTH_URL" env-default:""`
	TokenURL     string `env:"OAUTH_TOKEN_URL" env-default:""`
	UserInfoURL  string `env:"OAUTH_USERINFO_URL" env-default:""`
	RedirectURL  string `env:"OAUTH_REDIRECT_URL" env-default:"http://localhost:4000/auth/provider/callback"`
}

type EmailConfig struct {
	Enabled  bool   `env:"EMAIL_ENABLED" env-default:"false"`
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     int    `env:"EMAIL_PORT" env-default:"1025"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
	Username string `env:"EMAIL_USERNAME" env-default:""`
	Password string `env:"EMAIL_PASSWORD" env-default:""`
	From     string `env:"EMAIL_FROM" env-default:"noreply@tastebook.example.com"`
}

type Config struct {
	ServerConfig   ServerConfig
	DbConfig       DbConfig
	RedisConfig    RedisConfig
	JwtConfig      JwtConfig
	ProviderConfig ProviderConfig
	EmailConfig    EmailConfig
	FrontendURL    string        `env:"FRONTEND_URL" env-default:"http://localhost:3000"`
	SessionTTL     time.Duration `env:"AUTH_SESSION_TTL" env-default:"10m"`
}

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration from .env file")
	}

	config := Config{}
	if err := cleanenv.ReadEnv(&config); err != nil {
		slog.Error("Failed to read environment", "err", err)
		os.Exit(-1)
	}

	providerConfig := provider.Config{
		ClientID:     config.ProviderConfig.ClientID,
		ClientSecret: config.ProviderConfig.ClientSecret,
		AuthURL:      config.ProviderConfig.AuthURL,
		TokenURL:     config.ProviderConfig.TokenURL,
		UserInfoURL:  config.ProviderConfig.UserInfoURL,
		RedirectURL:  config.ProviderConfig.RedirectURL,
	}
	if err := providerConfig.Validate(); err != nil {
		slog.Error("Invalid provider configuration", "err", err)
		os.Exit(-1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, config.DbConfig.toDSN())
	if err != nil {
		slog.Error("Failed creating dbpool", "db", config.DbConfig.Database, "host", config.DbConfig.Host, "err", err)
		os.Exit(-1)
	}
	defer pool.Close()

	var sessions authsession.Store
	if config.RedisConfig.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.RedisConfig.Addr,
			Password: config.RedisConfig.Password,
			DB:       config.RedisConfig.DB,
		})
		sessions = authsession.NewRedisStore(redisClient, authsession.WithRedisTTL(config.SessionTTL))
		slog.Info("Auth sessions backed by redis", "addr", config.RedisConfig.Addr)
	} else {
		sessions = authsession.NewMemoryStore(authsession.WithTTL(config.SessionTTL))
		slog.Info("Auth sessions backed by process memory")
	}
	defer sessions.Close()

	userService := user.NewService(user.NewPostgresRepository(pool))
	ledger := token.NewPostgresLedger(pool)
	tokenGen := tg.NewJwtTokenGenerator(config.JwtConfig.Secret, config.JwtConfig.Issuer, config.JwtConfig.Audience)
	providerClient := provider.NewClient(providerConfig)

	flowOpts := []authflow.Option{
		authflow.WithAccessTokenExpiry(config.JwtConfig.AccessTokenExpiry),
		authflow.WithRefreshTokenExpiry(config.JwtConfig.RefreshTokenExpiry),
	}
	if config.EmailConfig.Enabled {
		welcomeSender, err := notification.NewEmailWelcomeSender(notification.SMTPConfig{
			Host:     config.EmailConfig.Host,
			Port:     config.EmailConfig.Port,
			TLS:      config.EmailConfig.TLS,
			Username: config.EmailConfig.Username,
			Password: config.EmailConfig.Password,
			From:     config.EmailConfig.From,
		})
		if err != nil {
			slog.Error("Failed to create welcome email sender", "err", err)
			os.Exit(-1)
		}
		flowOpts = append(flowOpts, authflow.WithWelcomeSender(welcomeSender))
	}

	flowService := authflow.NewService(sessions, providerClient, userService, ledger, tokenGen, flowOpts...)

	cookieSetter := tg.NewCookieSetter(config.JwtConfig.CookieHttpOnly, config.JwtConfig.CookieSecure)
	authHandle := authapi.NewHandle(flowService, cookieSetter,
		authapi.WithFrontendURL(config.FrontendURL),
		authapi.WithSessionCookieTTL(config.SessionTTL),
	)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go runLedgerReaper(reaperCtx, ledger)

	rateLimiter := ratelimit.NewMiddleware(ratelimit.DefaultConfig())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	// Verifier before the limiter so authenticated traffic is budgeted per user
	r.Use(client.Verifier(tokenGen))
	r.Use(rateLimiter.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/auth", authHandle.Routes)

	r.Group(func(r chi.Router) {
		r.Use(client.RequireAuth)

		r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
			authCtx := client.GetAuthContext(r)
			u, err := userService.GetByID(r.Context(), authCtx.User.UserID)
			if err != nil {
				slog.Error("Failed getting me", "err", err, "user_id", authCtx.User.UserID)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			render.JSON(w, r, u)
		})
	})

	addr := fmt.Sprintf("%s:%d", config.ServerConfig.Host, config.ServerConfig.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "err", err)
			os.Exit(-1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Forced shutdown", "err", err)
	}
}

// runLedgerReaper periodically deletes expired refresh-token rows. Revoked
// rows are kept until expiry so reuse detection stays possible.
func runLedgerReaper(ctx context.Context, ledger token.LedgerRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := ledger.DeleteExpired(ctx)
			if err != nil {
				slog.Error("Failed to delete expired refresh tokens", "err", err)
				continue
			}
			if removed > 0 {
				slog.Info("Deleted expired refresh tokens", "count", removed)
			}
		}
	}
}
