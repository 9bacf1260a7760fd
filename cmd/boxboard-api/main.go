package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/auth"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/config"
	"github.com/MarcoPoloResearchLab/boxboard/internal/database"
	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"github.com/MarcoPoloResearchLab/boxboard/internal/logging"
	"github.com/MarcoPoloResearchLab/boxboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/boxboard/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/boxboard/internal/scheduler"
	"github.com/MarcoPoloResearchLab/boxboard/internal/server"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const botTokenTTL = 24 * time.Hour

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boxboard-api",
		Short: "Box board backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context())
			},
		},
		newSessionsCommand(),
		newBotCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("production", defaults.GetBool("app.production"), "Emit JSON logs and secure cookies")
	cmd.PersistentFlags().String("session-secret", "", "Session cookie signing secret (overrides env)")
	cmd.PersistentFlags().String("web-app-url", defaults.GetString("web.app_url"), "Web app URL used for OAuth redirects")
	cmd.PersistentFlags().String("cleanup-schedule", defaults.GetString("sessions.cleanup_schedule"), "Cron schedule for expired session cleanup (empty disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "app.production", "production")
	bindFlag(cmd, "session.secret", "session-secret")
	bindFlag(cmd, "web.app_url", "web-app-url")
	bindFlag(cmd, "sessions.cleanup_schedule", "cleanup-schedule")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// appRuntime bundles what every subcommand opens from configuration.
type appRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

// loadRuntime reads configuration and builds the logger without touching the database.
func loadRuntime() (*appRuntime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Production)
	if err != nil {
		return nil, nil, err
	}
	return &appRuntime{config: appConfig, logger: logger}, func() { _ = logger.Sync() }, nil
}

func openRuntime() (*appRuntime, func(), error) {
	rt, syncLogger, err := loadRuntime()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(rt.config.DatabasePath, rt.logger)
	if err != nil {
		syncLogger()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		syncLogger()
		return nil, nil, err
	}
	rt.db = db

	cleanup := func() {
		_ = sqlDB.Close()
		syncLogger()
	}
	return rt, cleanup, nil
}

func newBotTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.Bot.APISecret),
		Issuer:        auth.DefaultBotIssuer,
		Audience:      auth.DefaultBotAudience,
		TokenTTL:      botTokenTTL,
	})
}

var errBotTokensDisabled = errors.New("bot api secret not configured")

// disabledBotTokens rejects every bot request when no bot secret is configured.
type disabledBotTokens struct{}

func (disabledBotTokens) ValidateToken(string) (string, error) {
	return "", errBotTokensDisabled
}

func runServer(ctx context.Context) error {
	rt, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()
	appConfig, logger, db := rt.config, rt.logger, rt.db

	initializer, err := database.NewInitializer(database.InitializerConfig{
		Database: db,
		Path:     appConfig.DatabasePath,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	appMetrics := metrics.New()
	events := server.NewBoxEventDispatcher()

	userService, err := users.NewService(users.ServiceConfig{
		Database:        db,
		Clock:           time.Now,
		Logger:          logger,
		AdminInviteCode: appConfig.AdminInviteCode,
		OwnerInviteCode: appConfig.OwnerInviteCode,
	})
	if err != nil {
		return err
	}

	boxService, err := boxes.NewService(boxes.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Notifier: boxes.MultiNotifier{events, appMetrics},
	})
	if err != nil {
		return err
	}

	assetService, err := assets.NewService(assets.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var provider discord.OAuthProvider
	if appConfig.Discord.Enabled() {
		discordProvider, err := discord.NewProvider(discord.ProviderConfig{
			ClientID:     appConfig.Discord.ClientID,
			ClientSecret: appConfig.Discord.ClientSecret,
			RedirectURI:  appConfig.Discord.RedirectURI,
			AuthorizeURL: appConfig.Discord.AuthorizeURL,
			TokenURL:     appConfig.Discord.TokenURL,
			APIBaseURL:   appConfig.Discord.APIBaseURL,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		provider = discordProvider
	} else {
		logger.Warn("discord oauth disabled: client id, secret and redirect uri are required")
	}

	states := discord.NewStateStore(discord.StateTTL, time.Now)
	discordService, err := discord.NewService(discord.ServiceConfig{
		Database: db,
		Provider: provider,
		States:   states,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		CookieName:    appConfig.CookieName,
		Secure:        appConfig.Production,
	})
	if err != nil {
		return err
	}

	var botTokens server.BotTokenValidator = disabledBotTokens{}
	if appConfig.Bot.APISecret != "" {
		issuer, err := newBotTokenIssuer(appConfig)
		if err != nil {
			return err
		}
		botTokens = issuer
	} else {
		logger.Warn("bot endpoints disabled: bot.api_secret is not set")
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:      appConfig.RateLimit.Window,
		MaxRequests: appConfig.RateLimit.MaxRequests,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:          userService,
		Boxes:          boxService,
		Assets:         assetService,
		Discord:        discordService,
		Sessions:       sessions,
		BotTokens:      botTokens,
		Readiness:      initializer,
		Events:         events,
		Limiter:        limiter,
		Metrics:        appMetrics,
		WebAppURL:      appConfig.WebAppURL,
		AllowedOrigins: []string{appConfig.WebAppURL},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	jobs := scheduler.New(scheduler.Config{Logger: logger, Recorder: appMetrics})
	janitorJobs := []scheduler.Job{
		scheduler.SweepJob("oauth-state-sweep", scheduler.EveryMinute, logger, states.Sweep),
		scheduler.SweepJob("rate-limit-sweep", scheduler.EveryMinute, logger, limiter.Sweep),
	}
	if appConfig.CleanupSchedule != "" {
		janitorJobs = append(janitorJobs, scheduler.Job{
			Name:     "session-cleanup",
			Schedule: appConfig.CleanupSchedule,
			Run: func(ctx context.Context) error {
				if !initializer.Ready() {
					return database.ErrNotReady
				}
				removed, err := userService.CleanExpiredSessions(ctx)
				if err != nil {
					return err
				}
				logger.Info("expired sessions removed", zap.Int64("removed", removed))
				return nil
			},
		})
	}
	for _, job := range janitorJobs {
		if err := jobs.Add(job); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Requests are answered with 503 until the schema is ready.
	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- initializer.Run(signalCtx)
	}()

	jobs.Start(signalCtx)
	defer jobs.Stop()

	for {
		select {
		case err := <-initErrCh:
			if err != nil {
				logger.Error("database initialization failed", zap.Error(err))
				shutdown(httpServer, logger)
				return err
			}
			initErrCh = nil
		case <-signalCtx.Done():
			return shutdown(httpServer, logger)
		case err := <-errCh:
			return err
		}
	}
}

func shutdown(httpServer *http.Server, logger *zap.Logger) error {
	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
