// cmd/trust-agent/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"session-trust/internal/audit"
	"session-trust/internal/common/auth"
	awsclients "session-trust/internal/common/aws"
	"session-trust/internal/common/config"
	"session-trust/internal/common/database"
	"session-trust/internal/common/errors"
	commonhttp "session-trust/internal/common/http"
	"session-trust/internal/common/logger"
	"session-trust/internal/common/observability"
	"session-trust/internal/models"
	"session-trust/internal/trust/concurrent"
	"session-trust/internal/trust/fingerprint"
	"session-trust/internal/trust/geo"
	"session-trust/internal/trust/lifecycle"
	"session-trust/internal/trust/notify"
	"session-trust/internal/trust/orchestrator"
	"session-trust/internal/trust/ratelimit"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting trust agent...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("trust-agent")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Auth Provider ---
	provider := auth.NewProviderClient(
		cfg.Auth.Provider.URL,
		cfg.Auth.Provider.Realm,
		cfg.Auth.Provider.ClientID,
		cfg.Auth.Provider.ClientSecret,
	)

	// --- Resolve the monitored session ---
	accessToken := os.Getenv("TRUST_ACCESS_TOKEN")
	refreshToken := os.Getenv("TRUST_REFRESH_TOKEN")
	if accessToken == "" || refreshToken == "" {
		zapLog.Fatal("TRUST_ACCESS_TOKEN and TRUST_REFRESH_TOKEN must be set")
	}

	session, err := provider.CurrentSession(ctx, accessToken)
	if err != nil {
		zapLog.Fatal("session introspection failed", zap.Error(err))
	}
	if session == nil {
		zapLog.Fatal("session is not active, nothing to monitor",
			zap.Error(errors.NewSessionNotFoundError("token introspection reported the token inactive")))
	}
	session.RefreshToken = refreshToken
	session.IPAddress = os.Getenv("TRUST_SOURCE_IP")

	zapLog.Info("Monitoring session",
		zap.String("userId", session.UserID),
		zap.String("sessionId", session.ShortID()),
	)

	// --- Alert channels ---
	var notifier *notify.Notifier
	if cfg.Integrations.AWS.SES.Enabled || cfg.Integrations.AWS.SNS.Enabled {
		var email notify.EmailSender
		var sms notify.SMSSender

		if cfg.Integrations.AWS.SES.Enabled {
			sesClient, err := awsclients.NewSESClient(ctx, cfg.Integrations.AWS.Region)
			if err != nil {
				zapLog.Fatal("ses client failed", zap.Error(err))
			}
			email = sesClient
		}
		if cfg.Integrations.AWS.SNS.Enabled {
			snsClient, err := awsclients.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
			if err != nil {
				zapLog.Fatal("sns client failed", zap.Error(err))
			}
			sms = snsClient
		}

		notifier = notify.NewNotifier(email, sms, notify.Config{
			FromEmail:   cfg.Integrations.AWS.SES.FromEmail,
			AlertEmail:  cfg.Integrations.AWS.SES.AlertEmail,
			AlertPhone:  cfg.Integrations.AWS.SNS.AlertPhone,
			SMSSenderID: cfg.Integrations.AWS.SNS.DefaultSMSSenderID,
		}, log)
	}

	// --- Audit trail and finding sink ---
	auditLog := audit.New(esClient, cfg.Database.Elasticsearch.AuditIndex, log)

	var alerter orchestrator.Alerter
	if notifier != nil {
		alerter = notifier
	}
	sink := orchestrator.NewFindingSink(auditLog, alerter, log)

	// --- Trust checks ---
	comparator := fingerprint.NewComparator(rdb.Client, log)
	detector := concurrent.NewDetector(rdb.Client, log)
	limiter := ratelimit.NewLimiter(rdb.Client, cfg.Trust.RateLimit.Threshold, cfg.Trust.RateLimit.Window(), log)
	guard := ratelimit.NewBruteForceGuard(rdb.Client, pg.DB, cfg.Trust.BruteForce.Threshold, cfg.Trust.BruteForce.Window(), log)

	geoAdapter := geo.NewAdapter(
		commonhttp.NewClient(config.GetDuration(cfg.APIs.GeoIP.Timeout)),
		cfg.APIs.GeoIP.BaseURL,
		cfg.APIs.GeoIP.APIKey,
		log,
	)

	control := auth.NewSessionControl(provider, session)
	monitor := lifecycle.NewMonitor(lifecycle.Config{
		MaxSessionAge: cfg.Trust.MaxSessionAge(),
		IdleTimeout:   cfg.Trust.IdleTimeout(),
	}, session, control, sink.Emit, log)

	orch := orchestrator.New(cfg.Trust, session, orchestrator.Deps{
		Fingerprint: comparator,
		Concurrent:  detector,
		Rate:        limiter,
		BruteForce:  guard,
		Lifecycle:   monitor,
		Geo:         geoAdapter,
		Sink:        sink,
	}, collectSnapshot, obs, log)

	orch.Start(ctx)
	zapLog.Info("Trust orchestrator started",
		zap.Duration("recheckInterval", cfg.Trust.RecheckInterval()),
	)

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(orch.State())
		})
		// The hosting application reports user interaction here so the idle
		// timer stays accurate.
		http.HandleFunc("/touch", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			orch.Touch()
			w.WriteHeader(http.StatusNoContent)
		})
		// Authentication events enter here: they feed the rate windows and
		// the compliance ledger, and a failure that crosses the brute-force
		// threshold blocks the session immediately.
		http.HandleFunc("/auth-attempt", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			sourceIP := r.URL.Query().Get("ip")
			if sourceIP == "" {
				sourceIP = session.IPAddress
			}
			success := r.URL.Query().Get("success") == "true"
			orch.RecordAuthAttempt(r.Context(), sourceIP, success)
			w.WriteHeader(http.StatusNoContent)
		})
		http.Handle("/metrics", promhttp.Handler())
		addr := cfg.App.MetricsAddr
		if addr == "" {
			addr = ":8080"
		}
		zapLog.Info("Health/Metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping trust agent...")
	orch.Stop()
	zapLog.Info("Trust agent stopped gracefully")
}

// collectSnapshot reads the device attributes the hosting application
// exports for the monitored session.
func collectSnapshot() models.Fingerprint {
	return fingerprint.Generate(fingerprint.Snapshot{
		UserAgent:        os.Getenv("TRUST_USER_AGENT"),
		Platform:         os.Getenv("TRUST_PLATFORM"),
		ScreenResolution: os.Getenv("TRUST_SCREEN_RESOLUTION"),
		Timezone:         os.Getenv("TRUST_TIMEZONE"),
		Language:         os.Getenv("TRUST_LANGUAGE"),
		CookiesEnabled:   os.Getenv("TRUST_COOKIES_ENABLED") != "false",
		CanvasData:       []byte(os.Getenv("TRUST_CANVAS_DATA")),
	})
}
