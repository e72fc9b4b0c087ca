package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openbuilders/tip-engine/internal/fees"
	"github.com/openbuilders/tip-engine/internal/frame"
	"github.com/openbuilders/tip-engine/internal/health"
	"github.com/openbuilders/tip-engine/internal/metrics"
	"github.com/openbuilders/tip-engine/internal/notifier"
	"github.com/openbuilders/tip-engine/internal/recovery"
	"github.com/openbuilders/tip-engine/internal/sender"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// APIHandler is a custom handler type that returns data or an error
type APIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

type Frames interface {
	ApplyFrameAction(ctx context.Context, key, senderID, recipientID string,
		action types.Action) (*frame.Result, error)
}

type Tips interface {
	SendTip(ctx context.Context, params types.TipParams) (*sender.TransactionResult, error)
	UpdateTransactionStatus(ctx context.Context, id string) (types.TransactionStatus, error)
}

type Estimator interface {
	CalculateFee(amount string) (fees.Calculation, error)
	EstimateTransactionCost(ctx context.Context, params types.TipParams) (fees.CostEstimate, error)
}

type Transactions interface {
	GetTransaction(ctx context.Context, id string) (*types.Transaction, error)
	TransactionHistory(ctx context.Context, userID string, limit, offset int) ([]types.Transaction, error)
}

type Notifications interface {
	ProcessQueue(ctx context.Context) (notifier.QueueResult, error)
	UserNotifications(ctx context.Context, userID string, limit, offset int) ([]types.Notification, error)
	Stats(ctx context.Context, userID string) (types.NotificationStats, error)
	SetPreference(ctx context.Context, userID string, enabled bool) error
}

type Recovery interface {
	RecoverAllPendingTransactions(ctx context.Context) (*recovery.BatchResult, error)
	CheckForStuckTransactions(ctx context.Context) (*recovery.StuckReport, error)
	GenerateRecoveryReport(ctx context.Context) (*recovery.Report, error)
}

type Wallets interface {
	ResolveWallet(ctx context.Context, userID string) (*types.Wallet, error)
	ConnectWallet(ctx context.Context, userID, address string) (*types.Wallet, error)
}

type HealthChecker interface {
	GetHealthStatus() health.HealthStatus
}

// Services are the pipeline components served over HTTP.
type Services struct {
	Frames        Frames
	Tips          Tips
	Estimator     Estimator
	Transactions  Transactions
	Notifications Notifications
	Recovery      Recovery
	Wallets       Wallets
	Health        HealthChecker
}

type Config struct {
	ListenAddr   string
	ListenPort   int
	MetricsPort  int
	ProbesPort   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	DBTimeout    time.Duration
	Token        string
	ID           string
}

type Server struct {
	config     *Config
	services   Services
	httpServer *http.Server
	log        *slog.Logger
}

func NewServer(config *Config, services Services) *Server {
	return &Server{
		config:   config,
		services: services,
		log:      slog.With("pod", config.ID, "component", "web-server"),
		httpServer: &http.Server{
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Router builds the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Post("/frame/actions", WithJSONResponse(s.FrameActionHandler))

	r.Route("/tips", func(r chi.Router) {
		r.Post("/", WithJSONResponse(s.SendTipHandler))
		r.Post("/estimate", WithJSONResponse(s.EstimateHandler))
	})

	r.Route("/transactions/{id}", func(r chi.Router) {
		r.Get("/", WithJSONResponse(s.TransactionHandler))
		r.Post("/status", WithJSONResponse(s.UpdateStatusHandler))
	})

	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/transactions", WithJSONResponse(s.HistoryHandler))
		r.Get("/wallet", WithJSONResponse(s.WalletHandler))
		r.Put("/wallet", WithJSONResponse(s.ConnectWalletHandler))
		r.Get("/notifications", WithJSONResponse(s.NotificationsHandler))
		r.Get("/notifications/stats", WithJSONResponse(s.NotificationStatsHandler))
		r.Put("/notifications/preferences", WithJSONResponse(s.PreferencesHandler))
	})

	r.Post("/notifications/deliver", WithJSONResponse(s.DeliverHandler))

	r.Route("/recovery", func(r chi.Router) {
		r.Post("/run", WithJSONResponse(s.RecoveryRunHandler))
		r.Get("/report", WithJSONResponse(s.RecoveryReportHandler))
		r.Get("/stuck", WithJSONResponse(s.StuckHandler))
	})

	return r
}

// ProbesRouter serves liveness and readiness probes.
func (s *Server) ProbesRouter() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", WithMethod(
		WithJSONResponse(s.HealthHandler),
		http.MethodGet,
	))

	mux.Handle("/ready", WithMethod(
		WithJSONResponse(s.ReadinessHandler),
		http.MethodGet,
	))

	return mux
}

func (s *Server) startProbesAndMetrics(ctx context.Context) {
	go s.serveAux(ctx, "metrics", s.config.MetricsPort, metrics.Handler())
	go s.serveAux(ctx, "health probes", s.config.ProbesPort, s.ProbesRouter())
}

func (s *Server) serveAux(ctx context.Context, name string, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info("Serving "+name, "port", port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error(name+" HTTP listener failed", "error", err)
	}
}

// Start serves the API until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startProbesAndMetrics(ctx)

	s.httpServer.Handler = http.TimeoutHandler(s.Router(), s.config.WriteTimeout, "Timeout")

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.ListenPort))
	if err != nil {
		return fmt.Errorf("error creating listener: %w", err)
	}

	s.log.Info("Starting server", "port", s.config.ListenPort)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Server forced to shutdown", "error", err)
	}

	s.log.Info("Server exiting")
	return nil
}
