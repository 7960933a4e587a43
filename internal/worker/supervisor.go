package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// TreeConfig tunes restart behaviour of the supervisor.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// NewSupervisor builds the root supervisor. Restarts and panics are logged
// through zap.
func NewSupervisor(name string, cfg TreeConfig, logger *zap.Logger) *suture.Supervisor {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay <= 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return suture.New(name, suture.Spec{
		EventHook:        eventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

func eventHook(logger *zap.Logger) suture.EventHook {
	return func(ev suture.Event) {
		fields := make([]zap.Field, 0, len(ev.Map()))
		for k, v := range ev.Map() {
			fields = append(fields, zap.Any(k, v))
		}
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeBackoff:
			logger.Error("supervisor_event", append(fields, zap.String("event", ev.String()))...)
		default:
			logger.Warn("supervisor_event", append(fields, zap.String("event", ev.String()))...)
		}
	}
}

// MetricsServer exposes the default Prometheus registry on /metrics.
type MetricsServer struct {
	addr     string
	logger   *zap.Logger
	shutdown time.Duration
	ready    chan net.Addr
}

func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsServer{addr: addr, logger: logger, shutdown: 5 * time.Second, ready: make(chan net.Addr, 1)}
}

// Ready yields the bound address once the listener is up.
func (m *MetricsServer) Ready() <-chan net.Addr { return m.ready }

func (m *MetricsServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	select {
	case m.ready <- ln.Addr():
	default:
	}
	m.logger.Info("metrics_listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), m.shutdown)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			m.logger.Warn("metrics_shutdown_error", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (m *MetricsServer) String() string { return "metrics-server" }
