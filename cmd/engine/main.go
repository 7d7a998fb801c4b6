package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackms/arbitragemonitor/internal/broadcast"
	"github.com/blackms/arbitragemonitor/internal/chainmonitor"
	"github.com/blackms/arbitragemonitor/internal/config"
	"github.com/blackms/arbitragemonitor/internal/obsmetrics"
	"github.com/blackms/arbitragemonitor/internal/poolscan"
	"github.com/blackms/arbitragemonitor/internal/rpcclient"
	"github.com/blackms/arbitragemonitor/internal/stats"
	"github.com/blackms/arbitragemonitor/internal/storage"
	"github.com/blackms/arbitragemonitor/pkg/logger"
)

// shutdownTimeout bounds graceful shutdown, per spec §5.
const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to engine config file")
	listenAddr := flag.String("listen", ":8090", "address for websocket and metrics endpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	store, err := storage.Open(storage.Config{
		DatabaseURL:     cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	}, log)
	if err != nil {
		log.Fatal("failed to open storage", "err", err.Error())
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		log.Fatal("failed to migrate schema", "err", err.Error())
	}

	hub := broadcast.New(cfg.MaxSubscribers, cfg.HeartbeatPeriod, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var connectors []*rpcclient.Connector

	for i := range cfg.Chains {
		chain := &cfg.Chains[i]

		conn, err := rpcclient.Dial(chain.Name, chain.Endpoints, log)
		if err != nil {
			log.Fatal("failed to dial chain", "chain", chain.Name, "err", err.Error())
		}
		connectors = append(connectors, conn)

		sink := poolscan.MultiSink{store, hub}
		scanner := poolscan.New(chain, conn, sink, log)
		monitor := chainmonitor.New(chain, conn, store, hub, log)

		wg.Add(2)
		go func() {
			defer wg.Done()
			scanner.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			monitor.Run(ctx)
		}()

		go sampleCircuitState(ctx, chain.Name, conn)
	}

	statsAggregator := stats.New(cfg.Chains, store, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		statsAggregator.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		log.Info("starting engine http server", "addr", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", "err", err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown timeout exceeded", "err", err.Error())
	}

	waitWithTimeout(&wg, shutdownTimeout)
	for _, conn := range connectors {
		conn.Close()
	}
	log.Info("engine stopped")
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// sampleCircuitState polls each endpoint's breaker state into the
// EndpointCircuitState gauge every 10s, for dashboards.
func sampleCircuitState(ctx context.Context, chainName string, conn *rpcclient.Connector) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	urls := conn.EndpointURLs()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, url := range urls {
				obsmetrics.EndpointCircuitState.WithLabelValues(chainName, url).Set(float64(conn.CircuitState(i)))
			}
		}
	}
}
