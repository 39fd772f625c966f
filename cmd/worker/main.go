// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/cache"
	"github.com/skirmish-gg/skirmish/internal/middleware"
	"github.com/skirmish-gg/skirmish/internal/worker"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	workerID := cache.GetEnvInt("WORKER_ID", 0)
	basePort := cache.GetEnvInt("WORKER_BASE_PORT", 9000)
	masterURL := cache.GetEnv("MASTER_WS_URL", "ws://localhost:8080/worker/ws")

	store := worker.NewStore(workerID)
	link := worker.NewMasterLink(workerID, masterURL, store)
	srv := worker.NewServer(store, link)

	ctx, cancel := context.WithCancel(context.Background())
	go link.Run(ctx)

	// Each worker listens on basePort + its index; the master's workerPath
	// derivation points clients at the same index.
	addr := fmt.Sprintf(":%d", basePort+workerID)
	server := &http.Server{
		Addr:    addr,
		Handler: middleware.LogMiddleware(logger)(srv.Mux()),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("worker %d listening on %s", workerID, addr)
		errc <- server.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}
	cancel()
	store.Shutdown()
	server.Close()
}
