// cmd/master/main.go
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/auth"
	"github.com/skirmish-gg/skirmish/internal/cache"
	"github.com/skirmish-gg/skirmish/internal/database"
	"github.com/skirmish-gg/skirmish/internal/handlers"
	"github.com/skirmish-gg/skirmish/internal/matchmaking"
	"github.com/skirmish-gg/skirmish/internal/middleware"
	"github.com/skirmish-gg/skirmish/internal/orchestrator"
	"github.com/skirmish-gg/skirmish/internal/party"
	"github.com/skirmish-gg/skirmish/internal/rating"
	"github.com/skirmish-gg/skirmish/internal/shard"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// Rating storage: Postgres when configured, in-memory otherwise.
	var store rating.Store
	if database.Configured() {
		if err := database.ConnectDB(); err != nil {
			log.Fatalf("database: %v", err)
		}
		store = database.NewPGStore(database.DB)
	} else {
		logger.Warn("no database configured, ratings are in-memory only")
		store = rating.NewMemoryStore()
	}

	// Results queue: best-effort publish to the recorder when Redis is up.
	var publisher matchmaking.ResultPublisher
	if err := cache.ConnectRedis(); err != nil {
		logger.WithError(err).Warn("redis unavailable, match results will not be queued")
	} else {
		publisher = cache.NewResultQueue()
	}

	seasonID := cache.GetEnv("RANKED_SEASON", "s1")
	numWorkers := cache.GetEnvInt("NUM_WORKERS", 2)

	parties := party.NewRegistry()
	workers := shard.NewRegistry(numWorkers)
	queue := matchmaking.NewQueue(seasonID, store, parties)
	results := matchmaking.NewResults(seasonID, store, publisher)
	orch := orchestrator.New(workers)
	queue.OnConfirmed(func(cm matchmaking.ConfirmedMatch) {
		results.RegisterMatch(cm.MatchID, cm.Players)
		orch.HandleConfirmedMatch(cm)
	})

	// Background loops: party TTL sweep, lobby broadcast + worker eviction,
	// pairing + proposal expiry. All stop together on shutdown.
	stop := make(chan struct{})
	go parties.Run(stop)
	go workers.Run(stop)
	go queue.Run(stop)

	srv := handlers.NewServer(parties, queue, results, orch, workers)

	// Worker links bypass the logging middleware so the websocket upgrade
	// can hijack the connection.
	root := http.NewServeMux()
	root.HandleFunc("/worker/ws", srv.HandleWorkerWS)
	root.Handle("/", middleware.LogMiddleware(logger)(srv.Mux()))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	server := &http.Server{
		Addr:    addr,
		Handler: root,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("master listening on %s (fleet size %d, season %s)", addr, numWorkers, seasonID)
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
	close(stop)
	server.Close()
}
