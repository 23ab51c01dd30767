package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/limbo/routinesync/internal/api"
	"github.com/limbo/routinesync/internal/coordinator"
	"github.com/limbo/routinesync/internal/localcache"
	"github.com/limbo/routinesync/internal/remote"
	"github.com/limbo/routinesync/pkg/cleanup"
	"github.com/limbo/routinesync/pkg/config"
)

func init() {
	coordinator.InitValidator()
}

// listenerSubscriber adapts the concrete listener to the coordinator's
// subscriber interface.
type listenerSubscriber struct {
	listener *remote.Listener
}

func (ls listenerSubscriber) Subscribe(ctx context.Context, ownerID uuid.UUID) (coordinator.SubscriptionI, error) {
	return ls.listener.Subscribe(ctx, ownerID)
}

func main() {
	cfg := config.New()
	dbCfg := remote.PGCfg{
		Address:  cfg.GetString("POSTGRES_DB_ADDRESS"),
		Username: cfg.GetString("POSTGRES_USER"),
		Password: cfg.GetString("POSTGRES_PASSWORD"),
		DB:       cfg.GetString("POSTGRES_DB"),
	}
	ownerID, err := uuid.Parse(cfg.GetString("OWNER_ID"))
	if err != nil {
		log.Fatal("OWNER_ID is not a valid uuid: " + err.Error())
	}

	cache, err := localcache.Open(cfg.GetStringDefault("SQLITE_PATH", "./data/routines.db"))
	if err != nil {
		log.Fatal("opening local cache error: " + err.Error())
	}
	slog.Info("local cache ready", slog.String("path", cache.Path()))
	cleanup.Register(&cleanup.Job{
		Name: "closing local cache",
		F:    cache.Close,
	})

	coord := coordinator.New(
		cache,
		remote.NewRoutinesRepo(&dbCfg),
		listenerSubscriber{listener: remote.NewListener(&dbCfg, slog.Default())},
		ownerID,
		slog.Default(),
	)
	if err := coord.Start(context.Background()); err != nil {
		cleanup.CleanUp()
		log.Fatal("starting sync session error: " + err.Error())
	}

	serv := api.New(&api.ServicesList{Coordinator: coord})
	go func() {
		if err := serv.Run(cfg.GetStringDefault("API_ADDRESS", "127.0.0.1:8137")); err != nil {
			log.Println("Server error: " + err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	coord.Stop()
	cleanup.CleanUp()
}
