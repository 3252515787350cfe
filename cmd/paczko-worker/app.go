package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PaczkoBox/config"
	"github.com/BearBump/PaczkoBox/internal/broker/kafka"
	"github.com/BearBump/PaczkoBox/internal/cache"
	"github.com/BearBump/PaczkoBox/internal/cache/rediscache"
	"github.com/BearBump/PaczkoBox/internal/integrations/inpost"
	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/BearBump/PaczkoBox/internal/services/engine"
	"github.com/BearBump/PaczkoBox/internal/services/lockers"
	"github.com/BearBump/PaczkoBox/internal/services/poller"
	"github.com/BearBump/PaczkoBox/internal/storage/pgstate"
)

// stateStorage is what the worker needs from Postgres: the poller saves after
// every cycle, the startup path restores.
type stateStorage interface {
	poller.StateStore
	LoadCredential(ctx context.Context, phoneNumber string) (models.Credential, bool, error)
	LoadCarbonState(ctx context.Context, phoneNumber string) (models.CarbonFootprintState, bool, error)
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (st stateStorage, closeFn func(), err error)
	newProducer func(cfg *config.Config) poller.Producer
	newCache    func(cfg *config.Config) cache.BytesCache
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (stateStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgstate.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			topic := cfg.Kafka.SnapshotUpdatedTopicName
			if topic == "" {
				topic = "snapshot.updated"
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers, topic)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
	}
}

func RunPaczkoWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	pb := cfg.PaczkoBox

	interval := time.Duration(pb.UpdateIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	httpTimeout := time.Duration(pb.HTTPTimeoutSeconds) * time.Second
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	directoryTTL := time.Duration(pb.DirectoryTTLSeconds) * time.Second

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	bytesCache := f.newCache(cfg)

	tr := inpost.NewTransport(httpTimeout, nil)
	auth := inpost.NewAuthManager(tr, inpost.AuthOptions{
		OAuthBaseURL:  pb.OAuthBaseURL,
		APIBaseURL:    pb.APIBaseURL,
		Language:      pb.Language,
		RefreshMargin: time.Duration(pb.TokenRefreshMarginSecs) * time.Second,
	})

	if st != nil {
		if cred, ok, err := st.LoadCredential(ctx, pb.PhoneNumber); err != nil {
			slog.Error("restore credential", "error", err.Error())
		} else if ok {
			auth.RestoreCredential(cred)
			slog.Info("credential restored", "phone", pb.PhoneNumber)
		}
	}

	client := inpost.NewClient(tr, auth, pb.APIBaseURL, pb.ParcelLockersURL)
	directory := lockers.New(client, bytesCache, directoryTTL)

	eng := engine.New(client, directory, engine.Settings{
		IgnoredEnRouteStatuses: pb.IgnoredEnRouteStatuses,
		ShowOnlyOwnParcels:     pb.ShowOnlyOwnParcels,
		TrackedLockerIDs:       pb.TrackedLockers,
	})

	p := poller.New(eng, auth, st, producer, pb.PhoneNumber, interval)
	if st != nil {
		if carbonState, ok, err := st.LoadCarbonState(ctx, pb.PhoneNumber); err != nil {
			slog.Error("restore carbon state", "error", err.Error())
		} else if ok {
			p = p.WithCarbonState(carbonState)
		}
	}

	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: pb.HTTPAddr,
			poller:   p,
			auth:     auth,
			api:      client,
			cfg:      cfg,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("worker http server", "error", err.Error())
		}
	}()

	return p.Run(ctx)
}
