package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	simpleconsumer "github.com/Fuchsoria/banditucb/internal/amqp/consumer"
	simpleproducer "github.com/Fuchsoria/banditucb/internal/amqp/producer"
	"github.com/Fuchsoria/banditucb/internal/app"
	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/Fuchsoria/banditucb/internal/command"
	"github.com/Fuchsoria/banditucb/internal/logger"
	"github.com/Fuchsoria/banditucb/internal/metrics"
	gw "github.com/Fuchsoria/banditucb/internal/server/grpc"
	badgerstorage "github.com/Fuchsoria/banditucb/internal/storage/badger"
	redisstorage "github.com/Fuchsoria/banditucb/internal/storage/redis"
	sqlstorage "github.com/Fuchsoria/banditucb/internal/storage/sql"
	"github.com/Fuchsoria/banditucb/internal/version"
	_ "github.com/lib/pq"
	"github.com/streadway/amqp"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "/etc/banditucb/config.json", "Path to configuration file")
}

func main() {
	flag.Parse()

	if flag.Arg(0) == "version" {
		version.PrintVersion()

		return
	}

	config, err := NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.New(config.Logger.Level, config.Logger.File)
	defer func() {
		_ = logg.Sync()
	}()

	if err := run(config, logg); err != nil {
		logg.Error(err.Error())
		_ = logg.Sync()

		os.Exit(1) //nolint:gocritic
	}
}

func run(config Config, logg *logger.Logger) error {
	metrics.Init()

	seed := config.Bandit.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bandit.Seed(seed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logg.Warn("close failed", "error", err)
			}
		}
	}()

	storage, closeStorage, err := initStorage(ctx, config, logg)
	if err != nil {
		return err
	}

	if closeStorage != nil {
		closers = append(closers, closeStorage)
	}

	opts := []command.Option{}

	if config.AOF.Enabled {
		journal, closeJournal, err := initJournal(config, storage, logg)
		if err != nil {
			return err
		}

		if closeJournal != nil {
			closers = append(closers, closeJournal)
		}

		opts = append(opts, command.WithJournal(journal))
	}

	var conn *amqp.Connection

	if config.Replication.Role != "" {
		conn, err = amqp.Dial(config.Replication.DSN)
		if err != nil {
			return fmt.Errorf("cannot connect to replication broker, %w", err)
		}

		closers = append(closers, conn.Close)
	}

	if config.Replication.Role == "master" {
		producer := simpleproducer.New(config.Replication.Queue, conn)
		if err := producer.Connect(); err != nil {
			return fmt.Errorf("cannot create replication producer, %w", err)
		}

		closers = append(closers, producer.Close)
		opts = append(opts, command.WithReplicator(producer))
	}

	if config.Replication.Role == "replica" {
		opts = append(opts, command.ReadOnly())
	}

	dispatcher := command.New(app.New(logg, storage, nil), opts...)

	if err := dispatcher.Restore(ctx); err != nil {
		return fmt.Errorf("cannot restore keyspace, %w", err)
	}

	if config.Replication.Role == "replica" {
		consumer := simpleconsumer.New(config.Replication.Queue, conn, logg)
		if err := consumer.Connect(); err != nil {
			return fmt.Errorf("cannot create replication consumer, %w", err)
		}

		closers = append(closers, consumer.Close)

		go func() {
			err := consumer.Consume(ctx, func(ctx context.Context, argv []string) error {
				if reply := dispatcher.Replicate(ctx, argv); reply.IsError() {
					return reply.Err
				}

				return nil
			})
			if err != nil {
				logg.Error("replication stopped", "error", err)
				cancel()
			}
		}()
	}

	if config.Snapshot.Interval > 0 && storage != nil {
		go dispatcher.RunSnapshots(ctx, config.Snapshot.Interval)
	}

	server, err := gw.NewServer(dispatcher, logg, config.HTTP.Host, config.HTTP.Port, config.HTTP.GrpcPort)
	if err != nil {
		return fmt.Errorf("cannot create server, %w", err)
	}

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		select {
		case <-ctx.Done():
		case <-signals:
		}

		signal.Stop(signals)
		cancel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			logg.Error("failed to stop server: " + err.Error())
		}
	}()

	logg.Info("bandit ucb service is running...", "role", config.Replication.Role, "storage", config.Storage.Driver)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server, %w", err)
	}

	if storage != nil {
		if _, err := dispatcher.Save(context.Background()); err != nil {
			return fmt.Errorf("final snapshot failed, %w", err)
		}
	}

	return nil
}

func initStorage(ctx context.Context, config Config, logg *logger.Logger) (app.Storage, func() error, error) {
	switch config.Storage.Driver {
	case "badger":
		storage, err := badgerstorage.New(badgerstorage.Config{
			Path:       config.Storage.Path,
			SyncWrites: config.Storage.SyncWrites,
		}, logg.GetInstance())
		if err != nil {
			return nil, nil, fmt.Errorf("can't open badger storage, %w", err)
		}

		return storage, storage.Close, nil
	case "postgres":
		storage, err := sqlstorage.New(ctx, config.Storage.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("can't create new storage instance, %w", err)
		}

		if err := storage.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("can't connect to storage, %w", err)
		}

		return storage, storage.Close, nil
	case "redis":
		storage := redisstorage.New(config.Storage.RedisAddr, config.Storage.RedisPassword, config.Storage.RedisDB)
		if err := storage.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("can't connect to redis, %w", err)
		}

		return storage, storage.Close, nil
	default:
		return nil, nil, nil
	}
}

// initJournal reuses the badger snapshot store, other drivers get a badger
// database of their own for the journal.
func initJournal(config Config, storage app.Storage, logg *logger.Logger) (command.Journal, func() error, error) {
	if journal, ok := storage.(*badgerstorage.Storage); ok {
		return journal, nil, nil
	}

	journal, err := badgerstorage.New(badgerstorage.Config{
		Path:       config.AOF.Path,
		SyncWrites: config.Storage.SyncWrites,
	}, logg.GetInstance())
	if err != nil {
		return nil, nil, fmt.Errorf("can't open journal, %w", err)
	}

	return journal, journal.Close, nil
}
