package backend

import (
	"context"
	"fmt"
	"log/slog"

	"spendtrack/internal/feed"
	"spendtrack/internal/localfile"
	"spendtrack/internal/repository"
	"spendtrack/internal/restapi"
	"spendtrack/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case RESTBackend:
		return f.createRESTBackend(config)
	case FileBackend:
		return f.createFileBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	// Optional AMQP change feed; a failure here degrades to the
	// in-process feed rather than blocking startup.
	var changeFeed repository.ChangeFeed
	if config.AMQPURL != "" {
		amqpFeed, err := feed.NewAMQP(config.AMQPURL, config.AMQPExchange)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP change feed, continuing in-process", "error", err)
		} else {
			f.logger.Info("Initialized AMQP change feed", "exchange", config.AMQPExchange)
			changeFeed = amqpFeed
		}
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, changeFeed)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", changeFeed != nil)

	return &BackendResult{
		Repository: repo,
		Users:      repo,
		Cleanup: func() error {
			err := repo.Close()
			if changeFeed != nil {
				if cerr := changeFeed.Close(); err == nil {
					err = cerr
				}
			}
			return err
		},
	}, nil
}

func (f *DefaultFactory) createRESTBackend(config Config) (*BackendResult, error) {
	client := restapi.New(config.RESTBaseURL, config.RESTPollInterval)

	f.logger.Info("Initialized REST backend",
		"base_url", config.RESTBaseURL,
		"poll_interval", config.RESTPollInterval)

	return &BackendResult{
		Repository: client,
		Cleanup:    client.Close,
	}, nil
}

func (f *DefaultFactory) createFileBackend(config Config) (*BackendResult, error) {
	store, err := localfile.New(config.LocalFilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file backend: %w", err)
	}

	f.logger.Info("Initialized file backend", "path", config.LocalFilePath)

	return &BackendResult{
		Repository: store,
		Cleanup:    store.Close,
	}, nil
}
