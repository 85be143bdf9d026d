package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/FACorreiaa/go-credentials-api/app/broker"
	database "github.com/FACorreiaa/go-credentials-api/app/db"
	"github.com/FACorreiaa/go-credentials-api/app/observability/metrics"
	"github.com/FACorreiaa/go-credentials-api/config"
	"github.com/FACorreiaa/go-credentials-api/internal/api/account"
	"github.com/FACorreiaa/go-credentials-api/internal/api/auth"
)

// Container holds all application dependencies
type Container struct {
	Config         *config.Config
	Logger         *slog.Logger
	Pool           *pgxpool.Pool
	SQLite         *sql.DB
	AMQP           *amqp.Connection
	AccountRepo    account.AccountRepo
	AccountService *account.AccountServiceImpl
	AccountHandler *account.HandlerImpl
	TokenIssuer    *auth.TokenIssuer
	Authenticate   func(http.Handler) http.Handler
}

// NewContainer builds the credential store selected by configuration and wires
// the account service and handlers on top of it.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.AppMetrics) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	if m == nil {
		m = metrics.Get()
	}

	if err := c.initStore(ctx, m); err != nil {
		c.Close()
		return nil, err
	}

	hasher, err := auth.NewBcryptHasher(cfg.Security.BcryptCost, cfg.Security.HashWorkers)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	c.TokenIssuer, err = auth.NewTokenIssuer(cfg.JWT)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	c.AccountService = account.NewAccountService(c.AccountRepo, hasher, c.TokenIssuer, c.initPublisher(ctx), m, logger)
	c.AccountHandler = account.NewHandlerImpl(c.AccountService, logger)
	c.Authenticate = auth.Authenticate(logger, c.TokenIssuer)

	return c, nil
}

func (c *Container) initStore(ctx context.Context, m *metrics.AppMetrics) error {
	cfg, logger := c.Config, c.Logger

	switch cfg.Repositories.Driver {
	case config.DriverPostgres:
		dbConfig, err := database.NewDatabaseConfig(cfg, logger)
		if err != nil {
			return err
		}
		if err = database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
			return err
		}
		c.Pool, err = database.Init(ctx, dbConfig.ConnectionURL, cfg.Repositories.Postgres, logger)
		if err != nil {
			return err
		}
		if !database.WaitForDB(ctx, c.Pool, logger) {
			return errors.New("database not ready after waiting")
		}
		c.AccountRepo = account.NewPostgresAccountRepo(c.Pool, logger, m)

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Repositories.SQLite.Path, logger)
		if err != nil {
			return err
		}
		c.SQLite = db
		c.AccountRepo = account.NewSQLiteAccountRepo(db, logger, m)

	case config.DriverMemory:
		logger.Warn("Using in-memory credential store; accounts are lost on restart")
		c.AccountRepo = account.NewMemoryAccountRepo()

	default:
		return fmt.Errorf("unknown repositories.driver %q", cfg.Repositories.Driver)
	}

	logger.Info("Credential store ready", slog.String("driver", cfg.Repositories.Driver))
	return nil
}

// initPublisher connects to the broker when enabled. Events are best effort, so an
// unreachable broker downgrades to dropping them instead of refusing to start.
func (c *Container) initPublisher(ctx context.Context) account.EventPublisher {
	if !c.Config.Broker.Enabled {
		return account.NoopPublisher{}
	}
	conn, err := broker.Dial(ctx, c.Config.Broker.URL)
	if err != nil {
		c.Logger.Warn("Account events disabled, broker unreachable", slog.Any("error", err))
		return account.NoopPublisher{}
	}
	c.AMQP = conn
	c.Logger.Info("Publishing account events", slog.String("queue", c.Config.Broker.Queue))
	return broker.NewEventPublisher(conn, c.Config.Broker.Queue)
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.AMQP != nil {
		if err := c.AMQP.Close(); err != nil {
			c.Logger.Warn("Error closing broker connection", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			c.Logger.Warn("Error closing sqlite database", slog.Any("error", err))
		}
	}
}
