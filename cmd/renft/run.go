package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"renft/pkg/chain"
	"renft/pkg/config"
	"renft/pkg/database"
	"renft/pkg/keeper"
	"renft/pkg/ledger"
	"renft/pkg/logger"
	"renft/pkg/metrics"
	"renft/pkg/queue"
	"renft/pkg/types"
)

// defaultEscrow is the escrow account when ESCROW_ADDRESS is not set.
var defaultEscrow = common.BytesToAddress([]byte("renft-escrow"))

// keeperAccount is the caller the keeper claims as.
var keeperAccount = common.BytesToAddress([]byte("renft-keeper"))

var serveCmd = &cli.Command{
	Name:    "serve",
	Aliases: []string{"s"},
	Usage:   "Run the HTTP API and, when enabled, the collateral keeper",
	Action: func(c *cli.Context) error {
		cfg, log, err := setup(c)
		if err != nil {
			return err
		}
		db, err := database.InitLedgerDB(cfg.DB, log)
		if err != nil {
			return err
		}
		m := metrics.New()
		l, err := newLedger(c.Context, cfg, db, log, ledger.WithObserver(m))
		if err != nil {
			return err
		}
		l.Subscribe(m.OnEvent)

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Keeper.Enabled {
			k, closeQueue, err := startKeeper(ctx, cfg, l, m, log)
			if err != nil {
				return err
			}
			defer closeQueue()
			defer k.Stop()
		}

		if cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           newServer(cfg, db, l, m, log).router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() {
			log.Infof("%v service starting on %v", serviceName, cfg.HTTPAddr)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "Create or update the database schema and exit",
	Action: func(c *cli.Context) error {
		cfg, log, err := setup(c)
		if err != nil {
			return err
		}
		// InitLedgerDB migrates on connect.
		db, err := database.InitLedgerDB(cfg.DB, log)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		log.Info("schema is up to date")
		return nil
	},
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Initialize the ledger parameters and exit",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "controller", Usage: "controller address, overrides CONTROLLER_ADDRESS"},
		&cli.StringFlag{Name: "beneficiary", Usage: "beneficiary address, overrides BENEFICIARY_ADDRESS"},
		&cli.UintFlag{Name: "fee-rate", Usage: "fee rate in basis points, overrides FEE_RATE_BPS"},
	},
	Action: func(c *cli.Context) error {
		cfg, log, err := setup(c)
		if err != nil {
			return err
		}
		if v := c.String("controller"); v != "" {
			cfg.Controller = v
		}
		if v := c.String("beneficiary"); v != "" {
			cfg.Beneficiary = v
		}
		if c.IsSet("fee-rate") {
			rate, err := feeRateFrom(c.Uint("fee-rate"))
			if err != nil {
				return err
			}
			cfg.FeeRate = rate
		}
		if cfg.Controller == "" || cfg.Beneficiary == "" {
			return errors.New("controller and beneficiary are required")
		}
		db, err := database.InitLedgerDB(cfg.DB, log)
		if err != nil {
			return err
		}
		_, err = newLedger(c.Context, cfg, db, log)
		return err
	},
}

// feeRateFrom range-checks a flag value before narrowing it to basis points.
func feeRateFrom(v uint) (uint16, error) {
	if v > types.FeeDenominator {
		return 0, fmt.Errorf("fee-rate %d exceeds %d basis points", v, types.FeeDenominator)
	}
	return uint16(v), nil
}

func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(cfg.LogLevel, cfg.LogFormat), nil
}

func escrowAddress(cfg *config.Config) (common.Address, error) {
	if cfg.Escrow == "" {
		return defaultEscrow, nil
	}
	if !common.IsHexAddress(cfg.Escrow) {
		return common.Address{}, fmt.Errorf("ESCROW_ADDRESS %q is not a hex address", cfg.Escrow)
	}
	return common.HexToAddress(cfg.Escrow), nil
}

// newLedger builds the ledger over the simulated chain and initializes it
// when a controller and beneficiary are configured.
func newLedger(ctx context.Context, cfg *config.Config, db *gorm.DB, log logrus.FieldLogger, opts ...ledger.Option) (*ledger.Ledger, error) {
	escrow, err := escrowAddress(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]ledger.Option{
		ledger.WithLogger(log),
		ledger.WithMaxBatch(cfg.MaxBatch),
		ledger.WithOpenClaims(cfg.OpenClaims || cfg.Keeper.Enabled),
	}, opts...)
	l := ledger.New(db, chain.Backend{}, escrow, opts...)

	if cfg.Controller == "" || cfg.Beneficiary == "" {
		log.Warn("CONTROLLER_ADDRESS or BENEFICIARY_ADDRESS not set, skipping ledger initialization")
		return l, nil
	}
	for name, v := range map[string]string{"CONTROLLER_ADDRESS": cfg.Controller, "BENEFICIARY_ADDRESS": cfg.Beneficiary} {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("%s %q is not a hex address", name, v)
		}
	}
	created, err := l.Init(ctx, ledger.InitParams{
		Controller:  common.HexToAddress(cfg.Controller),
		Beneficiary: common.HexToAddress(cfg.Beneficiary),
		FeeRate:     cfg.FeeRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}
	log.WithFields(logrus.Fields{"created": created, "escrow": escrow.Hex()}).Info("ledger ready")
	return l, nil
}

func startKeeper(ctx context.Context, cfg *config.Config, l *ledger.Ledger, m *metrics.Metrics, log logrus.FieldLogger) (*keeper.Keeper, func(), error) {
	var (
		q         queue.DueQueue = queue.NewQueue()
		closeFunc                = func() {}
	)
	if cfg.Keeper.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Keeper.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		q = queue.NewRedisQueue(rdb, cfg.Keeper.RedisKey)
		closeFunc = func() { rdb.Close() }
	}

	k, err := keeper.New(l, q, keeperAccount,
		keeper.WithLogger(log.WithField("component", "keeper")),
		keeper.WithRecorder(m),
		keeper.WithBreaker(keeper.NewBreaker(cfg.Keeper.MaxFailures, cfg.Keeper.BreakerReset)),
	)
	if err != nil {
		closeFunc()
		return nil, nil, err
	}
	k.Attach()
	if _, err := k.Reload(ctx); err != nil {
		closeFunc()
		return nil, nil, fmt.Errorf("reload keeper queue: %w", err)
	}
	if err := k.Start(cfg.Keeper.Schedule); err != nil {
		closeFunc()
		return nil, nil, err
	}
	return k, closeFunc, nil
}
