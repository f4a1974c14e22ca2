package main

import (
	"context"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/config"
	"github.com/jmerrifield20/senderauth/internal/dns"
	"github.com/jmerrifield20/senderauth/internal/domainauth/repository"
	"github.com/jmerrifield20/senderauth/internal/domainauth/service"
)

// openStore connects the configured storage driver. The returned func
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return repository.NewPostgresRepository(db), db.Close, nil

	case config.DriverDynamoDB:
		dc := cfg.DynamoSettings()
		client, err := repository.NewDynamoClient(ctx, dc)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamodb client: %w", err)
		}
		logger.Info("using dynamodb", zap.String("table", dc.Table), zap.String("region", dc.Region))
		return repository.NewDynamoRepository(client, dc.Table), func() {}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory storage; state is lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func newResolver(cfg *config.Config, logger *zap.Logger) dns.Resolver {
	rc := cfg.ResolverSettings()
	if cfg.Verifier.Backend == config.BackendNet {
		logger.Info("dns: using system resolver")
		return dns.NewStdResolver(net.DefaultResolver, rc.Timeout)
	}
	r := dns.NewMiekgResolver(rc)
	logger.Info("dns: using direct resolver", zap.Strings("nameservers", r.Nameservers()))
	return r
}
