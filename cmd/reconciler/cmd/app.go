package cmd

import (
	"intercompany-reconciliation-service/cmd/reconciler/config"
	"intercompany-reconciliation-service/internal/reconciler"
	"intercompany-reconciliation-service/internal/store"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"
)

// openStore opens the configured persistence backend
func openStore(cfg *config.Config, log logger.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		return store.OpenSQLite(cfg.Storage.Path, log)
	case config.StorageMemory:
		log.Warn("Using the in-memory store; data is lost when the process exits")
		return store.NewMemoryStore(), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "storage.driver", cfg.Storage.Driver, nil)
	}
}

// newService builds the reconciliation service on top of st
func newService(cfg *config.Config, st store.Store, log logger.Logger) (*reconciler.Service, error) {
	rates, err := cfg.Rates()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "exchange_rates", cfg.ExchangeRates, err)
	}

	return reconciler.NewService(reconciler.Dependencies{
		Repository: st,
		Ledger:     st,
		Writer:     st,
		Rates:      rates,
		Logger:     log,
	}, cfg.ServiceConfig())
}
