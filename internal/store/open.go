package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/resilience"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the store named by driver, retrying transient
// connection failures.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig, retryCfg resilience.RetryConfig) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, eris.New("store: database_url is required")
	}
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("store: open " + driver)
	}

	var (
		s   Store
		err error
	)
	switch strings.ToLower(driver) {
	case DriverPostgres:
		s, err = resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (Store, error) {
			return NewPostgres(ctx, dsn, poolCfg)
		})
	case DriverSQLite:
		s, err = resilience.DoVal(ctx, retryCfg, func(context.Context) (Store, error) {
			return NewSQLite(dsn)
		})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", driver)
	}

	zap.L().Debug("store: opened", zap.String("driver", driver))
	return s, nil
}
