package indexer

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "confsched/internal/log"
)

// cronLogger routes cron's internal logging to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// StartRefresh rebuilds the index on the given cron schedule (standard
// five-field syntax, e.g. "0 */6 * * *") until ctx is done. A tick that
// fires while the previous refresh is still running is skipped.
func StartRefresh(ctx context.Context, x *Indexer, spec string) (*cron.Cron, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		// Failures are logged by the build; the old index stays current.
		_, _ = Await(ctx, x.Rebuild(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: refresh schedule %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Debug("refresh scheduler stopped")
	}()

	appLog.Info("refresh scheduler started", "schedule", spec)
	return c, nil
}
