// Package lock provides short-lived exclusive locks for scheduled jobs.
//
// Several replicas of the service run the same cron schedule. Each job run
// takes a named lock first so only one replica drains the outbox or sweeps
// expired subscriptions at a time:
//
//	ran, err := lock.RunExclusive(ctx, locker, "outbox-drain", time.Minute, func(ctx context.Context) error {
//		_, err := worker.Drain(ctx)
//		return err
//	})
//
// RedisLocker is used when Redis is configured; LocalLocker only excludes
// runs within one process. Job locks never protect ledger consistency, which
// is the database's job.
package lock
