package main

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/ridgeline/meterbill/internal/clickhousestore"
	"github.com/ridgeline/meterbill/internal/config"
	"github.com/ridgeline/meterbill/internal/credential"
	"github.com/ridgeline/meterbill/internal/domain/invoice"
	"github.com/ridgeline/meterbill/internal/httpclient"
	"github.com/ridgeline/meterbill/internal/invoicing"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/metering"
	"github.com/ridgeline/meterbill/internal/monitor"
	"github.com/ridgeline/meterbill/internal/notifier"
	"github.com/ridgeline/meterbill/internal/postgres"
	"github.com/ridgeline/meterbill/internal/ratecache"
	"github.com/ridgeline/meterbill/internal/rateplanclient"
	chrepo "github.com/ridgeline/meterbill/internal/repository/clickhouse"
	pgrepo "github.com/ridgeline/meterbill/internal/repository/postgres"
	"github.com/ridgeline/meterbill/internal/scheduler"
	"github.com/ridgeline/meterbill/internal/subscriptionclient"
)

func init() {
	time.Local = time.UTC
}

// main wires every component this core owns through fx into this
// core's single long-running process: a billing-period monitor plus
// the downstream notifier's background consumer.
func main() {
	fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,

			provideHTTPClient,
			postgres.NewClient,
			provideClickHouseStore,

			provideRatePlanFetcher,
			provideSubscriptionFetcher,

			provideEventRepository,
			provideEventCounter,
			provideTenantEnumerator,

			provideNotifierPubSub,
			provideNotifier,
			provideCredentialIssuer,

			provideInvoiceRepository,
			metering.NewService,
			invoicing.NewService,
			provideMonitor,
			provideScheduler,
		),
		fx.Invoke(
			startNotifier,
			startScheduler,
		),
	).Run()
}

// provideHTTPClient builds the single shared httpclient.Client every
// upstream collaborator (rate plans, subscriptions, the downstream
// notifier) sends through; its timeout is the longest of the
// per-upstream configured timeouts. The notifier also applies its own
// per-call context deadline; the rate-plan and subscription fetchers
// rely on this client timeout alone.
func provideHTTPClient(cfg *config.Configuration) httpclient.Client {
	timeout := cfg.RatePlan.CallTimeout
	for _, t := range []time.Duration{cfg.Subscription.CallTimeout, cfg.Notifier.CallTimeout} {
		if t > timeout {
			timeout = t
		}
	}
	return httpclient.NewDefaultClient(timeout)
}

func provideClickHouseStore(cfg *config.Configuration) (*clickhousestore.Store, error) {
	return clickhousestore.NewStore(cfg)
}

// provideRatePlanFetcher builds the HTTP fetcher and wraps it with the
// patrickmn/go-cache TTL layer (internal/ratecache). When cfg.Cache.Enabled
// is false the cache is bypassed and every estimate fetches the plan.
func provideRatePlanFetcher(cfg *config.Configuration, client httpclient.Client, log *logger.Logger) rateplanclient.Fetcher {
	direct := rateplanclient.NewFetcher(cfg.RatePlan.BaseURL, client, log)

	ttl := cfg.Cache.TTL
	if !cfg.Cache.Enabled {
		ttl = 0
	}
	return ratecache.New(direct, ttl, log)
}

func provideSubscriptionFetcher(cfg *config.Configuration, client httpclient.Client, log *logger.Logger) subscriptionclient.Fetcher {
	return subscriptionclient.NewFetcher(cfg.Subscription.BaseURL, client, log)
}

func provideEventRepository(cfg *config.Configuration, store *clickhousestore.Store, log *logger.Logger) *chrepo.EventRepository {
	return chrepo.NewEventRepository(store, cfg.EventStore.Table, log)
}

func provideEventCounter(r *chrepo.EventRepository) chrepo.EventCounter { return r }

func provideTenantEnumerator(r *chrepo.EventRepository) chrepo.TenantEnumerator { return r }

func provideNotifierPubSub() notifier.PubSub {
	return notifier.NewMemoryPubSub()
}

func provideNotifier(pubsub notifier.PubSub, client httpclient.Client, cfg *config.Configuration, log *logger.Logger) notifier.Notifier {
	return notifier.New(pubsub, client, cfg.Notifier, log)
}

func provideCredentialIssuer(cfg *config.Configuration) credential.Issuer {
	return credential.NewIssuer(cfg.Credential)
}

func provideInvoiceRepository(client postgres.IClient, log *logger.Logger) invoice.Repository {
	return pgrepo.NewInvoiceRepository(client, log)
}

func provideMonitor(
	tenants chrepo.TenantEnumerator,
	subs subscriptionclient.Fetcher,
	cred credential.Issuer,
	invoices invoice.Repository,
	meteringSvc metering.Service,
	invoicer invoicing.Service,
	cfg *config.Configuration,
	log *logger.Logger,
) *monitor.Monitor {
	return monitor.New(tenants, subs, cred, invoices, meteringSvc, invoicer, cfg.Monitor.WorkerPoolSize, log)
}

func provideScheduler(m *monitor.Monitor, cfg *config.Configuration, log *logger.Logger) *scheduler.Scheduler {
	return scheduler.New(m, cfg.Monitor, log)
}

func startNotifier(lc fx.Lifecycle, n notifier.Notifier) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return n.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return n.Close()
		},
	})
}

// startScheduler drives the billing-period monitor's cadence off the
// local ticker by default, or off a Temporal cron schedule when
// cfg.Temporal.Enabled — the two are mutually exclusive triggers for
// the same *monitor.Monitor, never both at once.
func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler, m *monitor.Monitor, cfg *config.Configuration, log *logger.Logger) error {
	if !cfg.Temporal.Enabled {
		var cancel context.CancelFunc
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				var runCtx context.Context
				runCtx, cancel = context.WithCancel(context.Background())
				go s.Run(runCtx)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if cancel != nil {
					cancel()
				}
				return nil
			},
		})
		return nil
	}

	temporalScheduler, err := scheduler.NewTemporalScheduler(cfg.Temporal, cfg.Monitor.Cadence, log)
	if err != nil {
		return err
	}
	w := temporalScheduler.NewWorker(scheduler.NewTickActivities(m))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := temporalScheduler.EnsureSchedule(ctx); err != nil {
				return err
			}
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			w.Stop()
			temporalScheduler.Close()
			return nil
		},
	})
	return nil
}
