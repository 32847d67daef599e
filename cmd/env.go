package main

import (
	"context"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/automation"
	"github.com/sells-group/list-enricher/internal/connector"
	"github.com/sells-group/list-enricher/internal/cost"
	"github.com/sells-group/list-enricher/internal/docstore"
	"github.com/sells-group/list-enricher/internal/enrichment"
	"github.com/sells-group/list-enricher/internal/extraction"
	"github.com/sells-group/list-enricher/internal/listview"
	"github.com/sells-group/list-enricher/internal/llm"
	"github.com/sells-group/list-enricher/internal/monitoring"
	"github.com/sells-group/list-enricher/internal/resilience"
	"github.com/sells-group/list-enricher/internal/store"
	"github.com/sells-group/list-enricher/internal/vector"
	"github.com/sells-group/list-enricher/internal/webfetch"
	anthropicpkg "github.com/sells-group/list-enricher/pkg/anthropic"
	"github.com/sells-group/list-enricher/pkg/jina"
)

// appEnv holds the store and every service built on it.
type appEnv struct {
	Store       *store.PostgresStore
	Docs        *docstore.FS
	Vectors     *vector.Store
	Events      *enrichment.Registry
	Publisher   enrichment.Publisher
	Queue       *enrichment.Queue
	Worker      *enrichment.Worker
	Extractor   *extraction.Engine
	Automations *automation.Engine
	Syncer      *automation.Syncer
	Views       *listview.Service
	Monitor     *monitoring.Collector

	nc  *nats.Conn
	sub *nats.Subscription
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
	}
	if e.nc != nil {
		e.nc.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the Postgres store and applies the schema.
func initStore(ctx context.Context) (*store.PostgresStore, error) {
	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates the config for mode and wires every service. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Docs: docstore.NewFS(cfg.Docstore.Root), Events: enrichment.NewRegistry()}
	env.Publisher = env.Events

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("list-enricher"))
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "connect nats")
		}
		bridge := enrichment.NewNATSBridge(nc, cfg.NATS.SubjectPrefix, env.Events)
		sub, err := bridge.Start()
		if err != nil {
			nc.Close()
			env.Close()
			return nil, err
		}
		env.nc, env.sub, env.Publisher = nc, sub, bridge
		zap.L().Info("nats event fan-out enabled", zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	embed := vector.OllamaEmbedder(cfg.Vector.OllamaURL, cfg.Vector.EmbeddingModel)
	if cfg.Vector.Path == "" {
		env.Vectors = vector.NewMemory(embed)
	} else {
		env.Vectors, err = vector.NewPersistent(cfg.Vector.Path, embed)
		if err != nil {
			env.Close()
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	anthropicOpts := []anthropicpkg.Option{anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries)}
	if cfg.Anthropic.BaseURL != "" {
		anthropicOpts = append(anthropicOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicOpts...)
	svc := llm.NewAnthropicService(anthropicClient, llm.Config{
		DefaultModel: cfg.Anthropic.DefaultModel,
		MaxTokens:    cfg.Anthropic.MaxTokens,
		Retry:        resilience.DefaultRetryConfig(),
	})
	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithHTTPClient(httpClient),
	)

	var cipher *connector.Cipher
	if cfg.Connector.EncryptionKey != "" {
		if cipher, err = connector.NewCipher(cfg.Connector.EncryptionKey); err != nil {
			env.Close()
			return nil, err
		}
	} else {
		zap.L().Warn("LISTENRICH_CONNECTOR_ENCRYPTION_KEY not set, connector credentials are stored as plain text")
	}
	connectors := connector.NewDefaultRegistry(cipher, connector.Options{
		SalesforceRPS: cfg.Salesforce.RPS,
		NotionRPS:     cfg.Notion.RPS,
		HTTPClient:    httpClient,
	})

	env.Syncer = automation.NewSyncer(st)
	env.Automations = automation.NewEngine(st, connectors, automation.Config{
		Interval:      cfg.Worker.Interval,
		BatchSize:     cfg.Worker.BatchSize,
		MaxConcurrent: cfg.Worker.MaxConcurrentExecutions,
		Breaker:       resilience.BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second},
	})
	env.Extractor = extraction.NewEngine(st, env.Docs, svc, env.Syncer).WithCost(cost.NewCalculator(pricing()))
	env.Queue = enrichment.NewQueue(st, env.Publisher)
	resolver := enrichment.NewResolver(st, env.Vectors, webfetch.New(jinaClient, httpClient), env.Docs)
	env.Worker = enrichment.NewWorker(st, svc, resolver, env.Publisher, enrichment.Config{
		Interval:  cfg.Worker.Interval,
		BatchSize: cfg.Worker.BatchSize,
	})
	env.Views = listview.NewService(st.Pool())
	env.Monitor = monitoring.NewCollector(st)

	return env, nil
}

// pricing merges configured model rates over the built-in ones.
func pricing() cost.Rates {
	rates := cost.DefaultRates()
	for name, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[name] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}
