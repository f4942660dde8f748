// Package app wires the pipeline together: it owns the shared clients and
// builds, per stage, the processor plus its consumption loop according to
// the fixed topology.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openoverheid/docpipe/config"
	"github.com/openoverheid/docpipe/internal/broker"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/llm"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/internal/stages/docstore"
	"github.com/openoverheid/docpipe/internal/stages/embedding"
	"github.com/openoverheid/docpipe/internal/stages/extractor"
	"github.com/openoverheid/docpipe/internal/stages/ingestion"
	"github.com/openoverheid/docpipe/internal/stages/notify"
	"github.com/openoverheid/docpipe/internal/stages/piiscan"
	"github.com/openoverheid/docpipe/internal/stages/searchindex"
	"github.com/openoverheid/docpipe/internal/stages/validation"
	"github.com/openoverheid/docpipe/pkg/logger"
	"github.com/openoverheid/docpipe/pkg/storage"
)

// Broker is the queue transport seam; satisfied by the Redis broker and the
// in-memory one used for local single-process runs.
type Broker interface {
	Publisher(queue string) broker.Publisher
	Consumer(queue string) broker.Consumer
	Close() error
}

// App holds the consumers for the requested stages and the resources they
// share.
type App struct {
	cfg    *config.Config
	broker Broker
	ledger ledger.Ledger
	store  storage.Storage
	llm    *llm.Client
	log    logger.Logger

	consumers []*pipeline.Consumer
	docStore  *docstore.Store
}

// New builds consumers for the named stages. Pass pipeline.StageNames() to
// run the whole pipeline in one process.
func New(cfg *config.Config, b Broker, led ledger.Ledger, store storage.Storage, log logger.Logger, stageNames ...string) (*App, error) {
	a := &App{
		cfg:    cfg,
		broker: b,
		ledger: led,
		store:  store,
		llm:    llm.NewClient(cfg.LLM),
		log:    log,
	}

	for _, name := range stageNames {
		route, ok := pipeline.RouteFor(name)
		if !ok {
			return nil, fmt.Errorf("unknown stage: %s", name)
		}
		stage, err := a.buildStage(name)
		if err != nil {
			return nil, err
		}

		var forwarder *pipeline.Forwarder
		if !route.Terminal() {
			publishers := make([]broker.Publisher, 0, len(route.Destinations))
			for _, dest := range route.Destinations {
				publishers = append(publishers, b.Publisher(dest))
			}
			forwarder = pipeline.NewForwarder(route.Subject, led, log, publishers...)
		}

		a.consumers = append(a.consumers, pipeline.NewConsumer(
			b.Consumer(route.Queue), stage, forwarder, led, log, &cfg.Consumer,
		))
	}
	return a, nil
}

func (a *App) buildStage(name string) (pipeline.Stage, error) {
	switch name {
	case pipeline.StageIngestion:
		return ingestion.New(ingestion.NewDocumentFetcher(a.store), a.ledger, a.log), nil
	case pipeline.StageValidation:
		return validation.New(a.ledger, a.log), nil
	case pipeline.StagePIIScanning:
		return piiscan.New(a.ledger, a.log), nil
	case pipeline.StageExtractor:
		return extractor.New(a.llm, a.ledger, a.log), nil
	case pipeline.StageEmbedding:
		return embedding.New(a.llm, a.cfg.Embedding, a.ledger, a.log), nil
	case pipeline.StageDataStorage:
		if a.docStore == nil {
			store, err := docstore.Open(a.cfg.DocStore.Path)
			if err != nil {
				return nil, err
			}
			a.docStore = store
		}
		return docstore.New(a.docStore, a.ledger, a.log), nil
	case pipeline.StageSearchIndex:
		return searchindex.New(searchindex.NewClient(a.cfg.Solr), a.ledger, a.log), nil
	case pipeline.StageNotification:
		return notify.New(notify.NewResendSender(a.cfg.Notify), a.cfg.Notify, a.ledger, a.log), nil
	default:
		return nil, fmt.Errorf("unknown stage: %s", name)
	}
}

// Run starts every consumer and blocks until all of them have stopped.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range a.consumers {
		c := c
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}

// Stop requests a cooperative shutdown of all consumers.
func (a *App) Stop() {
	for _, c := range a.consumers {
		c.Stop()
	}
}

// Close releases shared resources after Run returns.
func (a *App) Close() error {
	var firstErr error
	if a.docStore != nil {
		if err := a.docStore.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.llm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
