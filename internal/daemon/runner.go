// Package daemon runs the configured message readers and feeds them to ingest.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ArionMiles/tab/internal/plugins"
	"github.com/ArionMiles/tab/pkg/api"
)

// Consumer handles messages from one reader and acknowledges them.
type Consumer interface {
	Consume(ctx context.Context, in <-chan *api.Message, ack chan<- string) error
}

// Source names a reader plugin and its config.
type Source struct {
	Plugin string          `json:"plugin"`
	Config json.RawMessage `json:"config"`
}

// Runner manages reader lifecycles.
type Runner struct {
	registry   *plugins.Registry
	httpClient *http.Client
	consumer   Consumer
	logger     *slog.Logger
}

// New creates a runner.
func New(registry *plugins.Registry, httpClient *http.Client, consumer Consumer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry:   registry,
		httpClient: httpClient,
		consumer:   consumer,
		logger:     logger,
	}
}

// Run starts every source and blocks until all readers finish or ctx is
// canceled. A reader that fails to start aborts the run before any starts.
func (r *Runner) Run(ctx context.Context, sources []Source) error {
	if len(sources) == 0 {
		return errors.New("no reader sources configured")
	}

	readers := make([]api.Reader, len(sources))
	for i, src := range sources {
		reader, err := r.registry.CreateReader(
			src.Plugin,
			r.httpClient,
			src.Config,
			r.logger.With("component", "reader", "plugin", src.Plugin),
		)
		if err != nil {
			return fmt.Errorf("creating reader %q: %w", src.Plugin, err)
		}
		readers[i] = reader
	}

	r.logger.Info("starting readers", "count", len(readers))

	var wg sync.WaitGroup
	for i, reader := range readers {
		wg.Add(1)
		go func(name string, reader api.Reader) {
			defer wg.Done()
			r.runOne(ctx, name, reader)
		}(sources[i].Plugin, reader)
	}
	wg.Wait()

	r.logger.Info("readers stopped")
	return nil
}

func (r *Runner) runOne(ctx context.Context, name string, reader api.Reader) {
	logger := r.logger.With("plugin", name)

	messages := make(chan *api.Message, 100)
	ack := make(chan string, 100)

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- r.consumer.Consume(ctx, messages, ack)
	}()

	if err := reader.Read(ctx, messages, ack); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reader error", "error", err)
	}

	if err := <-consumerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
	}
}
