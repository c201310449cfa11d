// Package backfill implements the Backfill Producer (C3): a parallel
// paginated fetch from the external catalog that emits granule-coverage
// events onto the durable event queue, sized per §4.3 step 2.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/catalog"
	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

const (
	granulesPerProducer = 2000 * 10
	maxProducers        = 8
	producerConsumerRatio = 1.5
	consumerChannelFactor = 2
)

// Stats names the counters one backfill run tracks (§4.3 "Stats"). Run
// logs the fetched and sent counts at Info level and returns only the sent
// count; no function in this package returns a Stats value.
type Stats struct {
	GranulesFetched int64
	GranulesSent    int64
	Producers       int
	Consumers       int
}

// Runner drives the producer/consumer fan-out described in §4.3 and §5.
type Runner struct {
	catalog  *catalog.Client
	producer *eventbus.Producer
	logger   *slog.Logger
}

// New builds a Runner.
func New(catalogClient *catalog.Client, producer *eventbus.Producer, logger *slog.Logger) *Runner {
	return &Runner{catalog: catalogClient, producer: producer, logger: logger}
}

// sizing computes P (producer count), C (consumer count), and Q (channel
// capacity) from the total granule count N, per §4.3 step 2.
func sizing(n int64) (producers, consumers, channelCapacity int) {
	p := int(math.Round(clamp(float64(n)/granulesPerProducer, 1, maxProducers)))
	c := int(math.Round(producerConsumerRatio * float64(p)))
	q := p * consumerChannelFactor * 2000

	return p, c, q
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// Run executes §4.3's producer/consumer fan-out for one collection and
// returns the number of granule events successfully published.
func (r *Runner) Run(ctx context.Context, collectionID, shortName, version string) (int64, error) {
	count, err := r.catalog.FetchGranuleCount(ctx, shortName, version)
	if err != nil {
		return 0, fmt.Errorf("backfill: fetch granule count: %w", err)
	}

	start, end, hasEnd, err := r.catalog.FetchExtent(ctx, shortName, version)
	if err != nil {
		return 0, fmt.Errorf("backfill: fetch extent: %w", err)
	}

	if !hasEnd {
		end = time.Now().UTC()
	}

	producers, consumers, channelCap := sizing(count)

	windows := splitWindow(start, end, producers)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ch := make(chan eventbus.Granule, channelCap)

	var (
		wg      sync.WaitGroup
		fetched int64
		sent    int64
		mu      sync.Mutex
	)

	for _, w := range windows {
		wg.Add(1)

		go func(window gap.TimeWindow) {
			defer wg.Done()

			n, err := r.produce(ctx, shortName, version, window, ch)

			mu.Lock()
			fetched += n
			mu.Unlock()

			if err != nil {
				cancel(err)
			}
		}(w)
	}

	var consumerWG sync.WaitGroup

	for i := 0; i < consumers; i++ {
		consumerWG.Add(1)

		go func() {
			defer consumerWG.Done()

			n, err := r.consume(ctx, collectionID, ch)

			mu.Lock()
			sent += n
			mu.Unlock()

			if err != nil {
				cancel(err)
			}
		}()
	}

	wg.Wait()
	close(ch)
	consumerWG.Wait()

	r.logger.Info("backfill complete",
		slog.String("collection_id", collectionID),
		slog.Int64("granules_fetched", fetched),
		slog.Int64("granules_sent", sent),
		slog.Int("producers", producers),
		slog.Int("consumers", consumers))

	if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
		return sent, fmt.Errorf("backfill: %w", cause)
	}

	return sent, nil
}

func splitWindow(start, end time.Time, n int) []gap.TimeWindow {
	if n < 1 {
		n = 1
	}

	total := end.Sub(start)
	step := total / time.Duration(n)

	windows := make([]gap.TimeWindow, 0, n)

	for i := 0; i < n; i++ {
		ws := start.Add(step * time.Duration(i))

		we := end
		if i < n-1 {
			we = start.Add(step * time.Duration(i+1))
		}

		windows = append(windows, gap.TimeWindow{Start: ws, End: we})
	}

	return windows
}

// produce paginates the catalog over window and emits each granule onto
// ch, retrying per the catalog client's own backoff policy; a page fetch
// error is fatal to this producer and propagates via ctx cancellation.
func (r *Runner) produce(ctx context.Context, shortName, version string, window gap.TimeWindow, ch chan<- eventbus.Granule) (int64, error) {
	var fetched int64

	searchAfter := ""

	for {
		page, next, err := r.catalog.FetchPage(ctx, shortName, version, window, searchAfter)
		if err != nil {
			return fetched, fmt.Errorf("backfill: fetch page: %w", err)
		}

		for _, g := range page {
			select {
			case <-ctx.Done():
				return fetched, context.Cause(ctx)
			case ch <- eventbus.Granule{Begin: g.Begin, End: g.End}:
				fetched++
			}
		}

		if next == "" {
			return fetched, nil
		}

		searchAfter = next
	}
}

// consume drains ch and publishes to the event queue in batches of up to
// 10 (§4.3 step 4, handled inside eventbus.Producer.Publish).
func (r *Runner) consume(ctx context.Context, collectionID string, ch <-chan eventbus.Granule) (int64, error) {
	var sent int64

	buf := make([]eventbus.Granule, 0, 10)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}

		if err := r.producer.Publish(ctx, collectionID, buf); err != nil {
			return err
		}

		sent += int64(len(buf))
		buf = buf[:0]

		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return sent, context.Cause(ctx)
		case g, ok := <-ch:
			if !ok {
				return sent, flush()
			}

			buf = append(buf, g)
			if len(buf) == cap(buf) {
				if err := flush(); err != nil {
					return sent, err
				}
			}
		}
	}
}
