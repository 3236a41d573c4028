package blockchain

import (
	"context"
	"sync"
	"time"

	"usdtgate/internal/application/pool"
	"usdtgate/internal/infrastructure/metrics"
	"usdtgate/internal/shared/logger"
)

// PaymentSink settles the order reserved for a matched transfer.
type PaymentSink interface {
	MarkPaid(ctx context.Context, chainType, address string, amount int64, txHash string) (bool, error)
}

// Watcher drives one chain's scan loop. It keeps a watermark of the highest
// height already dispatched, caps the backlog after downtime, and fans each
// cycle's new blocks out to parallel decodes joined before the next tick.
// The watermark advances as soon as a range is dispatched; a failed block is
// logged and skipped rather than retried, since its pool entries expire on
// their own.
type Watcher struct {
	decoder    ChainDecoder
	pool       *pool.AmountPool
	sink       PaymentSink
	log        logger.Interface
	interval   time.Duration
	maxBacklog int64

	watermark int64
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewWatcher(
	decoder ChainDecoder,
	amountPool *pool.AmountPool,
	sink PaymentSink,
	interval time.Duration,
	maxBacklog int64,
	log logger.Interface,
) *Watcher {
	return &Watcher{
		decoder:    decoder,
		pool:       amountPool,
		sink:       sink,
		log:        log.Named("watcher").With("chain", decoder.Chain()),
		interval:   interval,
		maxBacklog: maxBacklog,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the scan loop.
func (w *Watcher) Start(ctx context.Context) {
	w.log.Infow("starting chain watcher", "interval", w.interval, "max_backlog", w.maxBacklog)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop stops the loop and waits for the in-flight cycle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		w.log.Infow("chain watcher stopped")
	})
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.scanCycle(ctx)
		}
	}
}

func (w *Watcher) scanCycle(ctx context.Context) {
	head, err := w.decoder.HeadHeight(ctx)
	if err != nil {
		w.log.Warnw("failed to fetch head height", "error", err)
		return
	}

	if w.watermark == 0 {
		// First cycle covers the recent backlog so payments made while
		// the gateway was down still match surviving orders.
		w.watermark = head - w.maxBacklog
	}
	start := w.watermark + 1
	if floor := head - w.maxBacklog + 1; floor > start {
		w.log.Warnw("backlog exceeds cap, skipping ahead",
			"watermark", w.watermark, "head", head, "new_start", floor)
		start = floor
	}
	if start > head {
		return
	}
	w.watermark = head

	var blockWG sync.WaitGroup
	for height := start; height <= head; height++ {
		h := height
		blockWG.Add(1)
		go func() {
			defer blockWG.Done()
			defer func() {
				if r := recover(); r != nil {
					w.log.Errorw("block scan panicked", "height", h, "panic", r)
					metrics.BlockScanFailure.WithLabelValues(w.decoder.Chain()).Inc()
				}
			}()
			w.scanBlock(ctx, h)
		}()
	}
	blockWG.Wait()
}

func (w *Watcher) scanBlock(ctx context.Context, height int64) {
	transfers, err := w.decoder.DecodeBlock(ctx, height)
	if err != nil {
		metrics.BlockScanFailure.WithLabelValues(w.decoder.Chain()).Inc()
		w.log.Warnw("failed to scan block", "height", height, "error", err)
		return
	}
	metrics.BlockScanSuccess.WithLabelValues(w.decoder.Chain()).Inc()

	if len(transfers) == 0 {
		return
	}
	reserved := w.pool.AllKeys()
	for _, t := range transfers {
		if _, ok := reserved[pool.BuildKey(t.To, t.Amount)]; !ok {
			continue
		}
		settled, err := w.sink.MarkPaid(ctx, w.decoder.Chain(), t.To, t.Amount, t.TxID)
		if err != nil {
			w.log.Errorw("failed to settle matched transfer",
				"height", height, "tx_id", t.TxID, "amount", t.Amount, "error", err)
			continue
		}
		if settled {
			w.log.Infow("matched transfer settled",
				"height", height, "tx_id", t.TxID, "amount", t.Amount)
		}
	}
}
