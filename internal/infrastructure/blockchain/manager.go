package blockchain

import (
	"context"
	"fmt"
	"time"

	"usdtgate/internal/application/pool"
	"usdtgate/internal/infrastructure/config"
	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

// Scan cadence per chain. Solana produces slots sub-second, so its watcher
// ticks faster and tolerates a deeper backlog per cycle.
const (
	defaultScanInterval = 3 * time.Second
	solanaScanInterval  = 1 * time.Second

	defaultMaxBacklog int64 = 5
	solanaMaxBacklog  int64 = 10
)

// Manager owns one watcher per enabled chain.
type Manager struct {
	watchers []*Watcher
	log      logger.Interface
}

// NewManager builds decoders and watchers for every enabled chain.
func NewManager(cfg *config.Config, amountPool *pool.AmountPool, sink PaymentSink, log logger.Interface) (*Manager, error) {
	m := &Manager{log: log.Named("blockchain")}

	for _, chainType := range constants.ValidChains {
		chain := cfg.Chain(chainType)
		if chain == nil || !chain.Enabled {
			continue
		}

		decoder, err := newDecoder(chainType, chain, amountPool, cfg.Pay.TradeIsConfirmed, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s decoder: %w", chainType, err)
		}

		interval, backlog := defaultScanInterval, defaultMaxBacklog
		if chainType == constants.ChainSPL {
			interval, backlog = solanaScanInterval, solanaMaxBacklog
		}
		m.watchers = append(m.watchers, NewWatcher(decoder, amountPool, sink, interval, backlog, log))
	}

	if len(m.watchers) == 0 {
		m.log.Warnw("no chains enabled, payment watching is off")
	}
	return m, nil
}

func newDecoder(chainType string, chain *config.ChainConfig, amountPool *pool.AmountPool, confirmed bool, log logger.Interface) (ChainDecoder, error) {
	switch chainType {
	case constants.ChainTRC20:
		return NewTRC20Decoder(chain.RPC, chain.SmartContract, confirmed, log)
	case constants.ChainSPL:
		return NewSPLDecoder(chain.RPC, chain.SmartContract, confirmed, log), nil
	case constants.ChainBEP20:
		reserved := func(address string, amount int64) bool {
			return amountPool.Entry(address, amount) != nil
		}
		return NewBEP20Decoder(chain.RPC, chain.SmartContract, reserved, confirmed, log)
	}
	return nil, fmt.Errorf("unknown chain type %q", chainType)
}

// Start launches every watcher.
func (m *Manager) Start(ctx context.Context) {
	for _, w := range m.watchers {
		w.Start(ctx)
	}
}

// Stop stops every watcher and waits for in-flight cycles.
func (m *Manager) Stop() {
	for _, w := range m.watchers {
		w.Stop()
	}
}

// Watchers exposes the managed watchers, used in tests.
func (m *Manager) Watchers() []*Watcher {
	return m.watchers
}
