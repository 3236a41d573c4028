// Package blockchain watches USDT transfers on the supported chains. Each
// chain contributes a ChainDecoder that turns raw blocks into normalized
// transfers; a shared watcher engine drives the scan loops and matches
// transfers against the amount pool.
package blockchain

import "context"

// Transfer is one successful USDT transfer to the watched address, with the
// amount normalized to the token's 6-decimal smallest unit.
type Transfer struct {
	To     string
	Amount int64
	TxID   string
}

// ChainDecoder reads one chain. HeadHeight respects the confirmation policy
// the decoder was built with: the finalized head when confirmed trades are
// required, the latest head otherwise. DecodeBlock returns only transfers
// that reached the watched receiving address and succeeded on chain.
type ChainDecoder interface {
	Chain() string
	HeadHeight(ctx context.Context) (int64, error)
	DecodeBlock(ctx context.Context, height int64) ([]Transfer, error)
}
