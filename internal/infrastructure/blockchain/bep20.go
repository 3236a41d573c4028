package blockchain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

// transfer(address,uint256)
const bep20TransferSelector = "a9059cbb"

// BSC USDT carries 18 decimals on chain; the gateway tracks 6.
var bep20ScaleDown = big.NewInt(1_000_000_000_000)

// BEP20Decoder reads USDT transfers on BNB Smart Chain through an ethclient.
// Direct transfer(...) calls to the token contract are decoded from calldata
// and gated on a successful receipt. Receipts are only fetched for transfers
// whose (address, amount) is reserved, keeping receipt traffic proportional
// to live orders rather than block size.
type BEP20Decoder struct {
	client    *ethclient.Client
	contract  common.Address
	reserved  func(address string, amount int64) bool
	confirmed bool
	log       logger.Interface
}

func NewBEP20Decoder(rpcURL, contract string, reserved func(address string, amount int64) bool, confirmed bool, log logger.Interface) (*BEP20Decoder, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid bep20 contract address %q", contract)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bsc node: %w", err)
	}
	return &BEP20Decoder{
		client:    client,
		contract:  common.HexToAddress(contract),
		reserved:  reserved,
		confirmed: confirmed,
		log:       log.Named("bep20"),
	}, nil
}

func (d *BEP20Decoder) Chain() string { return constants.ChainBEP20 }

func (d *BEP20Decoder) Close() {
	d.client.Close()
}

func (d *BEP20Decoder) HeadHeight(ctx context.Context) (int64, error) {
	if d.confirmed {
		header, err := d.client.HeaderByNumber(ctx, big.NewInt(rpc.FinalizedBlockNumber.Int64()))
		if err != nil {
			return 0, fmt.Errorf("failed to fetch finalized header: %w", err)
		}
		return header.Number.Int64(), nil
	}
	head, err := d.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch head block number: %w", err)
	}
	return int64(head), nil
}

func (d *BEP20Decoder) DecodeBlock(ctx context.Context, height int64) ([]Transfer, error) {
	block, err := d.client.BlockByNumber(ctx, big.NewInt(height))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", height, err)
	}

	var transfers []Transfer
	for _, tx := range block.Transactions() {
		to, amount, ok := d.decodeTransferCall(tx)
		if !ok {
			continue
		}
		dest := bep20CanonicalAddress(to)
		if d.reserved != nil && !d.reserved(dest, amount) {
			continue
		}

		receipt, err := d.client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch receipt %s: %w", tx.Hash().Hex(), err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}

		transfers = append(transfers, Transfer{
			To:     dest,
			Amount: amount,
			TxID:   tx.Hash().Hex(),
		})
	}
	return transfers, nil
}

// bep20CanonicalAddress renders an address in the lowercase hex form orders
// store, so pool keys compare equal regardless of checksum casing.
func bep20CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// decodeTransferCall parses a transfer(address,uint256) call against the
// USDT contract: 4-byte selector, 32-byte padded recipient, 32-byte amount.
func (d *BEP20Decoder) decodeTransferCall(tx *types.Transaction) (common.Address, int64, bool) {
	if tx.To() == nil || *tx.To() != d.contract {
		return common.Address{}, 0, false
	}
	data := tx.Data()
	if len(data) < 68 || hex.EncodeToString(data[:4]) != bep20TransferSelector {
		return common.Address{}, 0, false
	}

	to := common.BytesToAddress(data[16:36])
	raw := new(big.Int).SetBytes(data[36:68])
	scaled := new(big.Int).Div(raw, bep20ScaleDown)
	if !scaled.IsInt64() {
		d.log.Warnw("transfer amount out of range",
			"tx_hash", tx.Hash().Hex(), "raw", raw.String())
		return common.Address{}, 0, false
	}
	return to, scaled.Int64(), true
}
