package blockchain

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mr-tron/base58"

	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

const (
	solanaRequestTimeout = 15 * time.Second

	splTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// SPL token instruction opcodes carried in the first data byte.
	splOpTransferChecked = 12

	// Solana error codes for slots the cluster skipped or pruned.
	solanaSlotSkipped     = -32007
	solanaSlotNotRooted   = -32004
	solanaBlockNotConfirm = -32009
)

// SPLDecoder reads USDT transfers on Solana over JSON-RPC. Heights are
// slots; skipped slots decode to an empty block. Destinations are USDT token
// accounts taken from TransferChecked instructions on the official token
// program; reservation matching happens in the watcher.
type SPLDecoder struct {
	rpcURL     string
	mint       string
	commitment string
	httpClient *http.Client
	log        logger.Interface
}

func NewSPLDecoder(rpcURL, mint string, confirmed bool, log logger.Interface) *SPLDecoder {
	commitment := "confirmed"
	if confirmed {
		commitment = "finalized"
	}
	return &SPLDecoder{
		rpcURL:     rpcURL,
		mint:       mint,
		commitment: commitment,
		httpClient: &http.Client{Timeout: solanaRequestTimeout},
		log:        log.Named("spl"),
	}
}

func (d *SPLDecoder) Chain() string { return constants.ChainSPL }

func (d *SPLDecoder) HeadHeight(ctx context.Context) (int64, error) {
	var slot int64
	params := []any{map[string]string{"commitment": d.commitment}}
	if err := d.call(ctx, "getSlot", params, &slot); err != nil {
		return 0, fmt.Errorf("failed to fetch head slot: %w", err)
	}
	return slot, nil
}

type solanaBlock struct {
	Transactions []struct {
		Meta *struct {
			Err json.RawMessage `json:"err"`
		} `json:"meta"`
		Transaction struct {
			Signatures []string `json:"signatures"`
			Message    struct {
				AccountKeys  []string `json:"accountKeys"`
				Instructions []struct {
					ProgramIDIndex int    `json:"programIdIndex"`
					Accounts       []int  `json:"accounts"`
					Data           string `json:"data"`
				} `json:"instructions"`
			} `json:"message"`
		} `json:"transaction"`
	} `json:"transactions"`
}

func (d *SPLDecoder) DecodeBlock(ctx context.Context, height int64) ([]Transfer, error) {
	params := []any{height, map[string]any{
		"encoding":                       "json",
		"transactionDetails":             "full",
		"rewards":                        false,
		"commitment":                     d.commitment,
		"maxSupportedTransactionVersion": 0,
	}}

	var block solanaBlock
	if err := d.call(ctx, "getBlock", params, &block); err != nil {
		var rpcErr *solanaRPCError
		if errors.As(err, &rpcErr) && rpcErr.skippedSlot() {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch slot %d: %w", height, err)
	}

	var transfers []Transfer
	for _, tx := range block.Transactions {
		if tx.Meta != nil && len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
			continue
		}
		keys := tx.Transaction.Message.AccountKeys
		for _, inst := range tx.Transaction.Message.Instructions {
			if inst.ProgramIDIndex >= len(keys) || keys[inst.ProgramIDIndex] != splTokenProgram {
				continue
			}
			to, amount, ok := d.decodeTransferChecked(keys, inst.Accounts, inst.Data)
			if !ok {
				continue
			}
			txID := ""
			if len(tx.Transaction.Signatures) > 0 {
				txID = tx.Transaction.Signatures[0]
			}
			transfers = append(transfers, Transfer{To: to, Amount: amount, TxID: txID})
		}
	}
	return transfers, nil
}

// decodeTransferChecked parses a TransferChecked instruction: opcode byte,
// little-endian u64 amount, decimals byte; accounts are source, mint,
// destination, owner. The mint account must be USDT.
func (d *SPLDecoder) decodeTransferChecked(keys []string, accounts []int, data string) (string, int64, bool) {
	raw, err := base58.Decode(data)
	if err != nil || len(raw) < 10 || raw[0] != splOpTransferChecked {
		return "", 0, false
	}
	if len(accounts) < 3 {
		return "", 0, false
	}
	mintIdx, destIdx := accounts[1], accounts[2]
	if mintIdx >= len(keys) || destIdx >= len(keys) {
		return "", 0, false
	}
	if keys[mintIdx] != d.mint {
		return "", 0, false
	}

	amount := binary.LittleEndian.Uint64(raw[1:9])
	if amount > 1<<62 {
		return "", 0, false
	}
	return keys[destIdx], int64(amount), true
}

type solanaRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *solanaRPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *solanaRPCError) skippedSlot() bool {
	switch e.Code {
	case solanaSlotSkipped, solanaSlotNotRooted, solanaBlockNotConfirm:
		return true
	}
	return false
}

func (d *SPLDecoder) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *solanaRPCError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
