package blockchain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

const (
	tronRequestTimeout = 15 * time.Second

	// keccak256("Transfer(address,address,uint256)")
	trc20TransferTopic = "ddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

	tronAddressPrefix = 0x41
)

// TRC20Decoder reads USDT transfers from a TRON full node over its HTTP API.
// The confirmed policy switches every read to the solidity endpoints, which
// only expose blocks the network has finalized.
type TRC20Decoder struct {
	rpcURL      string
	contractHex string
	confirmed   bool
	httpClient  *http.Client
	log         logger.Interface
}

func NewTRC20Decoder(rpcURL, contract string, confirmed bool, log logger.Interface) (*TRC20Decoder, error) {
	contractHex, err := tronAddressToEVMHex(contract)
	if err != nil {
		return nil, fmt.Errorf("invalid trc20 contract address: %w", err)
	}
	return &TRC20Decoder{
		rpcURL:      strings.TrimRight(rpcURL, "/"),
		contractHex: contractHex,
		confirmed:   confirmed,
		httpClient:  &http.Client{Timeout: tronRequestTimeout},
		log:         log.Named("trc20"),
	}, nil
}

func (d *TRC20Decoder) Chain() string { return constants.ChainTRC20 }

func (d *TRC20Decoder) HeadHeight(ctx context.Context) (int64, error) {
	var blockResp struct {
		BlockHeader struct {
			RawData struct {
				Number int64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := d.post(ctx, d.walletPath("getnowblock"), nil, &blockResp); err != nil {
		return 0, fmt.Errorf("failed to fetch head block: %w", err)
	}
	if blockResp.BlockHeader.RawData.Number == 0 {
		return 0, fmt.Errorf("node returned empty head block")
	}
	return blockResp.BlockHeader.RawData.Number, nil
}

type tronTxInfo struct {
	ID      string `json:"id"`
	Receipt struct {
		Result string `json:"result"`
	} `json:"receipt"`
	Log []struct {
		Address string   `json:"address"`
		Topics  []string `json:"topics"`
		Data    string   `json:"data"`
	} `json:"log"`
}

// DecodeBlock extracts USDT Transfer events from the block's transaction
// info list. Only events emitted by the USDT contract with a SUCCESS receipt
// count; the recipient comes from the second indexed topic. Every recipient
// is returned, since orders may reserve amounts under any receiving address.
func (d *TRC20Decoder) DecodeBlock(ctx context.Context, height int64) ([]Transfer, error) {
	var infos []tronTxInfo
	body := map[string]any{"num": height}
	if err := d.post(ctx, d.walletPath("gettransactioninfobyblocknum"), body, &infos); err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", height, err)
	}

	var transfers []Transfer
	for _, info := range infos {
		if info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS" {
			continue
		}
		for _, lg := range info.Log {
			if !strings.EqualFold(lg.Address, d.contractHex) {
				continue
			}
			if len(lg.Topics) != 3 || !strings.EqualFold(lg.Topics[0], trc20TransferTopic) {
				continue
			}

			to, err := tronAddressFromTopic(lg.Topics[2])
			if err != nil {
				d.log.Warnw("failed to decode transfer recipient",
					"tx_id", info.ID, "topic", lg.Topics[2], "error", err)
				continue
			}
			amount, ok := new(big.Int).SetString(strings.TrimPrefix(lg.Data, "0x"), 16)
			if !ok || !amount.IsInt64() {
				d.log.Warnw("failed to parse transfer amount", "tx_id", info.ID, "data", lg.Data)
				continue
			}

			transfers = append(transfers, Transfer{
				To:     to,
				Amount: amount.Int64(),
				TxID:   info.ID,
			})
		}
	}
	return transfers, nil
}

// walletPath selects the confirmed (solidity) or latest endpoint family.
func (d *TRC20Decoder) walletPath(method string) string {
	if d.confirmed {
		return d.rpcURL + "/walletsolidity/" + method
	}
	return d.rpcURL + "/wallet/" + method
}

func (d *TRC20Decoder) post(ctx context.Context, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
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
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// tronAddressFromTopic converts a 32-byte indexed address topic to the
// Base58Check form TRON wallets display.
func tronAddressFromTopic(topic string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(topic, "0x"))
	if err != nil {
		return "", fmt.Errorf("topic is not hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("topic is %d bytes, want 32", len(raw))
	}
	payload := append([]byte{tronAddressPrefix}, raw[12:32]...)
	return base58CheckEncode(payload), nil
}

// tronAddressToEVMHex decodes a Base58Check TRON address to the bare
// 20-byte hex form TRON logs use for contract addresses.
func tronAddressToEVMHex(address string) (string, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return "", fmt.Errorf("invalid base58: %w", err)
	}
	if len(decoded) != 25 {
		return "", fmt.Errorf("decoded address is %d bytes, want 25", len(decoded))
	}
	payload, checksum := decoded[:21], decoded[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(checksum, second[:4]) {
		return "", fmt.Errorf("checksum mismatch")
	}
	if payload[0] != tronAddressPrefix {
		return "", fmt.Errorf("unexpected address prefix 0x%02x", payload[0])
	}
	return hex.EncodeToString(payload[1:]), nil
}

func base58CheckEncode(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(payload, second[:4]...))
}
