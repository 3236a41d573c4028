package blockchain

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usdtgate/internal/shared/logger"
)

const (
	tronUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	// Known hex form of the USDT contract above.
	tronUSDTContractHex = "a614f803b6fd780986a42c78ec9c7f77e6ded13c"
)

func TestTronAddressToEVMHex(t *testing.T) {
	got, err := tronAddressToEVMHex(tronUSDTContract)
	require.NoError(t, err)
	assert.Equal(t, tronUSDTContractHex, got)

	_, err = tronAddressToEVMHex("notbase58!!!")
	assert.Error(t, err)

	// Flip a character to break the checksum.
	_, err = tronAddressToEVMHex("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u")
	assert.Error(t, err)
}

func TestTronAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	address := base58CheckEncode(append([]byte{tronAddressPrefix}, raw...))

	topic := fmt.Sprintf("%024x%s", 0, hex.EncodeToString(raw))
	got, err := tronAddressFromTopic(topic)
	require.NoError(t, err)
	assert.Equal(t, address, got)
}

func newTRC20Fixture(t *testing.T, confirmed bool, blockJSON string) (*TRC20Decoder, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	family := "/wallet/"
	if confirmed {
		family = "/walletsolidity/"
	}
	mux.HandleFunc(family+"getnowblock", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"block_header":{"raw_data":{"number":74000000}}}`)
	})
	mux.HandleFunc(family+"gettransactioninfobyblocknum", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, blockJSON)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	decoder, err := NewTRC20Decoder(server.URL, tronUSDTContract, confirmed, logger.NewLogger())
	require.NoError(t, err)
	return decoder, server
}

func tronTestAddress(seed byte) (string, string) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	address := base58CheckEncode(append([]byte{tronAddressPrefix}, raw...))
	topic := fmt.Sprintf("%024x%s", 0, hex.EncodeToString(raw))
	return address, topic
}

func TestTRC20Decoder_DecodeBlock(t *testing.T) {
	defaultAddress, defaultTopic := tronTestAddress(0x40)
	overrideAddress, overrideTopic := tronTestAddress(0x80)

	transferTopic := trc20TransferTopic
	fromTopic := fmt.Sprintf("%064x", 1)

	blockJSON := fmt.Sprintf(`[
		{
			"id": "tx-success",
			"receipt": {"result": "SUCCESS"},
			"log": [{
				"address": %q,
				"topics": [%q, %q, %q],
				"data": "00000000000000000000000000000000000000000000000000000000003d0900"
			}]
		},
		{
			"id": "tx-override",
			"receipt": {"result": "SUCCESS"},
			"log": [{
				"address": %q,
				"topics": [%q, %q, %q],
				"data": "00000000000000000000000000000000000000000000000000000000003d0900"
			}]
		},
		{
			"id": "tx-reverted",
			"receipt": {"result": "REVERT"},
			"log": [{
				"address": %q,
				"topics": [%q, %q, %q],
				"data": "00000000000000000000000000000000000000000000000000000000003d0900"
			}]
		},
		{
			"id": "tx-other-contract",
			"receipt": {"result": "SUCCESS"},
			"log": [{
				"address": "deadbeef00000000000000000000000000000000",
				"topics": [%q, %q, %q],
				"data": "00000000000000000000000000000000000000000000000000000000003d0900"
			}]
		}
	]`,
		tronUSDTContractHex, transferTopic, fromTopic, defaultTopic,
		tronUSDTContractHex, transferTopic, fromTopic, overrideTopic,
		tronUSDTContractHex, transferTopic, fromTopic, defaultTopic,
		transferTopic, fromTopic, defaultTopic,
	)

	decoder, _ := newTRC20Fixture(t, false, blockJSON)

	transfers, err := decoder.DecodeBlock(context.Background(), 74000000)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "tx-success", transfers[0].TxID)
	assert.Equal(t, defaultAddress, transfers[0].To)
	assert.Equal(t, int64(4000000), transfers[0].Amount)

	// Recipients beyond the chain's default address still decode, so orders
	// reserved under a per-order address can match.
	assert.Equal(t, "tx-override", transfers[1].TxID)
	assert.Equal(t, overrideAddress, transfers[1].To)
	assert.Equal(t, int64(4000000), transfers[1].Amount)
}

func TestTRC20Decoder_HeadHeight(t *testing.T) {
	decoder, _ := newTRC20Fixture(t, false, "[]")
	head, err := decoder.HeadHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(74000000), head)
}

func TestTRC20Decoder_ConfirmedUsesSolidityEndpoints(t *testing.T) {
	decoder, _ := newTRC20Fixture(t, true, "[]")

	head, err := decoder.HeadHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(74000000), head)

	transfers, err := decoder.DecodeBlock(context.Background(), 74000000)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}
