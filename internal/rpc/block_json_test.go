package rpc

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedRPCHeader builds the JSON shape of a valid Aura block, signed with a
// fresh key.
func signedRPCHeader(t *testing.T) (*rpcHeader, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	header := &chain.Header{
		ParentHash:  common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101"),
		UncleHash:   common.HexToHash("0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347"),
		Coinbase:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Root:        common.HexToHash("0x0303030303030303030303030303030303030303030303030303030303030303"),
		TxHash:      common.HexToHash("0x0404040404040404040404040404040404040404040404040404040404040404"),
		ReceiptHash: common.HexToHash("0x0505050505050505050505050505050505050505050505050505050505050505"),
		Difficulty:  big.NewInt(131072),
		Number:      big.NewInt(42),
		GasLimit:    8000000,
		GasUsed:     21000,
		Time:        500,
		Extra:       []byte("test"),
		Step:        100,
	}

	bareHash, err := header.BareHash()
	require.NoError(t, err)
	header.Signature, err = crypto.Sign(bareHash.Bytes(), key)
	require.NoError(t, err)

	hash, err := header.Hash()
	require.NoError(t, err)

	stepEnc, err := rlp.EncodeToBytes(header.Step)
	require.NoError(t, err)
	sigEnc, err := rlp.EncodeToBytes(header.Signature)
	require.NoError(t, err)

	return &rpcHeader{
		Hash:        hash,
		ParentHash:  header.ParentHash,
		UncleHash:   header.UncleHash,
		Coinbase:    header.Coinbase,
		Root:        header.Root,
		TxHash:      header.TxHash,
		ReceiptHash: header.ReceiptHash,
		Bloom:       make(hexutil.Bytes, 256),
		Difficulty:  (*hexutil.Big)(header.Difficulty),
		Number:      (*hexutil.Big)(header.Number),
		GasLimit:    hexutil.Uint64(header.GasLimit),
		GasUsed:     hexutil.Uint64(header.GasUsed),
		Time:        hexutil.Uint64(header.Time),
		Extra:       hexutil.Bytes(header.Extra),
		SealFields:  []hexutil.Bytes{hexutil.Bytes(stepEnc), hexutil.Bytes(sigEnc)},
	}, crypto.PubkeyToAddress(key.PublicKey)
}

func TestToBlockFromSealFields(t *testing.T) {
	header, proposer := signedRPCHeader(t)

	block, err := header.toBlock()
	require.NoError(t, err)

	assert.Equal(t, header.Hash, block.Hash)
	assert.Equal(t, uint64(42), block.Height)
	assert.Equal(t, uint64(100), block.Step)
	assert.Equal(t, uint64(500), block.Timestamp)
	assert.Equal(t, proposer, block.Proposer)
}

func TestToBlockFromStepAndSignatureFields(t *testing.T) {
	header, proposer := signedRPCHeader(t)

	// decode the seal fields into the convenience fields and drop them
	var sig []byte
	require.NoError(t, rlp.DecodeBytes(header.SealFields[1], &sig))
	step := "100"
	sigHex := hexutil.Encode(sig)
	header.SealFields = nil
	header.Step = &step
	header.Signature = &sigHex

	block, err := header.toBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block.Step)
	assert.Equal(t, proposer, block.Proposer)
}

func TestToBlockRejectsMalformedSeals(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*rpcHeader)
	}{
		{
			name:   "single seal field",
			mutate: func(h *rpcHeader) { h.SealFields = h.SealFields[:1] },
		},
		{
			name: "short signature",
			mutate: func(h *rpcHeader) {
				sigEnc, _ := rlp.EncodeToBytes([]byte{1, 2, 3})
				h.SealFields[1] = sigEnc
			},
		},
		{
			name: "no seal at all",
			mutate: func(h *rpcHeader) {
				h.SealFields = nil
			},
		},
		{
			name: "undecodable step",
			mutate: func(h *rpcHeader) {
				h.SealFields[0] = hexutil.Bytes{0xb9} // truncated rlp
			},
		},
		{
			name: "unparseable decimal step",
			mutate: func(h *rpcHeader) {
				step := "one hundred"
				sigHex := "0x" + "00"
				h.SealFields = nil
				h.Step = &step
				h.Signature = &sigHex
			},
		},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			header, _ := signedRPCHeader(t)
			tt.mutate(header)

			_, err := header.toBlock()
			require.Error(t, err)
			var invalid *chain.InvalidDataError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestToBlockRejectsHashMismatch(t *testing.T) {
	header, _ := signedRPCHeader(t)
	header.Hash = common.HexToHash("0xdeadbeef")

	_, err := header.toBlock()
	require.Error(t, err)
	var invalid *chain.InvalidDataError
	require.ErrorAs(t, err, &invalid)
}

func TestEnsureHexPrefix(t *testing.T) {
	assert.Equal(t, "0xabcd", ensureHexPrefix("abcd"))
	assert.Equal(t, "0xabcd", ensureHexPrefix("0xabcd"))
}

func TestUnpackInitiateChange(t *testing.T) {
	addr1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2 := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := initiateChangeData.Pack([]common.Address{addr1, addr2})
	require.NoError(t, err)

	validators, err := unpackInitiateChange(data)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr1, addr2}, validators)
}

func TestUnpackInitiateChangeRejectsEmptySet(t *testing.T) {
	data, err := initiateChangeData.Pack([]common.Address{})
	require.NoError(t, err)

	_, err = unpackInitiateChange(data)
	require.Error(t, err)
}
