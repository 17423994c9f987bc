package rpc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/jannikluhn/tlbc-monitor/internal/chain"
)

// rpcHeader is the JSON shape of an AuthorityRound block as served by
// eth_getBlockByNumber / eth_getBlockByHash. The seal is carried in
// sealFields (each entry an RLP blob); older nodes additionally expose the
// decoded step and signature fields, which are used as a fallback.
type rpcHeader struct {
	Hash        common.Hash     `json:"hash"`
	ParentHash  common.Hash     `json:"parentHash"`
	UncleHash   common.Hash     `json:"sha3Uncles"`
	Coinbase    common.Address  `json:"miner"`
	Root        common.Hash     `json:"stateRoot"`
	TxHash      common.Hash     `json:"transactionsRoot"`
	ReceiptHash common.Hash     `json:"receiptsRoot"`
	Bloom       hexutil.Bytes   `json:"logsBloom"`
	Difficulty  *hexutil.Big    `json:"difficulty"`
	Number      *hexutil.Big    `json:"number"`
	GasLimit    hexutil.Uint64  `json:"gasLimit"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Time        hexutil.Uint64  `json:"timestamp"`
	Extra       hexutil.Bytes   `json:"extraData"`
	SealFields  []hexutil.Bytes `json:"sealFields"`
	Step        *string         `json:"step"`
	Signature   *string         `json:"signature"`
}

func (rh *rpcHeader) toBlock() (*chain.Block, error) {
	if rh.Number == nil {
		return nil, &chain.InvalidDataError{Msg: "block has no number"}
	}
	if len(rh.Bloom) != types.BloomByteLength {
		return nil, &chain.InvalidDataError{Msg: fmt.Sprintf("logs bloom is %d bytes, want %d", len(rh.Bloom), types.BloomByteLength)}
	}

	step, signature, err := rh.seal()
	if err != nil {
		return nil, err
	}

	header := &chain.Header{
		ParentHash:  rh.ParentHash,
		UncleHash:   rh.UncleHash,
		Coinbase:    rh.Coinbase,
		Root:        rh.Root,
		TxHash:      rh.TxHash,
		ReceiptHash: rh.ReceiptHash,
		Bloom:       types.BytesToBloom(rh.Bloom),
		Difficulty:  rh.Difficulty.ToInt(),
		Number:      rh.Number.ToInt(),
		GasLimit:    uint64(rh.GasLimit),
		GasUsed:     uint64(rh.GasUsed),
		Time:        uint64(rh.Time),
		Extra:       rh.Extra,
		Step:        step,
		Signature:   signature,
	}

	block, err := chain.NewBlock(header)
	if err != nil {
		return nil, err
	}
	if block.Hash != rh.Hash {
		return nil, &chain.InvalidDataError{Msg: fmt.Sprintf(
			"recomputed hash %s does not match reported hash %s for block %d; unexpected seal layout?",
			block.Hash.Hex(), rh.Hash.Hex(), block.Height)}
	}
	return block, nil
}

// seal extracts the step number and step signature, preferring the raw
// sealFields over the decoded convenience fields.
func (rh *rpcHeader) seal() (uint64, []byte, error) {
	if len(rh.SealFields) > 0 {
		if len(rh.SealFields) != 2 {
			return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("block has %d seal fields, want 2", len(rh.SealFields))}
		}
		var step uint64
		if err := rlp.DecodeBytes(rh.SealFields[0], &step); err != nil {
			return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("undecodable step seal field: %v", err)}
		}
		var signature []byte
		if err := rlp.DecodeBytes(rh.SealFields[1], &signature); err != nil {
			return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("undecodable signature seal field: %v", err)}
		}
		if len(signature) != chain.SignatureLength {
			return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("signature is %d bytes, want %d", len(signature), chain.SignatureLength)}
		}
		return step, signature, nil
	}

	if rh.Step == nil || rh.Signature == nil {
		return 0, nil, &chain.InvalidDataError{Msg: "block carries neither seal fields nor step/signature"}
	}
	step, err := strconv.ParseUint(*rh.Step, 10, 64)
	if err != nil {
		return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("unparseable step %q: %v", *rh.Step, err)}
	}
	signature, err := hexutil.Decode(ensureHexPrefix(*rh.Signature))
	if err != nil {
		return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("unparseable signature: %v", err)}
	}
	if len(signature) != chain.SignatureLength {
		return 0, nil, &chain.InvalidDataError{Msg: fmt.Sprintf("signature is %d bytes, want %d", len(signature), chain.SignatureLength)}
	}
	return step, signature, nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
