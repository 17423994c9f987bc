package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// SignatureLength is the length of an Aura step signature (r || s || v).
const SignatureLength = 65

// InvalidDataError reports a block whose header or seal cannot be interpreted.
// It is fatal: the node is serving data this monitor does not understand.
type InvalidDataError struct {
	Msg string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid block data: %s", e.Msg)
}

func invalidDataf(format string, args ...any) error {
	return &InvalidDataError{Msg: fmt.Sprintf(format, args...)}
}

// Header is an AuthorityRound block header. The seal consists of the step
// number and the proposer's signature over the bare (seal-less) header hash.
type Header struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       types.Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte

	// seal
	Step      uint64
	Signature []byte
}

// bareHeader is the RLP layout signed by the proposer: the header without its
// seal fields.
type bareHeader struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       types.Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
}

// sealedHeader is the full on-chain RLP layout. Each seal field is itself an
// RLP-encoded blob appended to the bare field list.
type sealedHeader struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	Root        common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       types.Bloom
	Difficulty  *big.Int
	Number      *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte

	SealStep      rlp.RawValue
	SealSignature rlp.RawValue
}

func (h *Header) bare() bareHeader {
	return bareHeader{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Bloom:       h.Bloom,
		Difficulty:  h.Difficulty,
		Number:      h.Number,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		Extra:       h.Extra,
	}
}

// BareRLP returns the RLP encoding of the header without its seal. This is
// the payload the proposer signs and the canonical form used in equivocation
// proofs.
func (h *Header) BareRLP() ([]byte, error) {
	return rlp.EncodeToBytes(h.bare())
}

// BareHash returns the keccak hash of the seal-less header RLP.
func (h *Header) BareHash() (common.Hash, error) {
	enc, err := h.BareRLP()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// SealedRLP returns the RLP encoding of the full header including the seal.
func (h *Header) SealedRLP() ([]byte, error) {
	stepEnc, err := rlp.EncodeToBytes(h.Step)
	if err != nil {
		return nil, err
	}
	sigEnc, err := rlp.EncodeToBytes(h.Signature)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(sealedHeader{
		ParentHash:  h.ParentHash,
		UncleHash:   h.UncleHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Bloom:       h.Bloom,
		Difficulty:  h.Difficulty,
		Number:      h.Number,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		Extra:       h.Extra,

		SealStep:      stepEnc,
		SealSignature: sigEnc,
	})
}

// Hash returns the block hash, the keccak hash of the sealed header RLP.
func (h *Header) Hash() (common.Hash, error) {
	enc, err := h.SealedRLP()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// RecoverProposer recovers the address that produced the step signature.
func (h *Header) RecoverProposer() (common.Address, error) {
	if len(h.Signature) != SignatureLength {
		return common.Address{}, invalidDataf("signature is %d bytes, want %d", len(h.Signature), SignatureLength)
	}
	hash, err := h.BareHash()
	if err != nil {
		return common.Address{}, err
	}
	pubkey, err := crypto.Ecrecover(hash.Bytes(), h.Signature)
	if err != nil {
		return common.Address{}, invalidDataf("signature recovery failed: %v", err)
	}
	var proposer common.Address
	copy(proposer[:], crypto.Keccak256(pubkey[1:])[12:])
	return proposer, nil
}

// Block is the monitor's canonical view of a chain block: the fields the
// reporters operate on, the proposer recovered from the step signature, and
// the seal-less (bare) header RLP retained as evidence material.
// Uses meddler tags for automatic struct-to-db mapping.
type Block struct {
	Hash       common.Hash    `meddler:"hash,hash"`
	ParentHash common.Hash    `meddler:"parent_hash,hash"`
	Height     uint64         `meddler:"height"`
	Step       uint64         `meddler:"step"`
	Timestamp  uint64         `meddler:"timestamp"`
	Proposer   common.Address `meddler:"proposer,address"`
	Signature  []byte         `meddler:"signature"`
	HeaderRLP  []byte         `meddler:"header_rlp"`
	BranchID   uint64         `meddler:"branch_id"`
}

// NewBlock canonicalizes a header into the stored block form, recovering the
// proposer in the process. The branch id is assigned later, on insert.
func NewBlock(h *Header) (*Block, error) {
	if h.Number == nil {
		return nil, invalidDataf("header has no number")
	}
	if !h.Number.IsUint64() {
		return nil, invalidDataf("block number %s out of range", h.Number)
	}
	hash, err := h.Hash()
	if err != nil {
		return nil, err
	}
	proposer, err := h.RecoverProposer()
	if err != nil {
		return nil, err
	}
	bareRLP, err := h.BareRLP()
	if err != nil {
		return nil, err
	}
	return &Block{
		Hash:       hash,
		ParentHash: h.ParentHash,
		Height:     h.Number.Uint64(),
		Step:       h.Step,
		Timestamp:  h.Time,
		Proposer:   proposer,
		Signature:  h.Signature,
		HeaderRLP:  bareRLP,
	}, nil
}

func (b *Block) String() string {
	return fmt.Sprintf("#%d (step %d, %s)", b.Height, b.Step, b.Hash.Hex()[:10])
}
