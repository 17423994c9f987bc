package db

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for common.Hash
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler handles conversion between common.Hash and database string
// representation.
type HashMeddler struct{}

func (h HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// Provide a string pointer to scan the database value into
	return new(string), nil
}

func (h HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	s, ok := scanTarget.(*string)
	if !ok {
		return fmt.Errorf("expected *string, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*common.Hash)
	if !ok {
		return fmt.Errorf("expected *common.Hash, got %T", fieldAddr)
	}
	*ptr = common.HexToHash(*s)
	return nil
}

func (h HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	if hash, ok := field.(common.Hash); ok {
		return hash.Hex(), nil
	}
	return "", fmt.Errorf("expected common.Hash, got %T", field)
}
