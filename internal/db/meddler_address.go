package db

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for common.Address
	meddler.Register("address", AddressMeddler{})
}

// AddressMeddler handles conversion between common.Address and database
// string representation.
type AddressMeddler struct{}

func (a AddressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

func (a AddressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	s, ok := scanTarget.(*string)
	if !ok {
		return fmt.Errorf("expected *string, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*common.Address)
	if !ok {
		return fmt.Errorf("expected *common.Address, got %T", fieldAddr)
	}
	*ptr = common.HexToAddress(*s)
	return nil
}

func (a AddressMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	if addr, ok := field.(common.Address); ok {
		return addr.Hex(), nil
	}
	return "", fmt.Errorf("expected common.Address, got %T", field)
}
