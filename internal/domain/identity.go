package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies an issuer, buyer, or claim holder. Identities are
// 20-byte account addresses; the engine never sees keys, only the address a
// caller has proven control of.
type Address = common.Address

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: %q is not a hex address", ErrInvalidParameter, s)
	}
	return common.HexToAddress(s), nil
}

// IsZeroAddress reports whether a is the all-zero address.
func IsZeroAddress(a Address) bool {
	return a == (Address{})
}
