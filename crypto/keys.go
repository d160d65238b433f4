package crypto

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix is used for customer and contract addresses on the local chain.
	AccountPrefix AddressPrefix = "nhb"
	// RemotePrefix tags accounts living on the trading venue.
	RemotePrefix AddressPrefix = "dex"
)

// AddressLength is the size of the raw address payload.
const AddressLength = 20

var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address represents a 20-byte address with a human-readable prefix. The zero
// value is the empty address.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	a := Address{prefix: prefix}
	copy(a.bytes[:], b)
	return a
}

// ContractAddress derives the address of a contract instantiated by creator
// with the given salt: the last 20 bytes of keccak256(creator || salt).
func ContractAddress(prefix AddressPrefix, creator Address, salt []byte) Address {
	digest := crypto.Keccak256(creator.bytes[:], salt)
	return NewAddress(prefix, digest[12:])
}

func (a Address) IsZero() bool { return a.prefix == "" && a.bytes == [AddressLength]byte{} }

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("%w: %d byte payload", ErrInvalidAddress, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// MustDecodeAddress is intended for tests and constants.
func MustDecodeAddress(addrStr string) Address {
	a, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// EncodeRLP stores the bech32 form so the prefix survives a round trip.
func (a Address) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, a.String())
}

func (a *Address) DecodeRLP(s *rlp.Stream) error {
	raw, err := s.Bytes()
	if err != nil {
		return err
	}
	return a.UnmarshalText(raw)
}
