package db

import (
	"fmt"
	"math/big"

	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for *big.Int
	meddler.Register("bigint", BigIntMeddler{})
}

// BigIntMeddler handles conversion between *big.Int and the decimal string
// stored in the database. Decimal text keeps values deterministic and
// comparable in queries regardless of magnitude.
type BigIntMeddler struct{}

func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

func (b BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	s, ok := scanTarget.(*string)
	if !ok {
		return fmt.Errorf("expected *string, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(**big.Int)
	if !ok {
		return fmt.Errorf("expected **big.Int, got %T", fieldAddr)
	}

	value, valid := new(big.Int).SetString(*s, 10)
	if !valid {
		return fmt.Errorf("invalid decimal integer %q", *s)
	}

	*ptr = value
	return nil
}

func (b BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	value, ok := field.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", field)
	}
	if value == nil {
		return "0", nil
	}
	return value.String(), nil
}
