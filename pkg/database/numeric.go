package database

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Asset amounts and canonical values are arbitrary-width integers stored as
// NUMERIC(78,0). These helpers convert between big.Int and pgtype.Numeric at
// the repository boundary.

// NumericFromBig wraps a big.Int for use as a query argument. A nil value is
// stored as zero.
func NumericFromBig(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

// BigFromNumeric converts a scanned NUMERIC into a big.Int. Fails on NULL,
// NaN, or fractional values, none of which a NUMERIC(78,0) column produces.
func BigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid {
		return nil, fmt.Errorf("numeric is null")
	}
	if n.NaN {
		return nil, fmt.Errorf("numeric is NaN")
	}
	if n.Exp < 0 {
		return nil, fmt.Errorf("numeric has fractional digits (exp %d)", n.Exp)
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		v.Mul(v, scale)
	}
	return v, nil
}
