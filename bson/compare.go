package bson

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"time"
)

// typeRank orders BSON types for cross-type comparison:
// MinKey < Null < numeric < String < Document < Array < Binary <
// ObjectId < Bool < DateTime < Timestamp < Regex < MaxKey.
func typeRank(t Type) int {
	switch t {
	case TypeMinKey:
		return 0
	case TypeNull:
		return 1
	case TypeInt32, TypeInt64, TypeDouble, TypeDecimal128:
		return 2 // numeric family compares across subtypes by value
	case TypeString:
		return 3
	case TypeDocument:
		return 4
	case TypeArray:
		return 5
	case TypeBinary:
		return 6
	case TypeObjectID:
		return 7
	case TypeBool:
		return 8
	case TypeDateTime:
		return 9
	case TypeTimestamp:
		return 10
	case TypeRegex:
		return 11
	case TypeMaxKey:
		return 12
	default:
		return 1
	}
}

func isNumeric(t Type) bool {
	switch t {
	case TypeInt32, TypeInt64, TypeDouble, TypeDecimal128:
		return true
	}
	return false
}

// numericValue widens a numeric Value to float64 for comparison purposes.
// Does not handle Decimal128; use numericBigFloat when either operand
// might be one; numeric values compare by mathematical value across
// Int32/Int64/Double/Decimal128.
func numericValue(v Value) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// numericBigFloat widens any numeric Value, Decimal128 included, to an
// arbitrary-precision float for cross-subtype comparison.
func numericBigFloat(v Value) (*big.Float, bool) {
	switch n := v.(type) {
	case int32:
		return new(big.Float).SetInt64(int64(n)), true
	case int64:
		return new(big.Float).SetInt64(n), true
	case int:
		return new(big.Float).SetInt64(int64(n)), true
	case float64:
		return new(big.Float).SetFloat64(n), true
	case Decimal128:
		return decimal128ToBigFloat(n)
	}
	return nil, false
}

// decimal128ToBigFloat decodes the IEEE 754-2008 decimal128 BID layout
// (sign, biased exponent, 113/114-bit coefficient) into an
// arbitrary-precision float. Returns false for the special
// (infinity/NaN) combination-field encoding, which TinyDb's evaluator
// has no representation for.
func decimal128ToBigFloat(d Decimal128) (*big.Float, bool) {
	lo := binary.LittleEndian.Uint64(d[0:8])
	hi := binary.LittleEndian.Uint64(d[8:16])

	negative := hi>>63 != 0
	if (hi>>58)&0x1f == 0x1f {
		return nil, false // infinity or NaN
	}

	var exponent int64
	var sigHi uint64
	if (hi>>61)&0x3 == 0x3 {
		exponent = int64((hi>>47)&0x3fff) - 6176
		sigHi = (hi & ((1 << 47) - 1)) | (1 << 49)
	} else {
		exponent = int64((hi>>49)&0x3fff) - 6176
		sigHi = hi & ((1 << 49) - 1)
	}

	coeff := new(big.Int).Lsh(new(big.Int).SetUint64(sigHi), 64)
	coeff.Or(coeff, new(big.Int).SetUint64(lo))
	if negative {
		coeff.Neg(coeff)
	}

	result := new(big.Float).SetPrec(128).SetInt(coeff)
	if exponent == 0 {
		return result, true
	}
	absExp := exponent
	neg := false
	if absExp < 0 {
		absExp = -absExp
		neg = true
	}
	pow := new(big.Float).SetPrec(128).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(absExp), nil))
	if neg {
		result.Quo(result, pow)
	} else {
		result.Mul(result, pow)
	}
	return result, true
}

// Compare orders two BSON values per the cross-type rule above.
// Returns -1, 0, or 1.
func Compare(a, b Value) int {
	a, b = normalizeInt(a), normalizeInt(b)
	ta, tb := TypeOf(a), TypeOf(b)
	ra, rb := typeRank(ta), typeRank(tb)

	if isNumeric(ta) && isNumeric(tb) {
		d128a, aIsDec := a.(Decimal128)
		d128b, bIsDec := b.(Decimal128)
		if aIsDec || bIsDec {
			// Any Decimal128 operand: decode the IEEE 754-2008 BID layout
			// and widen both sides to the same comparable domain.
			fa, oka := numericBigFloat(a)
			fb, okb := numericBigFloat(b)
			if oka && okb {
				return fa.Cmp(fb)
			}
			// Non-finite decimal128: fall back to raw bytes so the
			// ordering at least stays total.
			if aIsDec && bIsDec {
				return bytes.Compare(d128a[:], d128b[:])
			}
			return 0
		}
		fa, _ := numericValue(a)
		fb, _ := numericValue(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}

	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ta {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0
	case TypeString:
		return cmpString(a.(string), b.(string))
	case TypeBool:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case TypeDateTime:
		at, bt := a.(time.Time), b.(time.Time)
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	case TypeTimestamp:
		at, bt := a.(Timestamp), b.(Timestamp)
		if at.T != bt.T {
			if at.T < bt.T {
				return -1
			}
			return 1
		}
		if at.I != bt.I {
			if at.I < bt.I {
				return -1
			}
			return 1
		}
		return 0
	case TypeObjectID:
		return a.(ObjectID).Compare(b.(ObjectID))
	case TypeBinary:
		ab, bb := a.(Binary), b.(Binary)
		if len(ab.Data) != len(bb.Data) {
			if len(ab.Data) < len(bb.Data) {
				return -1
			}
			return 1
		}
		return bytes.Compare(ab.Data, bb.Data)
	case TypeRegex:
		ar, br := a.(Regex), b.(Regex)
		if c := cmpString(ar.Pattern, br.Pattern); c != 0 {
			return c
		}
		return cmpString(ar.Options, br.Options)
	case TypeDocument, TypeArray:
		return 0 // documents and arrays are not ordered beyond their type rank
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two BSON values compare equal.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}
