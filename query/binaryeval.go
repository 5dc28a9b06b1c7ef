package query

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/tinydb-go/tinydb/bson"
)

// TryEvaluateBinary implements the hot full-scan path:
// field op constant is decided directly from a span Element's raw
// bytes, without materializing a bson.Value. ok is false when this
// (type, op, target) triple isn't binary-evaluable; the caller must
// then fall back to the typed
// evaluator (Evaluate) for that document.
func TryEvaluateBinary(doc []byte, el bson.Element, op Op, target bson.Value) (result bool, ok bool) {
	valBytes := doc[el.ValueOff : el.ValueOff+el.ValueLen]

	switch el.Type {
	case bson.TypeInt32:
		v := int64(int32(binary.LittleEndian.Uint32(valBytes)))
		return compareIntAgainst(v, op, target)

	case bson.TypeInt64:
		v := int64(binary.LittleEndian.Uint64(valBytes))
		return compareIntAgainst(v, op, target)

	case bson.TypeDouble:
		v := math.Float64frombits(binary.LittleEndian.Uint64(valBytes))
		tv, ok2 := asFloat64(target)
		if !ok2 {
			return false, false
		}
		return compareFloat(v, tv, op), true

	case bson.TypeDateTime:
		t, ok2 := target.(time.Time)
		if !ok2 {
			return false, false
		}
		v := int64(binary.LittleEndian.Uint64(valBytes))
		return compareInt(v, t.UnixMilli(), op), true

	case bson.TypeTimestamp:
		ts, ok2 := target.(bson.Timestamp)
		if !ok2 {
			return false, false
		}
		// stored as increment(4 LE) then seconds(4 LE); seconds are the
		// major component.
		i := binary.LittleEndian.Uint32(valBytes[0:4])
		t := binary.LittleEndian.Uint32(valBytes[4:8])
		if t != ts.T {
			return applyCmp(cmpUint32(t, ts.T), op), true
		}
		return applyCmp(cmpUint32(i, ts.I), op), true

	case bson.TypeObjectID:
		tid, ok2 := target.(bson.ObjectID)
		if !ok2 {
			return false, false
		}
		// ObjectID sorts lexicographically byte 0 first.
		return applyCmp(bytes.Compare(valBytes, tid[:]), op), true

	case bson.TypeDecimal128:
		if !isNumericTarget(target) {
			return false, false
		}
		var d bson.Decimal128
		copy(d[:], valBytes)
		// Decimal128 ordering is by mathematical value, not raw BID
		// bytes; bson.Compare decodes the coefficient/exponent form.
		return applyCmp(bson.Compare(d, target), op), true

	case bson.TypeBool:
		if op != OpEq && op != OpNe {
			return false, false
		}
		tv, ok2 := target.(bool)
		if !ok2 {
			return false, false
		}
		eq := (valBytes[0] != 0) == tv
		if op == OpEq {
			return eq, true
		}
		return !eq, true

	case bson.TypeString:
		if op != OpEq && op != OpNe {
			return false, false
		}
		tv, ok2 := target.(string)
		if !ok2 {
			return false, false
		}
		// stored form is length(incl NUL) + bytes + NUL; strip the NUL.
		stored := valBytes[4 : len(valBytes)-1]
		eq := string(stored) == tv
		if op == OpEq {
			return eq, true
		}
		return !eq, true

	case bson.TypeNull:
		return evalNullComparison(op, target), true

	default:
		return false, false
	}
}

// compareIntAgainst compares a stored integer field against an int,
// float, or decimal target without losing precision to truncation
// (30 must not equal a target of 30.5).
func compareIntAgainst(v int64, op Op, target bson.Value) (bool, bool) {
	switch t := target.(type) {
	case int32:
		return compareInt(v, int64(t), op), true
	case int64:
		return compareInt(v, t, op), true
	case int:
		return compareInt(v, int64(t), op), true
	case float64:
		return compareFloat(float64(v), t, op), true
	case bson.Decimal128:
		return applyCmp(bson.Compare(v, t), op), true
	default:
		return false, false
	}
}

func isNumericTarget(v bson.Value) bool {
	switch v.(type) {
	case int32, int64, int, float64, bson.Decimal128:
		return true
	}
	return false
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// evalNullComparison compares a field whose stored type is Null against
// target under BSON ordering: null sorts below every non-null value and
// two nulls are equal.
func evalNullComparison(op Op, target bson.Value) bool {
	targetIsNull := target == nil
	switch op {
	case OpEq:
		return targetIsNull
	case OpGe:
		return targetIsNull
	case OpLe:
		return true
	case OpLt:
		return !targetIsNull
	case OpGt:
		return false
	case OpNe:
		return !targetIsNull
	default:
		return false
	}
}

func compareInt(a, b int64, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	default:
		return false
	}
}

func compareFloat(a, b float64, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	default:
		return false
	}
}

func applyCmp(c int, op Op) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	default:
		return false
	}
}

func asFloat64(v bson.Value) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
