package query

import (
	"testing"

	"github.com/tinydb-go/tinydb/bson"
)

// For every predicate the binary evaluator can decide, the result must
// match the typed evaluator's result.
func TestBinaryEvalMatchesTypedEval(t *testing.T) {
	cases := []struct {
		name string
		val  bson.Value
		op   Op
		tgt  bson.Value
		want bool
	}{
		{"int64 eq", int64(42), OpEq, int64(42), true},
		{"int64 lt", int64(5), OpLt, int64(10), true},
		{"int64 gt false", int64(5), OpGt, int64(10), false},
		{"double ge", 3.5, OpGe, 3.5, true},
		{"string eq", "hello", OpEq, "hello", true},
		{"string ne", "hello", OpNe, "world", true},
		{"bool eq", true, OpEq, true, true},
		{"null eq null", nil, OpEq, nil, true},
		{"null lt nonnull", nil, OpLt, int64(1), true},
		{"null gt nonnull", nil, OpGt, int64(1), false},
		{
			"objectid lexicographic not little-endian",
			bson.ObjectID{0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x02},
			OpLt,
			bson.ObjectID{0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01},
			true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			doc := bson.NewDocument()
			doc.Set("f", c.val)
			raw, err := bson.Encode(doc)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			el, found, err := bson.FieldSpan(raw, "f")
			if err != nil {
				t.Fatalf("FieldSpan: %v", err)
			}
			if !found {
				t.Fatalf("field not found")
			}

			binResult, handled := TryEvaluateBinary(raw, el, c.op, c.tgt)
			if !handled {
				t.Fatalf("expected binary evaluator to handle %s", c.name)
			}
			typedResult := CompareOp(c.val, c.op, c.tgt)

			if binResult != c.want {
				t.Fatalf("binary result %v, want %v", binResult, c.want)
			}
			if binResult != typedResult {
				t.Fatalf("binary result %v != typed result %v", binResult, typedResult)
			}
		})
	}
}

func TestBinaryEvalUnsupportedTypeFallsBack(t *testing.T) {
	doc := bson.NewDocument()
	doc.Set("f", bson.NewArray(int64(1), int64(2)))
	raw, err := bson.Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	el, found, err := bson.FieldSpan(raw, "f")
	if err != nil {
		t.Fatalf("FieldSpan: %v", err)
	}
	if !found {
		t.Fatalf("field not found")
	}
	if _, handled := TryEvaluateBinary(raw, el, OpEq, int64(1)); handled {
		t.Fatalf("expected array field to be unhandled by the binary evaluator")
	}
}
