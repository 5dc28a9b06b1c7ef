package query

import (
	"errors"
	"testing"
	"time"

	"github.com/tinydb-go/tinydb/bson"
)

func evalDoc() *bson.Document {
	d := bson.NewDocument()
	d.Set("_id", "u1")
	d.Set("name", "Ana Lima")
	d.Set("age", int64(30))
	d.Set("score", 2.5)
	d.Set("tags", bson.NewArray("a", "b", "c"))
	d.Set("joined", time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC))
	return d
}

func TestEvaluateStringFunctions(t *testing.T) {
	doc := evalDoc()
	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"contains", Field("name").Contains("Lima"), true},
		{"contains miss", Field("name").Contains("lima"), false},
		{"starts", Field("name").StartsWith("Ana"), true},
		{"ends", Field("name").EndsWith("Lima"), true},
		{"tolower eq", Field("name").ToLower().Eq("ana lima"), true},
		{"toupper eq", Field("name").ToUpper().Eq("ANA LIMA"), true},
		{"length", Field("name").Value().Length().Eq(int64(8)), true},
		{"substring", Field("name").Value().Substring(int64(0), int64(3)).Eq("Ana"), true},
		{"replace", Field("name").Value().Replace("Ana", "Eva").Eq("Eva Lima"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Evaluate(c.expr, doc); got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestEvaluateArithmetic(t *testing.T) {
	doc := evalDoc()
	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"add", Field("age").Value().Add(int64(5)).Eq(int64(35)), true},
		{"sub", Field("age").Value().Sub(int64(1)).Gt(int64(28)), true},
		{"mul float", Field("score").Value().Mul(2.0).Eq(5.0), true},
		{"div int", Field("age").Value().Div(int64(3)).Eq(int64(10)), true},
		{"negate", Field("age").Value().Negate().Lt(int64(0)), true},
		{"mixed int float", Field("age").Value().Add(0.5).Eq(30.5), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Evaluate(c.expr, doc); got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestEvaluateDateTimeFunctions(t *testing.T) {
	doc := evalDoc()
	if !Evaluate(Field("joined").Value().Year().Eq(int64(2023)), doc) {
		t.Fatalf("Year() should be 2023")
	}
	if !Evaluate(Field("joined").Value().Month().Eq(int64(6)), doc) {
		t.Fatalf("Month() should be 6")
	}
	if !Evaluate(Field("joined").Value().AddDays(1).Gt(time.Date(2023, 6, 16, 0, 0, 0, 0, time.UTC)), doc) {
		t.Fatalf("AddDays(1) should pass June 16 midnight")
	}
}

func TestEvaluateSequenceFunctions(t *testing.T) {
	doc := evalDoc()
	if !Evaluate(Field("tags").Value().Call("Contains", "b").Eq(true), doc) {
		t.Fatalf("tags should contain b")
	}
	if !Evaluate(Field("tags").Value().ArrayLength().Eq(int64(3)), doc) {
		t.Fatalf("tags length should be 3")
	}
}

func TestEvaluateConvert(t *testing.T) {
	doc := evalDoc()
	if !Evaluate(Field("age").Value().Convert(ConvertString).Eq("30"), doc) {
		t.Fatalf("convert int to string failed")
	}
	// Failing conversion makes the enclosing comparison false, never an
	// aborted query.
	if Evaluate(Field("name").Value().Convert(ConvertInt64).Eq(int64(0)), doc) {
		t.Fatalf("failed conversion must evaluate to no-match")
	}
}

func TestEvaluateUnknownFunctionIsError(t *testing.T) {
	doc := evalDoc()
	_, err := EvaluateValue(Call{Name: "Bogus", Target: Member{Path: "name"}}, doc)
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
	// As a predicate it degrades to no-match.
	if Evaluate(Cmp{Op: OpEq, Left: Call{Name: "Bogus", Target: Member{Path: "name"}}, Right: Constant{Value: "x"}}, doc) {
		t.Fatalf("unknown function inside a comparison must not match")
	}
}

func TestEvaluateStaticFunctions(t *testing.T) {
	doc := evalDoc()
	if !Evaluate(CompareValues(Static("Abs", Field("age").Value().Negate()), OpEq, Const(int64(30))), doc) {
		t.Fatalf("Abs(-age) should be 30")
	}
	if !Evaluate(CompareValues(Static("Max", Field("score").Value(), Const(3.0)), OpEq, Const(3.0)), doc) {
		t.Fatalf("Max(score, 3.0) should be 3.0")
	}
}

func TestBuilderFoldsConstantSubtrees(t *testing.T) {
	// A subtree with no Member reference is folded to a Constant at
	// build time.
	vb := Const(int64(2)).Add(int64(3)).Mul(int64(4))
	c, ok := vb.Expr().(Constant)
	if !ok {
		t.Fatalf("expected constant-folded node, got %T", vb.Expr())
	}
	if c.Value != int64(20) {
		t.Fatalf("expected 20, got %v", c.Value)
	}
}

func TestBuilderNormalizesMemberConstantToFieldCmp(t *testing.T) {
	e := Field("age").Value().Eq(int64(30))
	fc, ok := e.(FieldCmp)
	if !ok {
		t.Fatalf("expected FieldCmp, got %T", e)
	}
	if fc.Field != "age" || fc.Op != OpEq || fc.Value != int64(30) {
		t.Fatalf("unexpected normalization: %+v", fc)
	}

	// A computed left side stays a general Cmp and is therefore never
	// index-matched or pushed down.
	e = Field("age").Value().Add(int64(1)).Eq(int64(31))
	if _, ok := e.(Cmp); !ok {
		t.Fatalf("expected Cmp for computed comparison, got %T", e)
	}
	leaves, fully := rootFieldPredicates(e)
	if len(leaves) != 0 || fully {
		t.Fatalf("computed comparison must not be treated as pushable")
	}
}

func TestCompareValuesFlipsConstantOnLeft(t *testing.T) {
	e := CompareValues(Const(int64(10)), OpLt, Field("age").Value())
	fc, ok := e.(FieldCmp)
	if !ok {
		t.Fatalf("expected FieldCmp, got %T", e)
	}
	if fc.Field != "age" || fc.Op != OpGt {
		t.Fatalf("expected age > 10, got %+v", fc)
	}
	if !Evaluate(e, evalDoc()) {
		t.Fatalf("10 < age(30) should hold")
	}
}

func TestEvaluateConditionalValue(t *testing.T) {
	doc := evalDoc()
	v, err := EvaluateValue(Cond{
		Test:    Field("age").Gte(int64(18)),
		IfTrue:  Constant{Value: "adult"},
		IfFalse: Constant{Value: "minor"},
	}, doc)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v != "adult" {
		t.Fatalf("expected adult, got %v", v)
	}
}
