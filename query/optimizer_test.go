package query

import (
	"testing"

	"github.com/tinydb-go/tinydb/index"
)

func TestPlanNilPredicateIsFullScan(t *testing.T) {
	plan := Plan("c", nil, nil)
	if plan.Strategy != StrategyFullScan {
		t.Fatalf("expected FullTableScan, got %s", plan.Strategy)
	}
}

func TestPlanIDEqualityIsPrimaryKeyLookup(t *testing.T) {
	plan := Plan("c", Field("_id").Eq("u2"), nil)
	if plan.Strategy != StrategyPrimaryKeyLookup {
		t.Fatalf("expected PrimaryKeyLookup, got %s", plan.Strategy)
	}
	if len(plan.ScanKeys) != 1 || plan.ScanKeys[0].Value != "u2" {
		t.Fatalf("unexpected scan keys: %v", plan.ScanKeys)
	}
}

func TestPlanPrefersUniqueSingleFieldIndexSeek(t *testing.T) {
	defs := []index.Definition{
		{Name: "by_email", Fields: []string{"email"}, Unique: true},
	}
	plan := Plan("c", Field("email").Eq("a@example.com"), defs)
	if plan.Strategy != StrategyIndexSeek {
		t.Fatalf("expected IndexSeek, got %s", plan.Strategy)
	}
	if plan.IndexName != "by_email" {
		t.Fatalf("expected by_email index, got %q", plan.IndexName)
	}
}

func TestPlanRangeOpProducesIndexScanNotSeek(t *testing.T) {
	defs := []index.Definition{
		{Name: "by_age", Fields: []string{"age"}, Unique: false},
	}
	plan := Plan("c", Field("age").Gte(int64(18)), defs)
	if plan.Strategy != StrategyIndexScan {
		t.Fatalf("expected IndexScan, got %s", plan.Strategy)
	}
}

func TestPlanCompositeIndexRequiresPrefixMatch(t *testing.T) {
	defs := []index.Definition{
		{Name: "by_a_b", Fields: []string{"a", "b"}, Unique: false},
	}
	// Only "b" is constrained; the index's first field "a" isn't, so the
	// prefix rule must reject it and fall back to a full scan.
	plan := Plan("c", Field("b").Eq(int64(1)), defs)
	if plan.Strategy != StrategyFullScan {
		t.Fatalf("expected FullTableScan when the index prefix isn't matched, got %s", plan.Strategy)
	}
}

func TestPlanNoMatchingIndexFallsBackToPushdown(t *testing.T) {
	plan := Plan("c", Field("tag").Eq("x"), nil)
	if plan.Strategy != StrategyFullScan {
		t.Fatalf("expected FullTableScan, got %s", plan.Strategy)
	}
	if !plan.FullyPushed || len(plan.Pushdown) != 1 {
		t.Fatalf("expected a single fully-pushed predicate, got %+v", plan)
	}
}

func TestPlanOrPreventsFullPushdown(t *testing.T) {
	plan := Plan("c", Any(Field("a").Eq(int64(1)), Field("b").Eq(int64(2))), nil)
	if plan.FullyPushed {
		t.Fatalf("expected Or predicate to prevent full pushdown")
	}
}
