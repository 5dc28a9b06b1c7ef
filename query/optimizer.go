package query

import (
	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/index"
)

// Strategy names one of the four execution strategies an ExecutionPlan
// can choose.
type Strategy int

const (
	StrategyFullScan Strategy = iota
	StrategyIndexScan
	StrategyIndexSeek
	StrategyPrimaryKeyLookup
)

func (s Strategy) String() string {
	switch s {
	case StrategyFullScan:
		return "FullTableScan"
	case StrategyIndexScan:
		return "IndexScan"
	case StrategyIndexSeek:
		return "IndexSeek"
	case StrategyPrimaryKeyLookup:
		return "PrimaryKeyLookup"
	default:
		return "?"
	}
}

// ScanKey is one component of a composite index lookup, in
// index-field order.
type ScanKey struct {
	Op    Op
	Value bson.Value
}

// ExecutionPlan is the optimizer's output.
type ExecutionPlan struct {
	Collection  string
	Predicate   Expr // the original, unmodified predicate — always re-applied as the residual filter
	Strategy    Strategy
	IndexName   string
	ScanKeys    []ScanKey
	Pushdown    []FieldCmp
	FullyPushed bool
}

// Plan chooses an ExecutionPlan for predicate against the given
// collection indexes: PK lookup when
// an `_id == const` conjunct exists anywhere at the root, else the
// highest-scoring prefix-matched index, else a full scan with whatever
// root-level field predicates can be pushed to the byte-level scan.
func Plan(collection string, predicate Expr, indexes []index.Definition) *ExecutionPlan {
	plan := &ExecutionPlan{Collection: collection, Predicate: predicate, Strategy: StrategyFullScan}

	if predicate == nil {
		return plan
	}

	leaves, fullyPushed := rootFieldPredicates(predicate)

	for _, l := range leaves {
		if l.Field == "_id" && l.Op == OpEq {
			plan.Strategy = StrategyPrimaryKeyLookup
			plan.ScanKeys = []ScanKey{{Op: OpEq, Value: l.Value}}
			return plan
		}
	}

	leavesByField := make(map[string]FieldCmp, len(leaves))
	for _, l := range leaves {
		if _, exists := leavesByField[l.Field]; !exists {
			leavesByField[l.Field] = l
		}
	}

	bestScore := 0
	var bestIdx *index.Definition
	var bestMatched int
	for i := range indexes {
		def := indexes[i]
		matched := 0
		for _, f := range def.Fields {
			if _, ok := leavesByField[f]; !ok {
				break
			}
			matched++
		}
		if matched == 0 {
			continue
		}
		score := 10*matched + 2*matched
		if def.Unique {
			score += 5
		}
		// Tie-break by smaller entry_count: a lower
		// cardinality index is cheaper to seek/scan even at equal score.
		if score > bestScore || (score == bestScore && bestIdx != nil && def.EntryCount < bestIdx.EntryCount) {
			bestScore = score
			bestIdx = &indexes[i]
			bestMatched = matched
		}
	}

	if bestIdx == nil {
		plan.Pushdown = leaves
		plan.FullyPushed = fullyPushed && len(leaves) > 0
		return plan
	}

	scanKeys := make([]ScanKey, bestMatched)
	allEq := true
	for i := 0; i < bestMatched; i++ {
		leaf := leavesByField[bestIdx.Fields[i]]
		scanKeys[i] = ScanKey{Op: leaf.Op, Value: leaf.Value}
		if leaf.Op != OpEq {
			allEq = false
		}
	}

	plan.IndexName = bestIdx.Name
	plan.ScanKeys = scanKeys
	if bestIdx.Unique && bestMatched == len(bestIdx.Fields) && allEq {
		plan.Strategy = StrategyIndexSeek
	} else {
		plan.Strategy = StrategyIndexScan
	}
	return plan
}
