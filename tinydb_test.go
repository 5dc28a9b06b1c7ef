package tinydb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/query"
	"github.com/tinydb-go/tinydb/storage"
)

type user struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
	Age  int64  `bson:"age"`
}

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tdb")
	e, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// Insert backfills a generated _id onto the caller's own entity, not
// just the bson.Document built for storage — the mapper's SetID hook
// closes the by-value gap a bare Insert(v T) signature would leave.
func TestInsertBackfillsGeneratedID(t *testing.T) {
	type widget struct {
		ID   bson.ObjectID `bson:"_id"`
		Name string        `bson:"name"`
	}
	e := openTestEngine(t)
	coll, err := GetStructCollection[widget](e, "widgets")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}

	w := &widget{Name: "gadget"}
	id, err := coll.Insert(w)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if w.ID == (bson.ObjectID{}) {
		t.Fatalf("expected Insert to backfill a generated _id onto the caller's entity")
	}
	if w.ID != id {
		t.Fatalf("expected entity's _id %v to match the returned id %v", w.ID, id)
	}

	got, err := coll.FindByID(id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.ID != w.ID || got.Name != w.Name {
		t.Fatalf("expected stored document to match the backfilled entity, got %+v", got)
	}
}

// A bare _id equality plans and executes as a primary-key lookup.
func TestPrimaryKeyLookup(t *testing.T) {
	e := openTestEngine(t)
	users, err := GetStructCollection[user](e, "users")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	if _, err := users.Insert(&user{ID: "u1", Name: "Ana", Age: 30}); err != nil {
		t.Fatalf("insert u1: %v", err)
	}
	if _, err := users.Insert(&user{ID: "u2", Name: "Bob", Age: 41}); err != nil {
		t.Fatalf("insert u2: %v", err)
	}

	pred := query.Field("_id").Eq("u2")
	plan := users.Explain(pred)
	if plan.Strategy != query.StrategyPrimaryKeyLookup {
		t.Fatalf("expected PrimaryKeyLookup, got %s", plan.Strategy)
	}

	var got []user
	for u := range users.Find(pred) {
		got = append(got, u)
	}
	if len(got) != 1 || got[0].Name != "Bob" || got[0].Age != 41 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

// A composite-index range predicate plans as an index scan, with the
// residual filter dropping rows past the range's true end.
func TestIndexRangeScanWithResidual(t *testing.T) {
	e := openTestEngine(t)
	type doc struct {
		ID int64 `bson:"_id"`
		A  int64 `bson:"a"`
		B  int64 `bson:"b"`
	}
	docs, err := GetStructCollection[doc](e, "docs")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	if err := docs.EnsureIndex("ab", []string{"a", "b"}, false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	for i := int64(0); i < 100; i++ {
		if _, err := docs.Insert(&doc{ID: i, A: i % 10, B: i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	pred := query.All(
		query.Field("a").Eq(int64(3)),
		query.Field("b").Gte(int64(30)),
		query.Field("b").Lt(int64(60)),
	)
	plan := docs.Explain(pred)
	if plan.Strategy != query.StrategyIndexScan {
		t.Fatalf("expected IndexScan, got %s", plan.Strategy)
	}

	var ids []int64
	for d := range docs.Find(pred) {
		ids = append(ids, d.ID)
	}
	want := []int64{33, 43, 53}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("missing expected id %d in %v", w, ids)
		}
	}
}

// A non-indexed equality runs as a full scan with the comparison
// pushed down to the raw document bytes.
func TestFullScanPushdown(t *testing.T) {
	e := openTestEngine(t)
	type tagged struct {
		ID  int64  `bson:"_id"`
		Tag string `bson:"tag"`
	}
	coll, err := GetStructCollection[tagged](e, "tagged")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	for i := int64(0); i < 1000; i++ {
		if _, err := coll.Insert(&tagged{ID: i, Tag: fmt.Sprintf("t%d", i%5)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	pred := query.Field("tag").Eq("t2")
	plan := coll.Explain(pred)
	if plan.Strategy != query.StrategyFullScan {
		t.Fatalf("expected FullTableScan, got %s", plan.Strategy)
	}
	if !plan.FullyPushed {
		t.Fatalf("expected tag==const to be fully pushed down")
	}

	n := coll.Count(pred)
	if n != 200 {
		t.Fatalf("expected 200 matches, got %d", n)
	}
}

// A document too big for one page round-trips through the chained
// large-document store intact.
func TestLargeDocumentRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	type blob struct {
		ID      string `bson:"_id"`
		Payload bson.Binary
	}
	coll, err := GetStructCollection[blob](e, "blobs")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := coll.Insert(&blob{ID: "big", Payload: bson.Binary{Subtype: 0, Data: payload}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := coll.FindByID("big")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.Payload.Data) != len(payload) {
		t.Fatalf("length mismatch: got %d want %d", len(got.Payload.Data), len(payload))
	}
	for i := range payload {
		if got.Payload.Data[i] != payload[i] {
			t.Fatalf("byte mismatch at %d", i)
		}
	}
}

// Reads inside a transaction see its own buffered writes; rollback
// restores the pre-transaction state.
func TestTransactionOverlayVisibility(t *testing.T) {
	e := openTestEngine(t)
	type v struct {
		ID  int64 `bson:"_id"`
		Val int64 `bson:"v"`
	}
	coll, err := GetStructCollection[v](e, "vs")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	if _, err := coll.Insert(&v{ID: 1, Val: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tx, err := e.BeginTransaction(storage.WriteConcernNone)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := coll.Update(v{ID: 1, Val: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	found, err := coll.FindByID(int64(1))
	if err != nil {
		t.Fatalf("FindByID in-txn: %v", err)
	}
	if found.Val != 2 {
		t.Fatalf("expected in-txn value 2, got %d", found.Val)
	}

	var viaFind []v
	for d := range coll.Find(query.Field("_id").Eq(int64(1))) {
		viaFind = append(viaFind, d)
	}
	if len(viaFind) != 1 || viaFind[0].Val != 2 {
		t.Fatalf("expected Find to see overlay value 2, got %+v", viaFind)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	after, err := coll.FindByID(int64(1))
	if err != nil {
		t.Fatalf("FindByID post-rollback: %v", err)
	}
	if after.Val != 1 {
		t.Fatalf("expected post-rollback value 1, got %d", after.Val)
	}
}

// A committed transaction's writes must survive a reopen of the engine.
func TestTransactionCommitDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commit.tdb")
	e, err := Open(path, Options{WriteConcernDefault: storage.WriteConcernSynced})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	type v struct {
		ID  int64 `bson:"_id"`
		Val int64 `bson:"v"`
	}
	coll, err := GetStructCollection[v](e, "vs")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}

	tx, err := e.BeginTransaction(storage.WriteConcernSynced)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	for i := int64(0); i < 10; i++ {
		if _, err := coll.Insert(&v{ID: i, Val: i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()
	coll2, err := GetStructCollection[v](e2, "vs")
	if err != nil {
		t.Fatalf("GetStructCollection reopen: %v", err)
	}
	n := coll2.Count(nil)
	if n != 10 {
		t.Fatalf("expected 10 docs after reopen, got %d", n)
	}
}

// Nested transactions are rejected.
func TestNestedTransactionRejected(t *testing.T) {
	e := openTestEngine(t)
	tx, err := e.BeginTransaction(storage.WriteConcernNone)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := e.BeginTransaction(storage.WriteConcernNone); err == nil {
		t.Fatalf("expected nested BeginTransaction to fail")
	}
}

// A unique index rejects a duplicate key and leaves the collection
// unaffected.
func TestUniqueIndexConflict(t *testing.T) {
	e := openTestEngine(t)
	type named struct {
		ID   int64  `bson:"_id"`
		Name string `bson:"name"`
	}
	coll, err := GetStructCollection[named](e, "named")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	if err := coll.EnsureIndex("by_name", []string{"name"}, true); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if _, err := coll.Insert(&named{ID: 1, Name: "ana"}); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := coll.Insert(&named{ID: 2, Name: "ana"}); err == nil {
		t.Fatalf("expected duplicate-key conflict on second insert")
	}
	if n := coll.Count(nil); n != 1 {
		t.Fatalf("expected collection unchanged at 1 document, got %d", n)
	}
}

// Closed engines refuse further operations.
func TestOperationsAfterCloseFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.tdb")
	e, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := GetStructCollection[user](e, "users"); err == nil {
		t.Fatalf("expected ErrDisposed after Close")
	}
}

// Engine.CompactCollection drops tombstoned rows while leaving live
// documents findable by id and by predicate.
func TestCompactCollection(t *testing.T) {
	e := openTestEngine(t)
	type named struct {
		ID   int64  `bson:"_id"`
		Name string `bson:"name"`
	}
	coll, err := GetStructCollection[named](e, "named")
	if err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	for i := int64(0); i < 10; i++ {
		if _, err := coll.Insert(&named{ID: i, Name: fmt.Sprintf("n%d", i)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := int64(0); i < 10; i += 2 {
		if err := coll.Delete(i); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}

	if err := e.CompactCollection("named"); err != nil {
		t.Fatalf("CompactCollection: %v", err)
	}

	if n := coll.Count(nil); n != 5 {
		t.Fatalf("expected 5 live documents after compaction, got %d", n)
	}
	for i := int64(1); i < 10; i += 2 {
		if _, err := coll.FindByID(i); err != nil {
			t.Fatalf("FindByID %d after compaction: %v", i, err)
		}
	}
	for i := int64(0); i < 10; i += 2 {
		if _, err := coll.FindByID(i); err == nil {
			t.Fatalf("expected deleted id %d to stay gone after compaction", i)
		}
	}
}

// CompactCollection refuses to run while a transaction is active, since
// compaction rewrites storage directly and bypasses the overlay.
func TestCompactCollectionRejectsDuringTransaction(t *testing.T) {
	e := openTestEngine(t)
	if _, err := GetStructCollection[user](e, "users"); err != nil {
		t.Fatalf("GetStructCollection: %v", err)
	}
	tx, err := e.BeginTransaction(storage.WriteConcernNone)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	defer tx.Rollback()

	if err := e.CompactCollection("users"); err == nil {
		t.Fatalf("expected CompactCollection to fail while a transaction is active")
	}
}

// A password-protected database refuses to open without the password,
// and opens with the right one.
func TestPasswordProtection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.tdb")
	e, err := Open(path, Options{Password: "hunter2"})
	if err != nil {
		t.Fatalf("Open with password: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(path, Options{}); err == nil {
		t.Fatalf("expected Open without password to fail")
	}
	if _, err := Open(path, Options{Password: "wrong"}); err == nil {
		t.Fatalf("expected Open with wrong password to fail")
	}

	e2, err := Open(path, Options{Password: "hunter2"})
	if err != nil {
		t.Fatalf("Open with correct password: %v", err)
	}
	e2.Close()
}
