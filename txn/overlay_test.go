package txn

import (
	"testing"

	"github.com/tinydb-go/tinydb/bson"
)

func docWithID(id bson.Value, fields map[string]bson.Value) *bson.Document {
	d := bson.NewDocument()
	d.Set("_id", id)
	for k, v := range fields {
		d.Set(k, v)
	}
	return d
}

func TestOverlayRecordWriteThenLookup(t *testing.T) {
	ov := NewOverlay()
	doc := docWithID("a", map[string]bson.Value{"n": int64(1)})
	ov.RecordWrite(doc)

	got, deleted, touched := ov.Lookup("a")
	if !touched || deleted {
		t.Fatalf("expected touched, not deleted; got touched=%v deleted=%v", touched, deleted)
	}
	if got != doc {
		t.Fatalf("expected Lookup to return the buffered document")
	}

	if _, _, touched := ov.Lookup("missing"); touched {
		t.Fatalf("expected untouched id to report touched=false")
	}
}

func TestOverlayRecordDeleteMasksEarlierWrite(t *testing.T) {
	ov := NewOverlay()
	ov.RecordWrite(docWithID("a", nil))
	ov.RecordDelete("a")

	doc, deleted, touched := ov.Lookup("a")
	if !touched || !deleted || doc != nil {
		t.Fatalf("expected deleted=true touched=true doc=nil, got doc=%v deleted=%v touched=%v", doc, deleted, touched)
	}
}

func TestOverlayInsertedSkipsDeletedEntries(t *testing.T) {
	ov := NewOverlay()
	ov.RecordWrite(docWithID("a", nil))
	ov.RecordWrite(docWithID("b", nil))
	ov.RecordDelete("b")

	var ids []bson.Value
	for doc := range ov.Inserted() {
		id, _ := doc.ID()
		ids = append(ids, id)
	}
	if len(ids) != 1 || ids[0] != bson.Value("a") {
		t.Fatalf("expected only 'a' to be surfaced as inserted, got %v", ids)
	}
}

func TestOverlayEmptyAndWriteOrder(t *testing.T) {
	ov := NewOverlay()
	if !ov.Empty() {
		t.Fatalf("expected fresh overlay to be empty")
	}
	ov.RecordWrite(docWithID("b", nil))
	ov.RecordWrite(docWithID("a", nil))
	ov.RecordWrite(docWithID("b", nil)) // re-touch b, shouldn't duplicate order entry
	if ov.Empty() {
		t.Fatalf("expected overlay with writes to be non-empty")
	}

	writes := ov.Writes()
	if len(writes) != 2 {
		t.Fatalf("expected 2 distinct touched ids, got %d", len(writes))
	}
	if writes[0].ID != bson.Value("b") || writes[1].ID != bson.Value("a") {
		t.Fatalf("expected log order [b, a], got %v", writes)
	}
}
