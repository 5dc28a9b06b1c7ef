package mapper

import (
	"testing"

	"github.com/tinydb-go/tinydb/bson"
)

type address struct {
	City string `bson:"city"`
	Zip  string `bson:"zip"`
}

type person struct {
	ID      string   `bson:"_id"`
	Name    string
	Age     int64    `bson:"age"`
	Score   float64  `bson:"score"`
	Active  bool     `bson:"active"`
	Home    address  `bson:"home"`
	Tags    []string `bson:"tags"`
	Ignored string   `bson:"-"`
}

func TestStructMapperRoundTrip(t *testing.T) {
	m := NewStructMapper[person]()
	in := person{
		ID:      "p1",
		Name:    "ann",
		Age:     30,
		Score:   9.5,
		Active:  true,
		Home:    address{City: "nyc", Zip: "10001"},
		Tags:    []string{"a", "b"},
		Ignored: "should not round-trip",
	}

	doc, err := m.ToDocument(in)
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	if _, ok := doc.Get("ignored"); ok {
		t.Fatalf("expected bson:\"-\" field to be skipped")
	}
	if _, ok := doc.Get("Ignored"); ok {
		t.Fatalf("expected bson:\"-\" field to be skipped under any name")
	}
	name, _ := doc.Get("name")
	if name != bson.Value("ann") {
		t.Fatalf("expected untagged field to fall back to lower-cased name, got %v", name)
	}

	out, err := m.FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if out.ID != in.ID || out.Name != in.Name || out.Age != in.Age ||
		out.Score != in.Score || out.Active != in.Active || out.Home != in.Home {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if len(out.Tags) != len(in.Tags) {
		t.Fatalf("expected %d tags round-tripped, got %d", len(in.Tags), len(out.Tags))
	}
	for i := range in.Tags {
		if out.Tags[i] != in.Tags[i] {
			t.Fatalf("tag %d mismatch: got %q, want %q", i, out.Tags[i], in.Tags[i])
		}
	}
	if out.Ignored != "" {
		t.Fatalf("expected bson:\"-\" field to stay zero after FromDocument, got %q", out.Ignored)
	}
}

func TestStructMapperNestedStructAndSlice(t *testing.T) {
	m := NewStructMapper[person]()
	in := person{ID: "p2", Home: address{City: "sf", Zip: "94110"}, Tags: []string{"x", "y", "z"}}
	doc, err := m.ToDocument(in)
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	homeVal, ok := doc.Get("home")
	if !ok {
		t.Fatalf("expected nested home field")
	}
	homeDoc, ok := homeVal.(*bson.Document)
	if !ok {
		t.Fatalf("expected home to encode as a document, got %T", homeVal)
	}
	city, _ := homeDoc.Get("city")
	if city != bson.Value("sf") {
		t.Fatalf("expected nested city 'sf', got %v", city)
	}

	out, err := m.FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if out.Home != in.Home {
		t.Fatalf("expected nested struct round trip, got %+v", out.Home)
	}
	if len(out.Tags) != 3 || out.Tags[1] != "y" {
		t.Fatalf("expected slice round trip, got %v", out.Tags)
	}
}

func TestStructMapperFromDocumentLeavesMissingFieldsZero(t *testing.T) {
	m := NewStructMapper[person]()
	doc := bson.NewDocument()
	doc.Set("_id", "p3")

	out, err := m.FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if out.ID != "p3" {
		t.Fatalf("expected _id to be set, got %q", out.ID)
	}
	if out.Name != "" || out.Age != 0 || out.Tags != nil {
		t.Fatalf("expected unset fields to keep their zero value, got %+v", out)
	}
}

func TestStructMapperPanicsOnNonStruct(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected NewStructMapper[int] to panic")
		}
	}()
	NewStructMapper[int]()
}

func TestStructMapperIDOf(t *testing.T) {
	m := NewStructMapper[person]()
	if _, ok := m.IDOf(person{}); ok {
		t.Fatalf("expected zero-valued _id field to report ok=false")
	}
	in := person{ID: "p1"}
	id, ok := m.IDOf(in)
	if !ok {
		t.Fatalf("expected non-zero _id to report ok=true")
	}
	if id != bson.Value("p1") {
		t.Fatalf("expected IDOf to report %q, got %v", in.ID, id)
	}
}

func TestStructMapperSetID(t *testing.T) {
	m := NewStructMapper[person]()
	var p person
	m.SetID(&p, bson.Value("generated"))
	if p.ID != "generated" {
		t.Fatalf("expected SetID to write the _id field, got %q", p.ID)
	}
}

type noIDEntity struct {
	Name string `bson:"name"`
}

func TestStructMapperIDOfAndSetIDWithoutIDField(t *testing.T) {
	m := NewStructMapper[noIDEntity]()
	if _, ok := m.IDOf(noIDEntity{Name: "x"}); ok {
		t.Fatalf("expected IDOf to report ok=false when T has no _id field")
	}
	v := noIDEntity{Name: "x"}
	m.SetID(&v, bson.Value("ignored"))
	if v.Name != "x" {
		t.Fatalf("expected SetID to be a no-op when T has no _id field, got %+v", v)
	}
}
