package boq_test

import (
	"testing"

	"boqmatch/internal/boq"
)

func TestParseMethod(t *testing.T) {
	for _, value := range []string{"local", " OpenAI ", "cohere"} {
		if _, err := boq.ParseMethod(value); err != nil {
			t.Fatalf("ParseMethod(%q) failed: %v", value, err)
		}
	}
	if _, err := boq.ParseMethod("bm25"); err == nil {
		t.Fatal("expected unknown method to be rejected")
	}
	if _, err := boq.ParseMethod(""); err == nil {
		t.Fatal("expected blank method to be rejected")
	}
	if boq.MethodLocal.IsEmbedding() || !boq.MethodCohere.IsEmbedding() {
		t.Fatal("unexpected IsEmbedding classification")
	}
}

func TestCatalogFind(t *testing.T) {
	catalog := &boq.Catalog{Entries: []boq.CatalogEntry{{ID: "a"}, {ID: "b", Description: "second"}}}
	entry, ok := catalog.Find("b")
	if !ok || entry.Description != "second" {
		t.Fatalf("Find(b) = %+v, %v", entry, ok)
	}
	if _, ok := catalog.Find("missing"); ok {
		t.Fatal("expected missing entry")
	}
	var nilCatalog *boq.Catalog
	if nilCatalog.Len() != 0 {
		t.Fatal("nil catalog should be empty")
	}
}

func TestFailedResultHasNoEntry(t *testing.T) {
	res := boq.Failed("job", boq.LineItem{RowNumber: 4, Description: "x"}, boq.MethodLocal, "empty catalog")
	if res.Matched() || res.Confidence != 0 || res.ErrorNote != "empty catalog" || res.RowNumber != 4 {
		t.Fatalf("unexpected failed result: %+v", res)
	}
}
