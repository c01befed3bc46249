package matching_test

import (
	"errors"
	"testing"

	"boqmatch/internal/boq"
	"boqmatch/internal/matching"
	"boqmatch/internal/scoring"
	"boqmatch/internal/services"
)

func newSelector() *matching.Selector {
	return matching.NewSelector(scoring.NewEngine(scoring.DefaultWeights()), matching.Options{})
}

func groundworksCatalog() *boq.Catalog {
	return &boq.Catalog{
		Version: "v1",
		Entries: []boq.CatalogEntry{
			{ID: "c-01", Code: "G1.1", Description: "Excavation in ordinary soil not exceeding 1.5m deep", Category: "Groundworks", Subcategory: "Excavation", Unit: "M3", Rate: 12.5},
			{ID: "c-02", Code: "G1.2", Description: "Excavation in hard rock", Category: "Groundworks", Subcategory: "Excavation", Unit: "M3", Rate: 48},
			{ID: "c-03", Code: "C2.1", Description: "Plain cement concrete 1:4:8", Category: "Concrete", Unit: "M3", Rate: 95},
			{ID: "c-04", Code: "F3.1", Description: "Emulsion paint to walls", Category: "Finishes", Subcategory: "Painting", Unit: "M2", Rate: 4.2},
		},
	}
}

func TestSelectBestExampleScenario(t *testing.T) {
	s := newSelector()
	catalog := groundworksCatalog()
	with, err := s.SelectBest(boq.LineItem{
		RowNumber:      7,
		Description:    "Excavation in ordinary soil CUM",
		ContextHeaders: []string{"Groundwork", "Excavating"},
	}, catalog)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if with.Entry == nil || with.Entry.ID != "c-01" {
		t.Fatalf("expected c-01, got %+v", with.Entry)
	}
	if with.Breakdown.UnitBonus <= 0 || with.Breakdown.ContextBonus <= 0 {
		t.Fatalf("expected unit and context bonuses, got %+v", with.Breakdown)
	}

	without, err := s.SelectBest(boq.LineItem{RowNumber: 7, Description: "Excavation in ordinary soil CUM"}, catalog)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if with.Confidence <= without.Confidence {
		t.Fatalf("context headers should raise confidence: %.3f <= %.3f", with.Confidence, without.Confidence)
	}
	if with.RowNumber != 7 || with.Method != boq.MethodLocal {
		t.Fatalf("unexpected result metadata: %+v", with)
	}
}

func TestSelectBestTieGoesToFirstEntry(t *testing.T) {
	s := newSelector()
	catalog := &boq.Catalog{Entries: []boq.CatalogEntry{
		{ID: "first", Description: "Brick wall"},
		{ID: "second", Description: "Brick wall"},
	}}
	for i := 0; i < 3; i++ {
		got, err := s.SelectBest(boq.LineItem{Description: "brick wall"}, catalog)
		if err != nil {
			t.Fatalf("SelectBest failed: %v", err)
		}
		if got.Entry == nil || got.Entry.ID != "first" {
			t.Fatalf("expected first-seen entry, got %+v", got.Entry)
		}
	}
}

func TestSelectBestIsDeterministic(t *testing.T) {
	s := newSelector()
	item := boq.LineItem{Description: "PCC 1:4:8 in foundations", Unit: "cum", ContextHeaders: []string{"Concrete"}}
	first, err := s.SelectBest(item, groundworksCatalog())
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.SelectBest(item, groundworksCatalog())
		if err != nil {
			t.Fatalf("SelectBest failed: %v", err)
		}
		if again.Confidence != first.Confidence || again.Breakdown != first.Breakdown || again.Entry.ID != first.Entry.ID {
			t.Fatalf("result changed between runs: %+v vs %+v", again, first)
		}
	}
}

func TestSelectBestNoMatch(t *testing.T) {
	s := newSelector()
	got, err := s.SelectBest(boq.LineItem{Description: "Structural steel trusses", Unit: "m3"}, groundworksCatalog())
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if got.Matched() || got.Confidence != 0 {
		t.Fatalf("expected no match, got %+v", got)
	}
	if got.Breakdown.Tier != boq.TierNone {
		t.Fatalf("tier = %s", got.Breakdown.Tier)
	}
}

func TestSelectBestErrors(t *testing.T) {
	s := newSelector()
	_, err := s.SelectBest(boq.LineItem{Description: "Brick wall"}, &boq.Catalog{})
	if !errors.Is(err, services.ErrEmptyCatalog) {
		t.Fatalf("expected empty catalog error, got %v", err)
	}
	_, err = s.SelectBest(boq.LineItem{Description: "  ab "}, groundworksCatalog())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = s.SelectBest(boq.LineItem{Description: ""}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error before catalog check, got %v", err)
	}
}

func TestTopMatchesOrderedAndDistinct(t *testing.T) {
	s := newSelector()
	catalog := groundworksCatalog()
	catalog.Entries = append(catalog.Entries, catalog.Entries[0])
	top, err := s.TopMatches(boq.LineItem{Description: "Excavation", Unit: "m3"}, catalog, 3)
	if err != nil {
		t.Fatalf("TopMatches failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected the two excavation entries, got %d", len(top))
	}
	if top[0].Entry.ID != "c-01" || top[1].Entry.ID != "c-02" {
		t.Fatalf("unexpected order: %s, %s", top[0].Entry.ID, top[1].Entry.ID)
	}
	for i := 1; i < len(top); i++ {
		if top[i].Breakdown.FinalScore > top[i-1].Breakdown.FinalScore {
			t.Fatalf("results not descending at %d", i)
		}
	}
}

func TestIsConfident(t *testing.T) {
	s := matching.NewSelector(nil, matching.Options{ConfidenceThreshold: 0.8})
	entry := boq.CatalogEntry{ID: "x"}
	cases := []struct {
		result boq.MatchResult
		want   bool
	}{
		{boq.MatchResult{Entry: &entry, Confidence: 0.85}, true},
		{boq.MatchResult{Entry: &entry, Confidence: 0.8}, true},
		{boq.MatchResult{Entry: &entry, Confidence: 0.79}, false},
		{boq.MatchResult{Confidence: 0.95}, false},
	}
	for _, tc := range cases {
		if got := s.IsConfident(tc.result); got != tc.want {
			t.Fatalf("IsConfident(%v) = %v, want %v", tc.result.Confidence, got, tc.want)
		}
	}
}
