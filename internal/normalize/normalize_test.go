package normalize_test

import (
	"testing"

	"boqmatch/internal/normalize"
)

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  Excavation   in\tsoil ", "excavation in soil"},
		{"expands abbreviations", "RCC slab 150 thk", "reinforced cement concrete slab 150 thick"},
		{"repairs split words", "rein- forced concrete", "reinforced concrete"},
		{"repairs dimensions", "opening 300 x 300 in 20 mm board", "opening 300x300 in 20mm board"},
		{"decimal comma", "depth 1,5 m", "depth 1.5m"},
		{"thousands separator", "1,000 litre tank", "1000 litre tank"},
		{"folds unicode", "Béton m³", "beton m3"},
		{"complete with", "door c/w ironmongery", "door complete with ironmongery"},
		{"strips punctuation", "Excavation; (ordinary) soil.", "excavation ordinary soil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize.Preprocess(tt.in); got != tt.want {
				t.Fatalf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPreprocessIsDeterministic(t *testing.T) {
	in := "Conc. Grade C25 fdn incl. formwork"
	first := normalize.Preprocess(in)
	for i := 0; i < 5; i++ {
		if got := normalize.Preprocess(in); got != first {
			t.Fatalf("Preprocess not deterministic: %q vs %q", got, first)
		}
	}
}

func TestUnitCompatibilityWithinFamily(t *testing.T) {
	volume := []string{"M3", "CUM", "cubic meter", "m³", "cu.m"}
	units := make([]normalize.Unit, 0, len(volume))
	for _, form := range volume {
		u, ok := normalize.ParseUnit(form)
		if !ok {
			t.Fatalf("ParseUnit(%q) not recognised", form)
		}
		units = append(units, u)
	}
	for i := range units {
		for j := range units {
			if !normalize.Compatible(units[i], units[j]) {
				t.Fatalf("%q and %q should be compatible", volume[i], volume[j])
			}
		}
	}
}

func TestKilogramsAndTonsAreIncompatible(t *testing.T) {
	kg, ok := normalize.ParseUnit("KG")
	if !ok {
		t.Fatal("KG not recognised")
	}
	ton, ok := normalize.ParseUnit("TON")
	if !ok {
		t.Fatal("TON not recognised")
	}
	if normalize.Compatible(kg, ton) || normalize.Compatible(ton, kg) {
		t.Fatal("KG and TON must not be compatible")
	}
	if normalize.Compatible(normalize.Unit{}, normalize.Unit{}) {
		t.Fatal("zero units must not be compatible")
	}
}

func TestExtractUnit(t *testing.T) {
	tests := []struct {
		in     string
		family normalize.Family
		ok     bool
	}{
		{"Excavation in ordinary soil CUM", normalize.FamilyVolume, true},
		{"Plaster to walls, sq.m", normalize.FamilyArea, true},
		{"Pipe 100mm dia laid in trench 1.5 m deep", "", false},
		{"Kerb laid to line m", normalize.FamilyLength, true},
		{"Steel in cubic metres of concrete per ton", normalize.FamilyMassT, true},
		{"No fines concrete blocks", "", false},
		{"Provisional sum", normalize.FamilyLumpSum, true},
	}
	for _, tt := range tests {
		u, ok := normalize.ExtractUnit(tt.in)
		if ok != tt.ok || u.Family != tt.family {
			t.Fatalf("ExtractUnit(%q) = %+v, %v; want %q, %v", tt.in, u, ok, tt.family, tt.ok)
		}
	}
}

func TestStripUnits(t *testing.T) {
	got := normalize.StripUnits(normalize.Preprocess("Excavation in ordinary soil CUM"))
	if got != "excavation in ordinary soil" {
		t.Fatalf("StripUnits = %q", got)
	}
	got = normalize.StripUnits("no fines concrete")
	if got != "no fines concrete" {
		t.Fatalf("positional form should survive mid-text: %q", got)
	}
}

func TestStemSharesRoots(t *testing.T) {
	pairs := [][2]string{
		{"Groundworks", "groundwork"},
		{"Excavating", "Excavation"},
		{"excavate", "excavations"},
		{"ditches", "ditch"},
	}
	for _, p := range pairs {
		if normalize.Stem(p[0]) != normalize.Stem(p[1]) {
			t.Fatalf("Stem(%q)=%q, Stem(%q)=%q", p[0], normalize.Stem(p[0]), p[1], normalize.Stem(p[1]))
		}
	}
}

func TestTermsDropsStopWordsAndUnits(t *testing.T) {
	got := normalize.Terms("Excavation in ordinary soil CUM")
	want := []string{"excavat", "ordinary", "soil"}
	if len(got) != len(want) {
		t.Fatalf("Terms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Terms = %v, want %v", got, want)
		}
	}
}
