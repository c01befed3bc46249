package normalize

import (
	"regexp"
	"strings"
)

// Family is a canonical unit family. Units are compatible when their families
// are equal.
type Family string

const (
	FamilyVolume  Family = "volume"
	FamilyArea    Family = "area"
	FamilyLength  Family = "length"
	FamilyCount   Family = "count"
	FamilyMassKg  Family = "mass_kg"
	FamilyMassT   Family = "mass_t"
	FamilyLiquid  Family = "liquid"
	FamilyHour    Family = "time_hour"
	FamilyDay     Family = "time_day"
	FamilyLumpSum Family = "lump_sum"
)

// Unit is a recognised unit with its family and canonical symbol.
type Unit struct {
	Family Family `json:"family"`
	Symbol string `json:"symbol"`
}

// IsZero reports whether u is the zero Unit.
func (u Unit) IsZero() bool {
	return u.Family == ""
}

// Compatible reports whether two units belong to the same family. Zero units
// are never compatible.
func Compatible(a, b Unit) bool {
	return a.Family != "" && a.Family == b.Family
}

var canonicalSymbols = map[Family]string{
	FamilyVolume:  "m3",
	FamilyArea:    "m2",
	FamilyLength:  "m",
	FamilyCount:   "nr",
	FamilyMassKg:  "kg",
	FamilyMassT:   "t",
	FamilyLiquid:  "l",
	FamilyHour:    "hr",
	FamilyDay:     "day",
	FamilyLumpSum: "ls",
}

var surfaceForms = map[Family][]string{
	FamilyVolume: {
		"m3", "cum", "cu m", "cbm", "cmt", "cubic m", "cubic meter", "cubic meters",
		"cubic metre", "cubic metres", "cu ft", "cuft", "cft", "cubic feet", "cubic foot",
		"yd3", "cu yd", "cubic yard", "cubic yards",
	},
	FamilyArea: {
		"m2", "sqm", "sq m", "sq mtr", "sm", "square m", "square meter", "square meters",
		"square metre", "square metres", "sqft", "sq ft", "sft", "ft2", "square feet", "square foot",
		"sq yd", "yd2",
	},
	FamilyLength: {
		"m", "lm", "rm", "rmt", "mtr", "mtrs", "meter", "meters", "metre", "metres",
		"linear m", "linear meter", "linear meters", "linear metre", "linear metres",
		"running m", "running meter", "running metre", "lin m", "ft", "rft", "lf", "lin ft",
	},
	FamilyCount: {
		"nr", "no", "nos", "num", "number", "numbers", "ea", "each", "pc", "pcs",
		"piece", "pieces", "set", "sets", "unit", "units",
	},
	FamilyMassKg: {"kg", "kgs", "kilogram", "kilograms", "kilo"},
	FamilyMassT: {
		"t", "ton", "tons", "tonne", "tonnes", "mt", "metric ton", "metric tonne",
	},
	FamilyLiquid:  {"l", "ltr", "ltrs", "lit", "litre", "litres", "liter", "liters"},
	FamilyHour:    {"hr", "hrs", "hour", "hours", "manhour", "manhours"},
	FamilyDay:     {"day", "days", "manday", "mandays"},
	FamilyLumpSum: {"ls", "lump sum", "lumpsum", "sum"},
}

// positionalForms are surface forms that are ordinary words or letters too;
// they count as units only as the final token of a description.
var positionalForms = map[string]struct{}{
	"m": {}, "t": {}, "l": {}, "no": {}, "sm": {}, "lit": {}, "set": {}, "sets": {},
	"unit": {}, "units": {}, "number": {}, "sum": {}, "day": {}, "days": {}, "ft": {},
	"mt": {}, "num": {}, "each": {},
}

var (
	unitLookup    map[string]Family
	maxFormTokens int
	unitSplit     = regexp.MustCompile(`[^a-z0-9]+`)
)

func init() {
	unitLookup = make(map[string]Family)
	for family, forms := range surfaceForms {
		for _, form := range forms {
			unitLookup[form] = family
			if n := len(strings.Fields(form)); n > maxFormTokens {
				maxFormTokens = n
			}
		}
	}
}

func unitTokens(text string) []string {
	lowered := strings.ToLower(Fold(text))
	return strings.Fields(unitSplit.ReplaceAllString(lowered, " "))
}

// ParseUnit maps a unit string such as "CUM", "m³" or "cubic metre" onto its
// family.
func ParseUnit(value string) (Unit, bool) {
	key := strings.Join(unitTokens(value), " ")
	if key == "" {
		return Unit{}, false
	}
	family, ok := unitLookup[key]
	if !ok {
		return Unit{}, false
	}
	return Unit{Family: family, Symbol: canonicalSymbols[family]}, true
}

// ExtractUnit returns the last standalone unit mentioned in text. Multi-word
// forms win over their single-word tails at the same position.
func ExtractUnit(text string) (Unit, bool) {
	tokens := unitTokens(text)
	for end := len(tokens); end > 0; end-- {
		for span := min(maxFormTokens, end); span >= 1; span-- {
			form := strings.Join(tokens[end-span:end], " ")
			family, ok := unitLookup[form]
			if !ok {
				continue
			}
			if _, positional := positionalForms[form]; positional && end != len(tokens) {
				continue
			}
			return Unit{Family: family, Symbol: canonicalSymbols[family]}, true
		}
	}
	return Unit{}, false
}

// StripUnits removes standalone unit tokens from an already preprocessed
// description so unit spelling does not affect text comparison.
func StripUnits(normalized string) string {
	tokens := strings.Fields(normalized)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		matched := 0
		for span := min(maxFormTokens, len(tokens)-i); span >= 1; span-- {
			form := strings.Join(tokens[i:i+span], " ")
			if _, ok := unitLookup[form]; !ok {
				continue
			}
			if _, positional := positionalForms[form]; positional && i+span != len(tokens) {
				continue
			}
			matched = span
			break
		}
		if matched > 0 {
			i += matched
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return strings.Join(out, " ")
}
