package testsupport

import (
	"fmt"

	"boqmatch/internal/boq"
)

// SampleCatalog returns a small civil-works catalog in insertion order.
func SampleCatalog() []boq.CatalogEntry {
	return []boq.CatalogEntry{
		{ID: "EW-001", Code: "EW.01.001", Description: "Excavation in ordinary soil", Category: "Earthworks", Subcategory: "Excavation", Unit: "m3", Rate: 12.5},
		{ID: "EW-002", Code: "EW.01.002", Description: "Excavation in rock", Category: "Earthworks", Subcategory: "Excavation", Unit: "m3", Rate: 48},
		{ID: "EW-010", Code: "EW.02.001", Description: "Backfilling with approved material", Category: "Earthworks", Subcategory: "Filling", Unit: "m3", Rate: 9.75},
		{ID: "CN-001", Code: "CN.01.001", Description: "Reinforced concrete C30 in foundations", Category: "Concrete", Subcategory: "Foundations", Unit: "m3", Rate: 165, Keywords: []string{"rcc", "footing"}},
		{ID: "CN-002", Code: "CN.01.002", Description: "Plain concrete C15 blinding", Category: "Concrete", Subcategory: "Blinding", Unit: "m3", Rate: 95},
		{ID: "RF-001", Code: "RF.01.001", Description: "High yield steel reinforcement bars", Category: "Reinforcement", Subcategory: "Bars", Unit: "t", Rate: 1180, Keywords: []string{"rebar"}},
		{ID: "FW-001", Code: "FW.01.001", Description: "Formwork to sides of foundations", Category: "Formwork", Subcategory: "Foundations", Unit: "m2", Rate: 22},
		{ID: "MS-001", Code: "MS.01.001", Description: "Blockwork 200mm thick walls", Category: "Masonry", Subcategory: "Blockwork", Unit: "m2", Rate: 38},
		{ID: "DR-001", Code: "DR.01.001", Description: "uPVC drainage pipe 150mm diameter", Category: "Drainage", Subcategory: "Pipes", Unit: "m", Rate: 31},
		{ID: "PR-001", Code: "PR.01.001", Description: "Site establishment and mobilisation", Category: "Preliminaries", Unit: "ls", Rate: 15000},
	}
}

// SampleItems returns line items that exercise exact, partial and unmatched
// descriptions against SampleCatalog.
func SampleItems() []boq.LineItem {
	return []boq.LineItem{
		{RowNumber: 2, Description: "Excavation in ordinary soil", Unit: "m3", ContextHeaders: []string{"Earthworks"}},
		{RowNumber: 3, Description: "Excavation in rock not exceeding 2m deep", Unit: "cum", ContextHeaders: []string{"Earthworks", "Excavation"}},
		{RowNumber: 4, Description: "RCC C30 in footings", Unit: "m3", ContextHeaders: []string{"Concrete"}},
		{RowNumber: 5, Description: "Rebar high yield", Unit: "tonne", ContextHeaders: []string{"Reinforcement"}},
		{RowNumber: 6, Description: "Formwork to sides of foundations", Unit: "sqm"},
		{RowNumber: 7, Description: "Landscaping with topsoil and turf", Unit: "m2"},
	}
}

// NumberedItems returns n distinct line items numbered from 1.
func NumberedItems(n int) []boq.LineItem {
	items := make([]boq.LineItem, n)
	for i := range items {
		items[i] = boq.LineItem{
			RowNumber:   i + 1,
			Description: fmt.Sprintf("Excavation in ordinary soil zone %d", i+1),
			Unit:        "m3",
		}
	}
	return items
}
