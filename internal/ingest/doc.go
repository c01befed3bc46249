// Package ingest turns bill-of-quantities and price-catalog spreadsheets into
// line items and catalog entries.
//
// CSV, XLSX and XLS inputs are supported. Columns are located by header
// synonyms rather than position, and rows that carry a description without a
// quantity or unit are treated as section headings that feed the context
// header stack of the items below them.
package ingest
