// Package boq defines the bill-of-quantities domain types shared by the
// matching engine, the job coordinator and the persistence layer: parsed line
// items, catalog entries, match results and their score breakdowns.
package boq
