// Package normalize canonicalizes free-text BOQ descriptions and recognises
// unit tokens.
//
// Preprocess folds Unicode compatibility forms, lowercases, repairs split words
// and dimensions, and expands trade abbreviations so lexical scoring compares
// like with like. ExtractUnit and ParseUnit map the many surface spellings of
// a unit onto a small set of families; two units are compatible exactly when
// their families match. Everything here is pure and deterministic.
package normalize
