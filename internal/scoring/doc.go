// Package scoring computes the multi-factor score between one BOQ line item
// and one catalog candidate.
//
// A lexical tier sets the base score (exact, prefix, word-boundary substring,
// bare substring, token overlap, category field, other metadata); unit,
// context-header, sheet-category and code-prefix bonuses are added on top.
// Confidence is the final score over the maximum attainable score, clipped to
// [0,1]. Scoring is pure: identical inputs always give identical breakdowns.
package scoring
