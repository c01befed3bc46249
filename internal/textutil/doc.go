// Package textutil provides the similarity primitives used by scoring and the
// embedding strategy.
//
// Fingerprints are term-frequency vectors built from lowercase alphanumeric
// tokens of at least three characters and compared with cosine similarity.
// Edit-distance similarity uses Damerau-Levenshtein, optionally over
// token-sorted strings so word order does not matter. VectorCosine compares
// dense embedding vectors.
package textutil
