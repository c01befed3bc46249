package textutil

import (
	"sort"
	"strings"
)

// DamerauLevenshtein returns the optimal string alignment distance between a
// and b, counting insertions, deletions, substitutions and adjacent
// transpositions.
func DamerauLevenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	al, bl := len(ra), len(rb)

	dp := make([][]int, al+1)
	for i := range dp {
		dp[i] = make([]int, bl+1)
		dp[i][0] = i
	}
	for j := 0; j <= bl; j++ {
		dp[0][j] = j
	}

	for i := 1; i <= al; i++ {
		for j := 1; j <= bl; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			dp[i][j] = min(dp[i-1][j]+1, dp[i][j-1]+1, dp[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				dp[i][j] = min(dp[i][j], dp[i-2][j-2]+1)
			}
		}
	}
	return dp[al][bl]
}

// EditSimilarity maps the Damerau-Levenshtein distance into [0,1], where 1
// means identical.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	return 1 - float64(DamerauLevenshtein(a, b))/float64(longest)
}

// TokenSort sorts whitespace-separated tokens alphabetically.
func TokenSort(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// BestSimilarity returns the larger of the plain and token-sorted edit
// similarities.
func BestSimilarity(a, b string) float64 {
	return max(EditSimilarity(a, b), EditSimilarity(TokenSort(a), TokenSort(b)))
}
