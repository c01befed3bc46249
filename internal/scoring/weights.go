package scoring

// Weights holds every tier point value and bonus. The defaults are tuned
// constants; deployments override them through configuration.
type Weights struct {
	ExactPoints        float64
	PrefixPoints       float64
	WordBoundaryPoints float64
	SubstringPoints    float64
	// OverlapPoints is scaled by the token similarity and applies only when the
	// similarity reaches OverlapFloor.
	OverlapPoints  float64
	OverlapFloor   float64
	CategoryPoints float64
	MetadataPoints float64

	UnitBonus     float64
	ContextBonus  float64
	CategoryBonus float64
	CodeBonus     float64

	// MaxScore is the denominator for confidence. It never drops below
	// Ceiling, so a full score maps to 1 and a stronger tier never reports
	// less confidence than a weaker one with the same bonuses.
	MaxScore float64
}

// Ceiling is the highest score the weights can produce: the strongest tier
// plus every bonus at full weight.
func (w Weights) Ceiling() float64 {
	top := max(w.ExactPoints, w.PrefixPoints, w.WordBoundaryPoints, w.SubstringPoints,
		w.OverlapPoints, w.CategoryPoints, w.MetadataPoints)
	return top + w.UnitBonus + w.ContextBonus + w.CategoryBonus + w.CodeBonus
}

// DefaultWeights returns the tuned defaults. An exact description with a
// compatible unit reaches 0.92 confidence; a prefix match needs a unit to
// clear the default 0.7 floor comfortably.
func DefaultWeights() Weights {
	return Weights{
		ExactPoints:        100,
		PrefixPoints:       85,
		WordBoundaryPoints: 70,
		SubstringPoints:    55,
		OverlapPoints:      50,
		OverlapFloor:       0.6,
		CategoryPoints:     30,
		MetadataPoints:     20,
		UnitBonus:          10,
		ContextBonus:       5,
		CategoryBonus:      3,
		CodeBonus:          2,
		MaxScore:           120,
	}
}
