package consensus

// Pure scoring functions over answer embeddings. All weights arriving here
// are already normalised to sum 1.

// scoreEpsilon is the numeric tolerance for score comparisons, in
// particular the "did the revision improve" gate in chain refinement.
const scoreEpsilon = 1e-9

// cosineClipped returns the cosine similarity of two vectors clipped to
// [0,1]. Vectors are unit-normalised upstream, so the dot product is the
// cosine; negative similarity carries no agreement signal and clips to 0.
func cosineClipped(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}

	if dot < 0 {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}

// pairwiseSimilarities builds the symmetric similarity matrix of the
// embedding set.
func pairwiseSimilarities(embeddings [][]float32) [][]float64 {
	n := len(embeddings)
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
		sims[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := cosineClipped(embeddings[i], embeddings[j])
			sims[i][j] = s
			sims[j][i] = s
		}
	}
	return sims
}

// agreementScore computes S = Σ_{i<j} w_i·w_j·s_ij / Σ_{i<j} w_i·w_j.
// Defined as 1 when fewer than two replies remain.
func agreementScore(sims [][]float64, weights []float64) float64 {
	n := len(weights)
	if n < 2 {
		return 1
	}

	var num, den float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ww := weights[i] * weights[j]
			num += ww * sims[i][j]
			den += ww
		}
	}
	if den == 0 {
		return 1
	}
	return clamp01(num / den)
}

// individualAgreements computes a_i = Σ_{j≠i} w_j·s_ij / Σ_{j≠i} w_j for
// every reply: how much each answer agrees with the weighted rest.
func individualAgreements(sims [][]float64, weights []float64) []float64 {
	n := len(weights)
	out := make([]float64, n)
	if n == 1 {
		out[0] = 1
		return out
	}

	for i := 0; i < n; i++ {
		var num, den float64
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			num += weights[j] * sims[i][j]
			den += weights[j]
		}
		if den > 0 {
			out[i] = clamp01(num / den)
		}
	}
	return out
}

// suggestedWeights derives the adaptive weight suggestion w'_i = a_i / Σa.
// Returned to the caller but never applied to the current request. Falls
// back to uniform when every agreement is zero.
func suggestedWeights(agreements []float64) []float64 {
	n := len(agreements)
	out := make([]float64, n)

	var sum float64
	for _, a := range agreements {
		sum += a
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out
	}

	for i, a := range agreements {
		out[i] = a / sum
	}
	return out
}

// argmaxStable returns the index of the largest value; ties resolve to the
// lowest index so the choice is stable across runs.
func argmaxStable(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best]+scoreEpsilon {
			best = i
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
