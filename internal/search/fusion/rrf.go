// Package fusion merges ranked result lists with Reciprocal Rank
// Fusion. It is deliberately free of retrieval types: callers project
// their results down to (id, score) pairs and join the fused order back
// by id.
package fusion

import "sort"

// DefaultK is the standard RRF constant.
const DefaultK = 60

// Entry is one ranked result in an input list. Lists are expected in
// best-first order; the entry's position, not its score, drives fusion.
type Entry struct {
	ID    string
	Score float32
}

// Scored is one fused result.
type Scored struct {
	ID string

	// BestScore is the highest base score seen across input lists.
	BestScore float32

	// RRFScore is the summed reciprocal-rank contribution.
	RRFScore float32
}

// Fuse merges the lists by RRF: a document at zero-based rank r in a
// list contributes 1/(k+r), summed over the lists it appears in. The
// output is ordered by RRF score descending; ties break on the higher
// best base score, then on id. Fusion is commutative in its inputs.
func Fuse(k int, lists ...[]Entry) []Scored {
	if k <= 0 {
		k = DefaultK
	}

	byID := make(map[string]*Scored)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, e := range list {
			s, ok := byID[e.ID]
			if !ok {
				s = &Scored{ID: e.ID, BestScore: e.Score}
				byID[e.ID] = s
				order = append(order, e.ID)
			} else if e.Score > s.BestScore {
				s.BestScore = e.Score
			}
			s.RRFScore += 1.0 / float32(k+rank)
		}
	}

	fused := make([]Scored, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}

	sort.Slice(fused, func(a, b int) bool {
		if fused[a].RRFScore != fused[b].RRFScore {
			return fused[a].RRFScore > fused[b].RRFScore
		}
		if fused[a].BestScore != fused[b].BestScore {
			return fused[a].BestScore > fused[b].BestScore
		}
		return fused[a].ID < fused[b].ID
	})

	return fused
}
