package fusion

import (
	"math"
	"math/rand"
	"testing"
)

func approx(t *testing.T, got, want float32, label string) {
	t.Helper()
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}

func TestFuseTwoLists(t *testing.T) {
	dense := []Entry{{"A", 0.9}, {"B", 0.8}, {"C", 0.7}}
	sparse := []Entry{{"B", 0.5}, {"D", 0.4}, {"A", 0.3}}

	fused := Fuse(60, dense, sparse)

	if len(fused) != 4 {
		t.Fatalf("len = %d, want 4", len(fused))
	}

	// Single-list entries rank strictly by RRF: D at sparse rank 1
	// (1/61) beats C at dense rank 2 (1/62).
	wantOrder := []string{"B", "A", "D", "C"}
	for i, id := range wantOrder {
		if fused[i].ID != id {
			t.Fatalf("position %d = %s, want %s (full: %+v)", i, fused[i].ID, id, fused)
		}
	}

	// B: rank 1 in dense, rank 0 in sparse.
	approx(t, fused[0].RRFScore, 1.0/61+1.0/60, "B rrf")
	// A: rank 0 in dense, rank 2 in sparse.
	approx(t, fused[1].RRFScore, 1.0/60+1.0/62, "A rrf")
	// D: rank 1 in sparse only.
	approx(t, fused[2].RRFScore, 1.0/61, "D rrf")
	// C: rank 2 in dense only.
	approx(t, fused[3].RRFScore, 1.0/62, "C rrf")

	// Score retains the best base score seen.
	approx(t, fused[0].BestScore, 0.8, "B best")
	approx(t, fused[1].BestScore, 0.9, "A best")
}

func TestFuseIsCommutative(t *testing.T) {
	a := []Entry{{"x", 0.9}, {"y", 0.5}}
	b := []Entry{{"y", 0.8}, {"z", 0.2}}

	first := Fuse(60, a, b)
	second := Fuse(60, b, a)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("position %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestFuseTieBreaks(t *testing.T) {
	// Both documents sit at rank 0 of one list each: identical RRF.
	fused := Fuse(60, []Entry{{"low", 0.3}}, []Entry{{"high", 0.9}})
	if fused[0].ID != "high" {
		t.Errorf("tie should break on best score, got %+v", fused)
	}

	// Identical RRF and identical score: id ascending.
	fused = Fuse(60, []Entry{{"b", 0.5}}, []Entry{{"a", 0.5}})
	if fused[0].ID != "a" {
		t.Errorf("tie should break on id, got %+v", fused)
	}
}

func TestFuseSingleList(t *testing.T) {
	fused := Fuse(60, []Entry{{"a", 0.9}, {"b", 0.1}})

	if len(fused) != 2 || fused[0].ID != "a" {
		t.Fatalf("unexpected fusion: %+v", fused)
	}
	approx(t, fused[0].RRFScore, 1.0/60, "a rrf")
	approx(t, fused[1].RRFScore, 1.0/61, "b rrf")
}

func TestFuseShuffledListsKeepOrder(t *testing.T) {
	lists := [][]Entry{
		{{"a", 0.9}, {"b", 0.8}, {"c", 0.7}},
		{{"c", 0.6}, {"d", 0.5}},
		{{"b", 0.4}, {"a", 0.3}, {"d", 0.2}},
	}

	base := Fuse(60, lists...)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([][]Entry, len(lists))
		copy(shuffled, lists)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := Fuse(60, shuffled...)
		for i := range base {
			if got[i].ID != base[i].ID {
				t.Fatalf("trial %d: order changed: %+v vs %+v", trial, got, base)
			}
		}
	}
}

func TestFuseDefaultsK(t *testing.T) {
	fused := Fuse(0, []Entry{{"a", 1}})
	approx(t, fused[0].RRFScore, 1.0/DefaultK, "default k")
}

func TestFuseEmpty(t *testing.T) {
	if got := Fuse(60); len(got) != 0 {
		t.Errorf("expected empty fusion, got %+v", got)
	}
	if got := Fuse(60, nil, nil); len(got) != 0 {
		t.Errorf("expected empty fusion of empty lists, got %+v", got)
	}
}
