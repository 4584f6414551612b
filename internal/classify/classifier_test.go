package classify

import (
	"reflect"
	"testing"
)

func TestQuotedQueryGoesSparse(t *testing.T) {
	c := Classify(`"exact match"`)

	if c.Strategy != StrategySparse {
		t.Errorf("strategy = %s, want sparse", c.Strategy)
	}
	if c.Alpha != 0.1 {
		t.Errorf("alpha = %v, want 0.1", c.Alpha)
	}
	if !c.Features.HasQuotes {
		t.Error("expected HasQuotes")
	}
}

func TestSingleQuotesAlsoCount(t *testing.T) {
	c := Classify(`find 'token bucket' notes`)

	if c.Strategy != StrategySparse || c.Alpha != 0.1 {
		t.Errorf("got (%s, %v), want (sparse, 0.1)", c.Strategy, c.Alpha)
	}
}

func TestCodeQueryLowersAlpha(t *testing.T) {
	cases := []string{
		"what does client.Query do",
		"usage of parseConfig(path)",
	}

	for _, text := range cases {
		c := Classify(text)
		if c.Strategy != StrategyHybrid {
			t.Errorf("%q: strategy = %s, want hybrid", text, c.Strategy)
		}
		if c.Alpha != 0.3 {
			t.Errorf("%q: alpha = %v, want 0.3", text, c.Alpha)
		}
		if !c.Features.HasCode {
			t.Errorf("%q: expected HasCode", text)
		}
	}
}

func TestDefaultIsHybrid(t *testing.T) {
	c := Classify("team standup notes")

	if c.Strategy != StrategyHybrid {
		t.Errorf("strategy = %s, want hybrid", c.Strategy)
	}
	if c.Alpha != 0.7 {
		t.Errorf("alpha = %v, want 0.7", c.Alpha)
	}
}

func TestQuotesTakePrecedenceOverCode(t *testing.T) {
	c := Classify(`"client.Query" semantics`)

	if c.Strategy != StrategySparse || c.Alpha != 0.1 {
		t.Errorf("got (%s, %v), want (sparse, 0.1)", c.Strategy, c.Alpha)
	}
}

func TestComplexityBuckets(t *testing.T) {
	cases := []struct {
		text  string
		score int
		class Complexity
	}{
		// 3 words, 12 chars, question form only.
		{"What is RRF", 1, ComplexitySimple},
		// question +1, length 38 (>25) +1.
		{"how does the fusion ranking work here?", 2, ComplexityModerate},
		// code +3, agentic "fix" +2, length 49 (>25) +1, 10 words +1.
		{"fix the bug in parser.parse() when input is empty", 7, ComplexityComplex},
	}

	for _, tc := range cases {
		c := Classify(tc.text)
		if c.Score != tc.score {
			t.Errorf("%q: score = %d, want %d (features %+v)", tc.text, c.Score, tc.score, c.Features)
		}
		if c.Complexity != tc.class {
			t.Errorf("%q: complexity = %s, want %s", tc.text, c.Complexity, tc.class)
		}
	}
}

func TestConfigurableComplexThreshold(t *testing.T) {
	// Score 2: moderate by default, complex once the threshold drops to 2.
	text := "cats AND dogs"

	if c := ClassifyAt(text, 2); c.Complexity != ComplexityComplex {
		t.Errorf("complexity = %s, want complex at threshold 2", c.Complexity)
	}
	if c := ClassifyAt(text, DefaultComplexThreshold); c.Complexity != ComplexityModerate {
		t.Errorf("complexity = %s, want moderate at the default threshold", c.Complexity)
	}

	// A threshold below 1 falls back to the default.
	if c := ClassifyAt(text, 0); c.Complexity != ComplexityModerate {
		t.Errorf("complexity = %s, want moderate with zero threshold", c.Complexity)
	}
}

func TestBooleanOperators(t *testing.T) {
	c := Classify("cats AND dogs")

	if !c.Features.HasOperators {
		t.Error("expected HasOperators for uppercase AND")
	}
	if c.Score != 2 || c.Complexity != ComplexityModerate {
		t.Errorf("score = %d complexity = %s, want 2 moderate", c.Score, c.Complexity)
	}

	// Lowercase "and" is an ordinary word.
	if Classify("cats and dogs").Features.HasOperators {
		t.Error("lowercase and must not count as an operator")
	}
}

func TestQuestionDetection(t *testing.T) {
	if !Classify("deploy finished?").Features.IsQuestion {
		t.Error("trailing question mark should mark a question")
	}
	if !Classify("where did we discuss caching").Features.IsQuestion {
		t.Error("leading question word should mark a question")
	}
	if Classify("notes about caching").Features.IsQuestion {
		t.Error("plain statement is not a question")
	}
}

func TestClassifierIsPure(t *testing.T) {
	text := `implement retries for client.Send("payload") AND log failures, why does it flake?`

	first := Classify(text)
	for i := 0; i < 5; i++ {
		if got := Classify(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestEmptyQuery(t *testing.T) {
	c := Classify("")

	if c.Strategy != StrategyHybrid || c.Alpha != 0.7 {
		t.Errorf("got (%s, %v), want (hybrid, 0.7)", c.Strategy, c.Alpha)
	}
	if c.Score != 0 || c.Complexity != ComplexitySimple {
		t.Errorf("score = %d complexity = %s, want 0 simple", c.Score, c.Complexity)
	}
}
