package cognition

import "testing"

func TestScoreSentimentPolarity(t *testing.T) {
	pos := scoreSentiment("I love this, it works wonderfully and I am so happy.")
	if pos <= 0 {
		t.Errorf("positive text scored %v", pos)
	}
	neg := scoreSentiment("I hate this, it is horrible and completely broken.")
	if neg >= 0 {
		t.Errorf("negative text scored %v", neg)
	}
	for _, score := range []float64{pos, neg} {
		if score < -1 || score > 1 {
			t.Errorf("score %v outside [-1, 1]", score)
		}
	}
}

func TestScoreSentimentDegradesToZero(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		if got := scoreSentiment(text); got != 0 {
			t.Errorf("scoreSentiment(%q) = %v, want 0", text, got)
		}
	}
}
