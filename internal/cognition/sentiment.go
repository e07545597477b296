package cognition

import (
	"strings"

	"github.com/grassmudhorses/vader-go/lexicon"
	"github.com/grassmudhorses/vader-go/sentitext"
)

// scoreSentiment returns the compound VADER polarity of text in [-1, 1].
// The score is recorded for analytics only, so anything that prevents
// scoring, empty text included, degrades to zero rather than an error.
func scoreSentiment(text string) (score float64) {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	defer func() {
		if recover() != nil {
			score = 0
		}
	}()
	return sentitext.PolarityScore(sentitext.Parse(text, lexicon.DefaultLexicon)).Compound
}
