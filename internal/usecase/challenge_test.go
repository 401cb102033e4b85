package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthos/wellbeingd/internal/domain"
)

func TestGenerateChallenge(t *testing.T) {
	for _, difficulty := range []domain.ChallengeDifficulty{
		domain.DifficultyEasy,
		domain.DifficultyMedium,
		domain.DifficultyHard,
	} {
		t.Run(string(difficulty), func(t *testing.T) {
			for i := 0; i < 50; i++ {
				c := GenerateChallenge(difficulty)
				assert.NotEmpty(t, c.Question)
				// Answers stay in a range a person can compute mentally.
				assert.Greater(t, c.Answer, -100)
				assert.Less(t, c.Answer, 2000)
			}
		})
	}
}
