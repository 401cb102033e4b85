package usecase

import (
	"fmt"
	"math/rand"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// GenerateChallenge produces a mental-arithmetic friction challenge scaled
// to the configured difficulty.
func GenerateChallenge(difficulty domain.ChallengeDifficulty) domain.MathChallenge {
	switch difficulty {
	case domain.DifficultyEasy:
		a, b := rand.Intn(90)+10, rand.Intn(90)+10
		return domain.MathChallenge{
			Question: fmt.Sprintf("%d + %d", a, b),
			Answer:   a + b,
		}
	case domain.DifficultyHard:
		a, b, c := rand.Intn(90)+10, rand.Intn(12)+4, rand.Intn(90)+10
		return domain.MathChallenge{
			Question: fmt.Sprintf("%d × %d − %d", a, b, c),
			Answer:   a*b - c,
		}
	default: // medium
		a, b := rand.Intn(90)+10, rand.Intn(12)+4
		return domain.MathChallenge{
			Question: fmt.Sprintf("%d × %d", a, b),
			Answer:   a * b,
		}
	}
}
