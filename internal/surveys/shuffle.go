package surveys

import (
	"math/rand"
	"sort"

	"github.com/Formily/formily-web/internal/models"
)

// shuffledOptions returns the question's options ordered for display: sorted
// by orderNumber, then reshuffled according to the question's shuffle setting.
// ShuffleExceptLast keeps the final option in place, typically an "Other"
// catch-all. The input slice is never mutated.
func shuffledOptions(q *models.Question) []models.QuestionOption {
	out := make([]models.QuestionOption, len(q.Options))
	copy(out, q.Options)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })

	switch q.Settings.Shuffle {
	case models.ShuffleAll:
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	case models.ShuffleExceptLast:
		if n := len(out) - 1; n > 0 {
			rand.Shuffle(n, func(i, j int) { out[i], out[j] = out[j], out[i] })
		}
	}
	return out
}
