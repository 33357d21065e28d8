package pedagogy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// PracticeSelector picks question-bank items matched to the student's
// mastery bands, biased toward weak areas. Selection is deterministic
// given the student's state and the seed source.
type PracticeSelector struct {
	random ports.Random
}

// NewPracticeSelector builds a selector over the given seed source.
func NewPracticeSelector(random ports.Random) *PracticeSelector {
	return &PracticeSelector{random: random}
}

// DifficultyFor maps a mastery level onto a question difficulty band.
// Topics the student has never touched count as mastery 0 (easy).
func DifficultyFor(mastery float64) models.Difficulty {
	switch {
	case mastery < easyBelow:
		return models.DifficultyEasy
	case mastery < mediumBelow:
		return models.DifficultyMedium
	default:
		return models.DifficultyHard
	}
}

// Select returns up to n practice questions for (user, subject). Ranking:
// band-matched questions on weak topics first, then other band-matched
// questions, then the rest of the bank. Within each group the order is a
// seeded shuffle over an ID-sorted base, so identical state and seed give
// identical output.
func (s *PracticeSelector) Select(ctx context.Context, repos ports.RepositorySet, userID, subjectID string, n int) ([]models.PracticeQuestion, error) {
	if n <= 0 {
		return nil, nil
	}

	mastery, err := repos.Mastery().ListBySubject(ctx, userID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing mastery: %w", err)
	}
	levels := make(map[string]float64, len(mastery))
	for _, rec := range mastery {
		levels[rec.Topic] = rec.MasteryLevel
	}

	weak, err := repos.WeakAreas().List(ctx, userID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing weak areas: %w", err)
	}
	weakTopics := make(map[string]bool, len(weak))
	for _, area := range weak {
		weakTopics[area.Topic] = true
	}

	bank, err := repos.Practice().ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing question bank: %w", err)
	}

	var weakMatched, matched, rest []models.PracticeQuestion
	for _, q := range bank {
		banded := q.Difficulty == DifficultyFor(levels[q.Topic])
		switch {
		case banded && weakTopics[q.Topic]:
			weakMatched = append(weakMatched, q)
		case banded:
			matched = append(matched, q)
		default:
			rest = append(rest, q)
		}
	}

	seed := uint64(s.random.Int64())
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	shuffleGroup(weakMatched, rng)
	shuffleGroup(matched, rng)
	shuffleGroup(rest, rng)

	out := make([]models.PracticeQuestion, 0, n)
	for _, group := range [][]models.PracticeQuestion{weakMatched, matched, rest} {
		for _, q := range group {
			if len(out) == n {
				return out, nil
			}
			out = append(out, q)
		}
	}
	return out, nil
}

func shuffleGroup(qs []models.PracticeQuestion, rng *rand.Rand) {
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
}
