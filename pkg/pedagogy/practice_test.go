package pedagogy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports/portstest"
)

func TestDifficultyFor(t *testing.T) {
	tests := []struct {
		mastery float64
		want    models.Difficulty
	}{
		{0, models.DifficultyEasy},
		{0.29, models.DifficultyEasy},
		{0.3, models.DifficultyMedium},
		{0.59, models.DifficultyMedium},
		{0.6, models.DifficultyHard},
		{1, models.DifficultyHard},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("mastery %.2f", tt.mastery), func(t *testing.T) {
			assert.Equal(t, tt.want, DifficultyFor(tt.mastery))
		})
	}
}

func seedBank(store *portstest.InMemoryStore) {
	for _, topic := range []string{"fractions", "decimals"} {
		for _, diff := range []models.Difficulty{models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard} {
			for i := 0; i < 2; i++ {
				store.AddPractice(models.PracticeQuestion{
					ID:         fmt.Sprintf("%s-%s-%d", topic, diff, i),
					SubjectID:  "math-5",
					Topic:      topic,
					Question:   "q",
					Answer:     "a",
					Difficulty: diff,
				})
			}
		}
	}
}

func TestSelect_PrefersWeakTopicsInBand(t *testing.T) {
	ctx := context.Background()
	store := portstest.NewInMemoryStore()
	seedBank(store)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repos := store.Repos()
	// fractions is weak at mastery 0.2 (easy band); decimals sits in the
	// medium band and is not weak.
	require.NoError(t, repos.Mastery().Upsert(ctx, &models.MasteryRecord{
		UserID: "student-1", SubjectID: "math-5", Topic: "fractions",
		MasteryLevel: 0.2, QuestionCount: 3, LastInteraction: now,
	}))
	require.NoError(t, repos.Mastery().Upsert(ctx, &models.MasteryRecord{
		UserID: "student-1", SubjectID: "math-5", Topic: "decimals",
		MasteryLevel: 0.45, QuestionCount: 8, LastInteraction: now,
	}))
	require.NoError(t, repos.WeakAreas().Upsert(ctx, &models.WeakArea{
		UserID: "student-1", SubjectID: "math-5", Topic: "fractions", Score: 0.2, DetectedAt: now,
	}))

	sel := NewPracticeSelector(portstest.NewFakeRandom(42))
	got, err := sel.Select(ctx, repos, "student-1", "math-5", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)

	// The two easy fractions questions (weak + band-matched) come first.
	assert.Equal(t, "fractions", got[0].Topic)
	assert.Equal(t, models.DifficultyEasy, got[0].Difficulty)
	assert.Equal(t, "fractions", got[1].Topic)
	assert.Equal(t, models.DifficultyEasy, got[1].Difficulty)
	// Then band-matched decimals questions (medium).
	assert.Equal(t, "decimals", got[2].Topic)
	assert.Equal(t, models.DifficultyMedium, got[2].Difficulty)
	assert.Equal(t, "decimals", got[3].Topic)
	assert.Equal(t, models.DifficultyMedium, got[3].Difficulty)
}

func TestSelect_DeterministicForSeed(t *testing.T) {
	ctx := context.Background()
	store := portstest.NewInMemoryStore()
	seedBank(store)
	repos := store.Repos()

	first, err := NewPracticeSelector(portstest.NewFakeRandom(7)).Select(ctx, repos, "student-1", "math-5", 6)
	require.NoError(t, err)
	second, err := NewPracticeSelector(portstest.NewFakeRandom(7)).Select(ctx, repos, "student-1", "math-5", 6)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSelect_UnknownTopicsCountAsEasy(t *testing.T) {
	ctx := context.Background()
	store := portstest.NewInMemoryStore()
	seedBank(store)
	repos := store.Repos()

	got, err := NewPracticeSelector(portstest.NewFakeRandom(1)).Select(ctx, repos, "student-1", "math-5", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	// With no mastery state every topic is in the easy band.
	for _, q := range got {
		assert.Equal(t, models.DifficultyEasy, q.Difficulty)
	}
}

func TestSelect_FillsFromOffBandWhenBankIsSmall(t *testing.T) {
	ctx := context.Background()
	store := portstest.NewInMemoryStore()
	store.AddPractice(
		models.PracticeQuestion{ID: "only-hard", SubjectID: "math-5", Topic: "fractions", Difficulty: models.DifficultyHard},
	)
	repos := store.Repos()

	got, err := NewPracticeSelector(portstest.NewFakeRandom(1)).Select(ctx, repos, "student-1", "math-5", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only-hard", got[0].ID)
}

func TestSelect_ZeroBudget(t *testing.T) {
	store := portstest.NewInMemoryStore()
	seedBank(store)

	got, err := NewPracticeSelector(portstest.NewFakeRandom(1)).Select(context.Background(), store.Repos(), "student-1", "math-5", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
