package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app/isoweek"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/repository"
	"review_pipeline/internal/app/topics"
)

func ptr[T any](v T) *T { return &v }

func mkReview(id string, rating int16, at time.Time) model.Review {
	return model.Review{ReviewID: id, CompanyID: 1, Rating: rating, ReviewDate: at, Text: "text", Language: "en", AuthorCountryCode: "GB"}
}

func simpleLife() *model.Company {
	c := &model.Company{ID: 1, Name: "simple-life-app.com", DisplayName: "Simple Life", BusinessID: "bu-1"}
	c.SetCategories([]string{"Health"})
	return c
}

func TestComputeSimpleLifeScenario(t *testing.T) {
	monday := isoweek.MustParse("2026-W06").Start()
	verified := mkReview("a", 5, monday.Add(10*time.Hour))
	verified.Verified = true
	verified.ReplyMessage = ptr("Thanks!")
	verified.ReplyDate = ptr(monday.Add(34 * time.Hour))

	s := Compute(Input{
		Company: simpleLife(),
		Week:    isoweek.MustParse("2026-W06"),
		Reviews: []model.Review{
			verified,
			mkReview("b", 3, monday.Add(30*time.Hour)),
			mkReview("c", 4, monday.Add(50*time.Hour)),
		},
	})

	assert.Equal(t, 3, s.ReviewCount)
	require.NotNil(t, s.MeanRating)
	assert.Equal(t, "4.00", s.MeanRating.StringFixed(2))
	assert.Equal(t, 1, s.VerifiedCount)
	assert.Equal(t, 2, s.UnverifiedCount)
	assert.Equal(t, "33.33", s.ReplyRate.StringFixed(2))
	assert.Equal(t, [5]int{0, 0, 1, 1, 1}, s.RatingHistogram)
	assert.Equal(t, "5", s.VerifiedMean.String())
	assert.Equal(t, "3.5", s.UnverifiedMean.String())
	assert.Equal(t, "24", s.AvgResponseHours.String())
	assert.Equal(t, "1", s.AvgResponseDays.String())
	assert.Equal(t, 2, s.PositiveCount)
	assert.Equal(t, 1, s.NeutralCount)
	assert.Equal(t, "66.67", s.PositivePct.StringFixed(2))
	assert.Equal(t, []Count{{Key: "GB", Count: 3}}, s.ByCountry)
	assert.Equal(t, "Simple Life", s.Brand)
}

func TestComputeZeroWeek(t *testing.T) {
	s := Compute(Input{Company: simpleLife(), Week: isoweek.MustParse("2026-W07")})

	assert.Zero(t, s.ReviewCount)
	assert.Zero(t, s.VerifiedCount)
	assert.Zero(t, s.UnverifiedCount)
	assert.True(t, s.ReplyRate.IsZero())
	assert.True(t, s.PositivePct.IsZero())
	assert.Nil(t, s.MeanRating)
	assert.Nil(t, s.AvgResponseHours)
	assert.Nil(t, s.VolumeChangePct)
	assert.Empty(t, s.ByCountry)
}

func TestComputeCountsAddUp(t *testing.T) {
	base := isoweek.MustParse("2026-W10").Start()
	var reviews []model.Review
	for i := 0; i < 7; i++ {
		r := mkReview(string(rune('a'+i)), int16(i%5+1), base.Add(time.Duration(i)*time.Hour))
		r.Verified = i%3 == 0
		if i%2 == 0 {
			r.ReplyMessage = ptr("reply")
		}
		reviews = append(reviews, r)
	}
	s := Compute(Input{Week: isoweek.MustParse("2026-W10"), Reviews: reviews})

	assert.Equal(t, s.ReviewCount, s.VerifiedCount+s.UnverifiedCount)
	assert.Equal(t, s.ReviewCount, s.PositiveCount+s.NeutralCount+s.NegativeCount)
	assert.True(t, decimal.NewFromInt(4).Mul(hundred).Div(decimal.NewFromInt(7)).Round(2).Equal(s.ReplyRate))
	assert.Equal(t, "57.14", s.ReplyRate.StringFixed(2))
}

func TestRoundingIsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "12.5", Rate(1, 8).String())
	assert.Equal(t, "0.13", Rate(1, 800).String()) // 0.125
	assert.Equal(t, "66.67", Rate(2, 3).String())
	assert.True(t, Rate(5, 0).IsZero())

	m := mean(9, 8) // 1.125
	assert.Equal(t, "1.13", m.String())
}

func TestComputeWeekOverWeekAndThemes(t *testing.T) {
	week := isoweek.MustParse("2026-W06")
	start := week.Start()
	prevStart := week.Prev().Start()

	good := mkReview("g", 5, start)
	good.Text = "Great customer service and a friendly app"
	good.TextEn = "Great customer service and a friendly app"
	bad := mkReview("b", 1, start.Add(time.Hour))
	bad.Text = "No refund yet, the app keeps crashing"

	matcher := topics.NewMatcher([]model.Topic{
		topics.New("customer_service", "Customer Service"),
		topics.New("app", "App"),
		topics.New("refund", "Refund"),
	})

	s := Compute(Input{
		Week:       week,
		Reviews:    []model.Review{good, bad},
		Previous:   []model.Review{mkReview("p1", 5, prevStart), mkReview("p2", 5, prevStart), mkReview("p3", 4, prevStart), mkReview("p4", 4, prevStart)},
		Matcher:    matcher,
		ThemeLimit: 1,
	})

	assert.Equal(t, 4, s.PreviousCount)
	assert.Equal(t, -2, s.VolumeChange)
	assert.Equal(t, "-50", s.VolumeChangePct.String())
	assert.Equal(t, "-1.5", s.RatingChange.String())
	assert.Equal(t, []Count{{Key: "App", Count: 1}}, s.PositiveThemes)
	assert.Equal(t, []Count{{Key: "App", Count: 1}}, s.NegativeThemes)
}

type fakeStore struct {
	reviews []model.Review
	topics  []model.Topic
	queries int
}

func (f *fakeStore) ReviewsBetween(_ context.Context, companyID uint, from, to time.Time) ([]model.Review, error) {
	f.queries++
	var out []model.Review
	for _, r := range f.reviews {
		if r.CompanyID == companyID && !r.ReviewDate.Before(from) && r.ReviewDate.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) BrandStats(_ context.Context, companyID uint) (repository.BrandStats, error) {
	var stats repository.BrandStats
	for _, r := range f.reviews {
		if r.CompanyID != companyID {
			continue
		}
		stats.ReviewCount++
		d := r.ReviewDate
		if stats.FirstReview == nil || d.Before(*stats.FirstReview) {
			stats.FirstReview = &d
		}
		if stats.LastReview == nil || d.After(*stats.LastReview) {
			stats.LastReview = &d
		}
	}
	return stats, nil
}

func (f *fakeStore) AllTopics(context.Context) ([]model.Topic, error) { return f.topics, nil }

func TestBackfillCoversEveryWeek(t *testing.T) {
	store := &fakeStore{reviews: []model.Review{
		mkReview("first", 5, isoweek.MustParse("2025-W51").Start().Add(time.Hour)),
		mkReview("mid", 2, isoweek.MustParse("2026-W01").Start().Add(time.Hour)),
		mkReview("last", 4, isoweek.MustParse("2026-W03").LastDay().Add(23*time.Hour)),
	}}
	svc := NewService(store, 3, logger.Nop())

	summaries, err := svc.Backfill(t.Context(), simpleLife(), isoweek.MustParse("2026-W03"))
	require.NoError(t, err)

	// 2025 は 52 週: W51, W52, 2026-W01, W02, W03
	require.Len(t, summaries, 5)
	assert.Equal(t, 1, store.queries)
	got := make([]string, 0, len(summaries))
	counts := make([]int, 0, len(summaries))
	for _, s := range summaries {
		got = append(got, s.Week.String())
		counts = append(counts, s.ReviewCount)
	}
	assert.Equal(t, []string{"2025-W51", "2025-W52", "2026-W01", "2026-W02", "2026-W03"}, got)
	assert.Equal(t, []int{1, 0, 1, 0, 1}, counts)
	assert.Equal(t, 1, summaries[3].PreviousCount)
}

func TestBackfillWithoutReviewsIsEmpty(t *testing.T) {
	svc := NewService(&fakeStore{}, 3, logger.Nop())
	summaries, err := svc.Backfill(t.Context(), simpleLife(), isoweek.MustParse("2026-W06"))
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestWeekUsesPreviousWeekFromSameQuery(t *testing.T) {
	week := isoweek.MustParse("2026-W06")
	store := &fakeStore{reviews: []model.Review{
		mkReview("prev", 2, week.Prev().Start()),
		mkReview("this", 4, week.Start()),
		mkReview("next", 5, week.End()),
	}}
	svc := NewService(store, 3, logger.Nop())
	fixed := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	s, err := svc.Week(t.Context(), simpleLife(), week)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ReviewCount)
	assert.Equal(t, 1, s.PreviousCount)
	assert.Equal(t, "2", s.RatingChange.String())
	assert.Equal(t, fixed, s.GeneratedAt)
}
