package rollup

import (
	"context"
	"sort"
	"time"

	"review_pipeline/internal/app/isoweek"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/repository"
	"review_pipeline/internal/app/topics"
)

// Store は repository.Repository が満たします。
type Store interface {
	ReviewsBetween(ctx context.Context, companyID uint, from, to time.Time) ([]model.Review, error)
	BrandStats(ctx context.Context, companyID uint) (repository.BrandStats, error)
	AllTopics(ctx context.Context) ([]model.Topic, error)
}

type Service struct {
	store      Store
	themeLimit int
	log        *logger.Logger
	now        func() time.Time
}

func NewService(store Store, themeLimit int, log *logger.Logger) *Service {
	return &Service{store: store, themeLimit: themeLimit, log: log.With("component", "rollup"), now: time.Now}
}

// Week は 1 週分の集計を返します。レビューが 0 件の週も件数 0 の集計になります。
func (s *Service) Week(ctx context.Context, company *model.Company, week isoweek.Week) (Summary, error) {
	summaries, err := s.Weeks(ctx, company, []isoweek.Week{week})
	if err != nil {
		return Summary{}, err
	}
	return summaries[0], nil
}

// Backfill は最初のレビューの週から through までのすべての週を昇順で返します。
// レビューが無い会社は空です。
func (s *Service) Backfill(ctx context.Context, company *model.Company, through isoweek.Week) ([]Summary, error) {
	weeks, err := s.BackfillWeeks(ctx, company.ID, through)
	if err != nil {
		return nil, err
	}
	return s.Weeks(ctx, company, weeks)
}

// BackfillWeeks は Backfill の対象週の一覧です。
func (s *Service) BackfillWeeks(ctx context.Context, companyID uint, through isoweek.Week) ([]isoweek.Week, error) {
	stats, err := s.store.BrandStats(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if stats.FirstReview == nil {
		return nil, nil
	}
	return isoweek.Range(isoweek.Of(*stats.FirstReview), through), nil
}

// Weeks は指定した週の集計を昇順で返します。レビューは前週分を含めて 1 回のクエリで読み込みます。
func (s *Service) Weeks(ctx context.Context, company *model.Company, weeks []isoweek.Week) ([]Summary, error) {
	if len(weeks) == 0 {
		return nil, nil
	}
	sorted := append([]isoweek.Week(nil), weeks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	dict, err := s.store.AllTopics(ctx)
	if err != nil {
		return nil, err
	}
	matcher := topics.NewMatcher(dict)

	from := sorted[0].Prev().Start()
	to := sorted[len(sorted)-1].End()
	reviews, err := s.store.ReviewsBetween(ctx, company.ID, from, to)
	if err != nil {
		return nil, err
	}
	buckets := make(map[isoweek.Week][]model.Review)
	for _, r := range reviews {
		w := isoweek.Of(r.ReviewDate)
		buckets[w] = append(buckets[w], r)
	}

	now := s.now().UTC()
	summaries := make([]Summary, 0, len(sorted))
	for _, w := range sorted {
		summaries = append(summaries, Compute(Input{
			Company:    company,
			Week:       w,
			Reviews:    buckets[w],
			Previous:   buckets[w.Prev()],
			Matcher:    matcher,
			ThemeLimit: s.themeLimit,
			Now:        now,
		}))
	}
	s.log.Debug("rollup computed", "brand", company.DisplayName, "weeks", len(summaries),
		"from", sorted[0].String(), "to", sorted[len(sorted)-1].String(), "reviews", len(reviews))
	return summaries, nil
}
