package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/repository"
	"review_pipeline/internal/app/scraper"
)

type fakeSource struct {
	sessionErr error
	companyErr error
	topics     []string
	topicsErr  error
	// pages[n] はページ番号 n の結果です。無いページは ErrNoMorePages です。
	pages    map[int]*scraper.ReviewPage
	pageErrs map[int]error
	requests []int
	recent   []bool
}

func (f *fakeSource) CheckSession() error { return f.sessionErr }

func (f *fakeSource) FetchCompany(_ context.Context, domain string) (*scraper.CompanyPage, error) {
	if f.companyErr != nil {
		return nil, f.companyErr
	}
	return &scraper.CompanyPage{
		BusinessUnit: scraper.BusinessUnit{
			ID:              "bu-" + domain,
			DisplayName:     "Source Name",
			NumberOfReviews: 120,
			TrustScore:      decimal.NewNullDecimal(decimal.RequireFromString("4.1")),
			Categories:      []scraper.Category{{Name: "Health"}},
		},
		AISummary: &scraper.AISummary{Summary: "Customers like it", Lang: "en", ModelVersion: "v1"},
	}, nil
}

func (f *fakeSource) FetchReviewPage(_ context.Context, _ string, n int, recent bool) (*scraper.ReviewPage, error) {
	f.requests = append(f.requests, n)
	f.recent = append(f.recent, recent)
	if err, ok := f.pageErrs[n]; ok {
		return nil, err
	}
	p, ok := f.pages[n]
	if !ok {
		return nil, scraper.ErrNoMorePages
	}
	return p, nil
}

func (f *fakeSource) FetchTopics(context.Context, string, string) ([]string, error) {
	return f.topics, f.topicsErr
}

type fakeStore struct {
	nextID    uint
	companies map[string]*model.Company
	summaries map[uint]*model.AISummary
	reviews   map[string]model.Review
	topics    map[string]model.Topic
	mentions  map[uint][]uint
	batches   []int
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies: map[string]*model.Company{},
		summaries: map[uint]*model.AISummary{},
		reviews:   map[string]model.Review{},
		topics:    map[string]model.Topic{},
		mentions:  map[uint][]uint{},
	}
}

func (s *fakeStore) UpsertCompany(_ context.Context, c *model.Company) error {
	if existing, ok := s.companies[c.BusinessID]; ok {
		c.ID = existing.ID
	} else {
		s.nextID++
		c.ID = s.nextID
	}
	copied := *c
	s.companies[c.BusinessID] = &copied
	return nil
}

func (s *fakeStore) UpsertAISummary(_ context.Context, sum *model.AISummary) error {
	s.summaries[sum.CompanyID] = sum
	return nil
}

func (s *fakeStore) UpsertReviews(_ context.Context, reviews []model.Review, _ int) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.batches = append(s.batches, len(reviews))
	for _, r := range reviews {
		s.reviews[r.ReviewID] = r
	}
	return nil
}

func (s *fakeStore) ExistingReviewIDs(_ context.Context, ids []string) (map[string]bool, error) {
	found := map[string]bool{}
	for _, id := range ids {
		if _, ok := s.reviews[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (s *fakeStore) BrandStats(_ context.Context, companyID uint) (repository.BrandStats, error) {
	var stats repository.BrandStats
	for _, r := range s.reviews {
		if r.CompanyID == companyID {
			stats.ReviewCount++
		}
	}
	return stats, nil
}

func (s *fakeStore) EnsureTopics(_ context.Context, ts []model.Topic) (map[string]model.Topic, error) {
	out := map[string]model.Topic{}
	for _, t := range ts {
		if _, ok := s.topics[t.TopicKey]; !ok {
			t.ID = uint(len(s.topics) + 1)
			s.topics[t.TopicKey] = t
		}
		out[t.TopicKey] = s.topics[t.TopicKey]
	}
	return out, nil
}

func (s *fakeStore) ReplaceCompanyTopics(_ context.Context, companyID uint, ids []uint) error {
	s.mentions[companyID] = ids
	return nil
}

var brand = config.Brand{Domain: "simple-life-app.com", Name: "Simple Life"}

func review(id string, rating int) scraper.Review {
	r := scraper.Review{ID: id, Rating: rating, Text: "text " + id}
	r.Dates.PublishedDate = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return r
}

func pageOf(n int, ids ...string) *scraper.ReviewPage {
	p := &scraper.ReviewPage{Number: n}
	for _, id := range ids {
		p.Reviews = append(p.Reviews, review(id, 4))
	}
	return p
}

func newTestService(src Source, store Store, cfg config.SourceConfig) *Service {
	return NewService(src, store, cfg, logger.Nop())
}

func TestIngestBrandFullHistory(t *testing.T) {
	src := &fakeSource{
		topics: []string{"customer_service", "refund_process"},
		pages: map[int]*scraper.ReviewPage{
			1: pageOf(1, "a", "b", "c"),
			2: pageOf(2, "d", "e"),
			3: pageOf(3, "e", "f"), // "e" がページをまたいで重複
		},
	}
	store := newFakeStore()
	svc := newTestService(src, store, config.SourceConfig{BatchSize: 4})

	res := svc.IngestBrand(t.Context(), brand)
	require.NoError(t, res.Err)

	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 6, res.Fetched)
	assert.Equal(t, 6, res.New)
	assert.Equal(t, 6, res.Upserted)
	assert.Len(t, store.reviews, 6)
	assert.Equal(t, []int{1, 2, 3, 4}, src.requests)
	assert.Equal(t, []bool{false, false, false, false}, src.recent)
	assert.Equal(t, []int{5, 1}, store.batches)

	company := store.companies["bu-simple-life-app.com"]
	require.NotNil(t, company)
	assert.Equal(t, "Simple Life", company.DisplayName, "configured name wins over source name")
	assert.Equal(t, "simple-life-app.com", company.Name)
	assert.Equal(t, []string{"Health"}, company.CategoryNames())
	assert.NotNil(t, company.LastScrapedAt)
	assert.Equal(t, "Customers like it", store.summaries[company.ID].SummaryText)

	assert.Equal(t, "Refund Process", store.topics["refund_process"].TopicName)
	assert.Len(t, store.mentions[company.ID], 2)
}

func TestIngestBrandIsIdempotent(t *testing.T) {
	src := &fakeSource{pages: map[int]*scraper.ReviewPage{1: pageOf(1, "a", "b")}}
	store := newFakeStore()
	svc := newTestService(src, store, config.SourceConfig{})

	first := svc.IngestBrand(t.Context(), brand)
	second := svc.IngestBrand(t.Context(), brand)
	require.NoError(t, first.Err)
	require.NoError(t, second.Err)

	assert.Equal(t, 2, first.New)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, ModeIncremental, second.Mode)
	assert.Len(t, store.reviews, 2)
	assert.Equal(t, first.CompanyID, second.CompanyID)
}

func TestIncrementalStopsAfterStalePages(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{pages: map[int]*scraper.ReviewPage{1: pageOf(1, "old-1"), 2: pageOf(2, "old-2"), 3: pageOf(3, "old-3")}}
	svc := newTestService(src, store, config.SourceConfig{EarlyStopPages: 2})
	require.NoError(t, svc.IngestBrand(t.Context(), brand).Err)

	// 2 回目: 1 ページ目に新着、2・3 ページ目は既知のみ、4 ページ目は取得しない
	src.pages = map[int]*scraper.ReviewPage{
		1: pageOf(1, "new-1", "old-1"),
		2: pageOf(2, "old-2"),
		3: pageOf(3, "old-3"),
		4: pageOf(4, "never"),
	}
	src.requests, src.recent = nil, nil

	res := svc.IngestBrand(t.Context(), brand)
	require.NoError(t, res.Err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, []int{1, 2, 3}, src.requests)
	assert.Equal(t, []bool{true, true, true}, src.recent)
	assert.Equal(t, 1, res.New)
	assert.NotContains(t, store.reviews, "never")
}

func TestParseErrorSkipsPageOnly(t *testing.T) {
	src := &fakeSource{
		pages: map[int]*scraper.ReviewPage{
			1: {Number: 1, Reviews: []scraper.Review{review("a", 5)}, Skipped: 1},
			3: pageOf(3, "c"),
		},
		pageErrs: map[int]error{2: apperrors.New(apperrors.KindParse, "fetch review page 2", "", fmt.Errorf("bad json"))},
	}
	store := newFakeStore()
	res := newTestService(src, store, config.SourceConfig{}).IngestBrand(t.Context(), brand)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.SkippedPages)
	assert.Equal(t, 1, res.SkippedReviews)
	assert.Contains(t, store.reviews, "a")
	assert.Contains(t, store.reviews, "c")
}

func TestMaxPagesBoundsPaging(t *testing.T) {
	src := &fakeSource{pages: map[int]*scraper.ReviewPage{1: pageOf(1, "a"), 2: pageOf(2, "b"), 3: pageOf(3, "c")}}
	res := newTestService(src, newFakeStore(), config.SourceConfig{MaxPages: 2}).IngestBrand(t.Context(), brand)
	require.NoError(t, res.Err)
	assert.Equal(t, []int{1, 2}, src.requests)
}

func TestBrandFailures(t *testing.T) {
	authErr := apperrors.New(apperrors.KindSourceAuth, "GET", "", fmt.Errorf("HTTP 403"))
	rateErr := apperrors.New(apperrors.KindRateLimited, "GET", "", fmt.Errorf("HTTP 429"))

	tests := []struct {
		name string
		src  *fakeSource
		kind apperrors.Kind
	}{
		{"expired session", &fakeSource{sessionErr: authErr}, apperrors.KindSourceAuth},
		{"company page rejected", &fakeSource{companyErr: authErr}, apperrors.KindSourceAuth},
		{"rate limit exhausted", &fakeSource{pageErrs: map[int]error{1: rateErr}}, apperrors.KindRateLimited},
		{"topics rejected", &fakeSource{topicsErr: authErr}, apperrors.KindSourceAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestService(tt.src, newFakeStore(), config.SourceConfig{}).IngestBrand(t.Context(), brand)
			require.Error(t, res.Err)
			assert.Equal(t, tt.kind, apperrors.KindOf(res.Err))
			assert.ErrorContains(t, res.Err, "brand=Simple Life")
		})
	}
}

func TestTopicParseErrorIsNotFatal(t *testing.T) {
	src := &fakeSource{
		topicsErr: apperrors.New(apperrors.KindParse, "fetch topics", "", fmt.Errorf("bad json")),
		pages:     map[int]*scraper.ReviewPage{1: pageOf(1, "a")},
	}
	res := newTestService(src, newFakeStore(), config.SourceConfig{}).IngestBrand(t.Context(), brand)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.New)
}

func TestDatabaseErrorFailsBrand(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = apperrors.New(apperrors.KindDatabase, "upsert reviews", "", fmt.Errorf("connection reset"))
	src := &fakeSource{pages: map[int]*scraper.ReviewPage{1: pageOf(1, "a")}}

	res := newTestService(src, store, config.SourceConfig{}).IngestBrand(t.Context(), brand)
	assert.ErrorIs(t, res.Err, apperrors.ErrDatabase)
}

func TestIngestAllContinuesAfterFailure(t *testing.T) {
	src := &fakeSource{pages: map[int]*scraper.ReviewPage{1: pageOf(1, "a")}}
	failing := &switchingSource{fakeSource: src, failDomain: "ketogo.app"}
	brands := []config.Brand{{Domain: "ketogo.app", Name: "KetoGo"}, brand}

	results := newTestService(failing, newFakeStore(), config.SourceConfig{}).IngestAll(t.Context(), brands)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].New)
}

type switchingSource struct {
	*fakeSource
	failDomain string
}

func (s *switchingSource) FetchCompany(ctx context.Context, domain string) (*scraper.CompanyPage, error) {
	if domain == s.failDomain {
		return nil, apperrors.New(apperrors.KindSourceAuth, "fetch company", "", fmt.Errorf("HTTP 403"))
	}
	return s.fakeSource.FetchCompany(ctx, domain)
}

func TestToModelMapsReply(t *testing.T) {
	r := review("x", 2)
	r.IsVerified = true
	r.Consumer.CountryCode = "US"
	replied := time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
	r.Reply = &scraper.Reply{Message: "Sorry", PublishedDate: &replied}

	m := toModel(&r, 7, time.Now())
	assert.EqualValues(t, 7, m.CompanyID)
	assert.True(t, m.Verified)
	assert.True(t, m.HasReply())
	assert.Equal(t, &replied, m.ReplyDate)

	r.Reply = &scraper.Reply{Message: ""}
	empty := toModel(&r, 7, time.Now())
	assert.False(t, empty.HasReply())
}
