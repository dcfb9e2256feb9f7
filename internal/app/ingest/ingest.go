// Package ingest は Trustpilot から取得したレビューをデータベースへ取り込みます。
//
// 保存済みレビューが無いブランドは全件を、あるブランドは直近 30 日分を新しい順に取得し、
// 未知のレビューが無いページが続いた時点で打ち切ります。
package ingest

import (
	"context"
	"errors"
	"time"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/repository"
	"review_pipeline/internal/app/scraper"
	"review_pipeline/internal/app/topics"
)

// 連続してページ全体が解析できない場合はそれ以上ページを送りません。
const maxConsecutiveParseErrors = 3

const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Source は scraper.Client が満たします。
type Source interface {
	CheckSession() error
	FetchCompany(ctx context.Context, domain string) (*scraper.CompanyPage, error)
	FetchReviewPage(ctx context.Context, domain string, number int, recent bool) (*scraper.ReviewPage, error)
	FetchTopics(ctx context.Context, businessID, domain string) ([]string, error)
}

// Store は repository.Repository が満たします。
type Store interface {
	UpsertCompany(ctx context.Context, c *model.Company) error
	UpsertAISummary(ctx context.Context, s *model.AISummary) error
	UpsertReviews(ctx context.Context, reviews []model.Review, batchSize int) error
	ExistingReviewIDs(ctx context.Context, ids []string) (map[string]bool, error)
	BrandStats(ctx context.Context, companyID uint) (repository.BrandStats, error)
	EnsureTopics(ctx context.Context, topics []model.Topic) (map[string]model.Topic, error)
	ReplaceCompanyTopics(ctx context.Context, companyID uint, topicIDs []uint) error
}

// Result は 1 ブランド分の取り込み結果です。Err が nil でなければそのブランドは失敗です。
type Result struct {
	Brand          config.Brand
	CompanyID      uint
	Mode           string
	Pages          int
	Fetched        int
	New            int
	Upserted       int
	SkippedPages   int
	SkippedReviews int
	Err            error
}

type Service struct {
	source Source
	store  Store
	cfg    config.SourceConfig
	log    *logger.Logger
	now    func() time.Time
}

func NewService(source Source, store Store, cfg config.SourceConfig, log *logger.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.EarlyStopPages <= 0 {
		cfg.EarlyStopPages = 2
	}
	return &Service{source: source, store: store, cfg: cfg, log: log.With("component", "ingest"), now: time.Now}
}

// IngestAll はブランドを順に取り込みます。失敗したブランドがあっても残りを続けます。
func (s *Service) IngestAll(ctx context.Context, brands []config.Brand) []Result {
	results := make([]Result, 0, len(brands))
	for _, b := range brands {
		if ctx.Err() != nil {
			results = append(results, Result{Brand: b, Err: ctx.Err()})
			continue
		}
		results = append(results, s.IngestBrand(ctx, b))
	}
	return results
}

// IngestBrand は 1 ブランドの会社情報、AI 要約、トピック、レビューを取り込みます。
func (s *Service) IngestBrand(ctx context.Context, brand config.Brand) Result {
	res := Result{Brand: brand}
	log := s.log.With("brand", brand.Name, "domain", brand.Domain)
	started := s.now()

	if err := s.source.CheckSession(); err != nil {
		res.Err = withBrand(err, brand)
		return res
	}

	company, err := s.upsertCompany(ctx, brand)
	if err != nil {
		res.Err = withBrand(err, brand)
		return res
	}
	res.CompanyID = company.ID

	if err := s.refreshTopics(ctx, company, brand); err != nil {
		if apperrors.KindOf(err) == apperrors.KindSourceAuth || apperrors.KindOf(err) == apperrors.KindDatabase {
			res.Err = withBrand(err, brand)
			return res
		}
		log.Warn("top mentions skipped", "kind", apperrors.KindOf(err), "error", err)
	}

	stats, err := s.store.BrandStats(ctx, company.ID)
	if err != nil {
		res.Err = withBrand(err, brand)
		return res
	}
	recent := stats.ReviewCount > 0
	res.Mode = ModeFull
	if recent {
		res.Mode = ModeIncremental
	}
	log.Info("ingesting reviews", "mode", res.Mode, "stored_reviews", stats.ReviewCount)

	if err := s.ingestPages(ctx, company.ID, brand, recent, &res, log); err != nil {
		res.Err = withBrand(err, brand)
		return res
	}

	log.Info("brand ingested",
		"mode", res.Mode, "pages", res.Pages, "fetched", res.Fetched, "new", res.New,
		"upserted", res.Upserted, "skipped_pages", res.SkippedPages, "skipped_reviews", res.SkippedReviews,
		"elapsed", s.now().Sub(started).String())
	return res
}

func (s *Service) upsertCompany(ctx context.Context, brand config.Brand) (*model.Company, error) {
	page, err := s.source.FetchCompany(ctx, brand.Domain)
	if err != nil {
		return nil, err
	}
	bu := page.BusinessUnit
	scrapedAt := s.now().UTC()

	company := &model.Company{
		Name:          brand.Domain,
		BusinessID:    bu.ID,
		DisplayName:   brand.Name,
		WebsiteURL:    bu.WebsiteURL,
		LogoURL:       bu.ProfileImageURL,
		TotalReviews:  bu.NumberOfReviews,
		TrustScore:    bu.TrustScore,
		Stars:         bu.Stars,
		IsClaimed:     bu.IsClaimed,
		LastScrapedAt: &scrapedAt,
	}
	if company.DisplayName == "" {
		company.DisplayName = bu.DisplayName
	}
	company.SetCategories(bu.CategoryNames())
	if err := s.store.UpsertCompany(ctx, company); err != nil {
		return nil, err
	}

	if page.AISummary != nil {
		summary := &model.AISummary{
			CompanyID:       company.ID,
			SummaryText:     page.AISummary.Summary,
			SummaryLanguage: page.AISummary.Lang,
			ModelVersion:    page.AISummary.ModelVersion,
			SourceUpdatedAt: page.AISummary.UpdatedAt,
		}
		if err := s.store.UpsertAISummary(ctx, summary); err != nil {
			return nil, err
		}
	}
	return company, nil
}

// refreshTopics はトピックを取得し、会社のトピックを全件置き換えます。
// 辞書に無いキーは表示名を生成して辞書に追加します。
func (s *Service) refreshTopics(ctx context.Context, company *model.Company, brand config.Brand) error {
	keys, err := s.source.FetchTopics(ctx, company.BusinessID, brand.Domain)
	if err != nil {
		return err
	}
	candidates := make([]model.Topic, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			candidates = append(candidates, topics.New(k, ""))
		}
	}
	stored, err := s.store.EnsureTopics(ctx, candidates)
	if err != nil {
		return err
	}
	ids := make([]uint, 0, len(candidates))
	for _, c := range candidates {
		if t, ok := stored[c.TopicKey]; ok {
			ids = append(ids, t.ID)
		}
	}
	return s.store.ReplaceCompanyTopics(ctx, company.ID, ids)
}

func (s *Service) ingestPages(ctx context.Context, companyID uint, brand config.Brand, recent bool, res *Result, log *logger.Logger) error {
	var (
		buffer      []model.Review
		seen        = make(map[string]bool)
		stalePages  int
		parseErrors int
	)
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := s.store.UpsertReviews(ctx, buffer, s.cfg.BatchSize); err != nil {
			return err
		}
		res.Upserted += len(buffer)
		buffer = buffer[:0]
		return nil
	}

	for n := 1; s.cfg.MaxPages <= 0 || n <= s.cfg.MaxPages; n++ {
		page, err := s.source.FetchReviewPage(ctx, brand.Domain, n, recent)
		if errors.Is(err, scraper.ErrNoMorePages) {
			log.Debug("reached end of pages", "page", n)
			break
		}
		if apperrors.KindOf(err) == apperrors.KindParse {
			res.SkippedPages++
			parseErrors++
			log.Warn("page skipped", "page", n, "kind", apperrors.KindParse, "error", err)
			if parseErrors >= maxConsecutiveParseErrors {
				log.Warn("too many unreadable pages, stopping", "page", n)
				break
			}
			continue
		}
		if err != nil {
			if ferr := flush(); ferr != nil {
				log.Error("failed to save reviews before aborting", "error", ferr)
			}
			return err
		}
		parseErrors = 0
		res.Pages++
		res.SkippedReviews += page.Skipped
		if page.Skipped > 0 {
			log.Warn("malformed reviews skipped", "page", n, "count", page.Skipped)
		}
		if len(page.Reviews) == 0 && page.Skipped == 0 {
			break
		}

		ids := make([]string, 0, len(page.Reviews))
		for _, r := range page.Reviews {
			ids = append(ids, r.ID)
		}
		existing, err := s.store.ExistingReviewIDs(ctx, ids)
		if err != nil {
			return err
		}

		unseen := 0
		scrapedAt := s.now().UTC()
		for i := range page.Reviews {
			r := &page.Reviews[i]
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			res.Fetched++
			if !existing[r.ID] {
				unseen++
			}
			buffer = append(buffer, toModel(r, companyID, scrapedAt))
		}
		res.New += unseen

		if len(buffer) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}

		if recent {
			if unseen == 0 {
				stalePages++
			} else {
				stalePages = 0
			}
			if stalePages >= s.cfg.EarlyStopPages {
				log.Debug("no new reviews, stopping early", "page", n, "stale_pages", stalePages)
				break
			}
		}
	}
	return flush()
}

func toModel(r *scraper.Review, companyID uint, scrapedAt time.Time) model.Review {
	m := model.Review{
		ReviewID:          r.ID,
		CompanyID:         companyID,
		Rating:            int16(r.Rating),
		Title:             r.Title,
		Text:              r.Text,
		AuthorName:        r.Consumer.DisplayName,
		AuthorID:          r.Consumer.ID,
		AuthorCountryCode: r.Consumer.CountryCode,
		AuthorReviewCount: r.Consumer.NumberOfReviews,
		ReviewDate:        r.Dates.PublishedDate.UTC(),
		UpdatedDate:       r.Dates.UpdatedDate,
		ExperienceDate:    r.Dates.ExperiencedDate,
		Verified:          r.Verified(),
		Language:          r.Language,
		IsEdited:          r.Edited(),
		ScrapedAt:         scrapedAt,
	}
	if r.Reply != nil && r.Reply.Message != "" {
		msg := r.Reply.Message
		m.ReplyMessage = &msg
		m.ReplyDate = r.Reply.PublishedDate
	}
	return m
}

// withBrand はブランド名が付いていないエラーにブランドを付与します。
func withBrand(err error, brand config.Brand) error {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		if ae.Brand == "" {
			copied := *ae
			copied.Brand = brand.Name
			return &copied
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.New(apperrors.KindUnknown, "ingest", brand.Name, err)
}
