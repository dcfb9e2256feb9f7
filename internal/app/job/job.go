// Package job はブランドごとに 取り込み → 週次集計 → シート出力 を実行し、実行全体の結果をまとめます。
package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/ingest"
	"review_pipeline/internal/app/isoweek"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/repository"
	"review_pipeline/internal/app/rollup"
	"review_pipeline/internal/app/sheets"
)

type Mode string

const (
	// ModeLastCompleted は直近に終了した週だけを処理します。
	ModeLastCompleted Mode = "last-completed"
	ModeWeek          Mode = "week"
	// ModeBackfill は最初のレビューの週から直近に終了した週までを処理します。
	ModeBackfill Mode = "backfill"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

const (
	StageIngest = "ingest"
	StageRollup = "rollup"
	StageReport = "report"
)

// Options は 1 回の実行の指定です。
type Options struct {
	ID   uuid.UUID
	Mode Mode
	// Week は ModeWeek の対象週です。
	Week isoweek.Week
	// Weeks は ModeBackfill で直近何週に絞るかです。0 なら全期間です。
	Weeks int
	// SkipScrape は取り込みを行わず保存済みのレビューから集計します。
	SkipScrape bool
	// SkipReport は取り込みだけを行いシートには書き込みません。
	SkipReport bool
}

func (o Options) Validate() error {
	switch o.Mode {
	case ModeLastCompleted, "":
	case ModeWeek:
		if o.Week.IsZero() {
			return errors.New("week mode requires a week")
		}
	case ModeBackfill:
		if o.Weeks < 0 {
			return fmt.Errorf("weeks must not be negative: %d", o.Weeks)
		}
	default:
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	if o.SkipScrape && o.SkipReport {
		return errors.New("scrape-only and report-only are mutually exclusive")
	}
	return nil
}

// NewOptions は CLI と API の引数から Options を作ります。week と backfill は同時に指定できません。
func NewOptions(week string, backfill bool, weeks int, scrapeOnly, reportOnly bool) (Options, error) {
	opts := Options{Mode: ModeLastCompleted, SkipScrape: reportOnly, SkipReport: scrapeOnly}
	switch {
	case week != "" && backfill:
		return opts, errors.New("--week and --backfill are mutually exclusive")
	case week != "":
		w, err := isoweek.Parse(week)
		if err != nil {
			return opts, err
		}
		opts.Mode = ModeWeek
		opts.Week = w
	case backfill:
		opts.Mode = ModeBackfill
		opts.Weeks = weeks
	case weeks != 0:
		return opts, errors.New("--weeks requires --backfill")
	}
	return opts, opts.Validate()
}

// BrandResult は 1 ブランドの結果です。Err が nil でなければ Stage の段階で失敗しています。
type BrandResult struct {
	Brand    config.Brand   `json:"brand"`
	Ingest   *ingest.Result `json:"-"`
	Fetched  int            `json:"fetched"`
	New      int            `json:"new"`
	Weeks    int            `json:"weeks"`
	Updated  int            `json:"rows_updated"`
	Appended int            `json:"rows_appended"`
	Stage    string         `json:"stage,omitempty"`
	Kind     apperrors.Kind `json:"kind,omitempty"`
	Err      error          `json:"-"`
	Error    string         `json:"error,omitempty"`
}

func (b BrandResult) OK() bool { return b.Err == nil }

// RunResult は実行全体の結果です。
type RunResult struct {
	ID         uuid.UUID     `json:"id"`
	Mode       Mode          `json:"mode"`
	Week       string        `json:"week"`
	Brands     []BrandResult `json:"brands"`
	Status     Status        `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ExitCode はプロセスの終了コードです。succeeded=0, partial=2, failed=1。
func (r RunResult) ExitCode() int {
	switch r.Status {
	case StatusSucceeded:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}

// FailedBrands は失敗したブランド名です。
func (r RunResult) FailedBrands() []string {
	var names []string
	for _, b := range r.Brands {
		if !b.OK() {
			names = append(names, b.Brand.Name)
		}
	}
	return names
}

type Ingester interface {
	IngestBrand(ctx context.Context, brand config.Brand) ingest.Result
}

type Companies interface {
	CompanyByDomain(ctx context.Context, domain string) (*model.Company, error)
}

type Rollup interface {
	Weeks(ctx context.Context, company *model.Company, weeks []isoweek.Week) ([]rollup.Summary, error)
	BackfillWeeks(ctx context.Context, companyID uint, through isoweek.Week) ([]isoweek.Week, error)
}

type Sink interface {
	Resolve(ctx context.Context) error
	Write(ctx context.Context, rows []sheets.Row) (sheets.WriteResult, error)
}

type Runner struct {
	ingester  Ingester
	companies Companies
	rollup    Rollup
	sink      Sink
	brands    []config.Brand
	workers   int
	log       *logger.Logger
	now       func() time.Time
}

// NewRunner は sink が nil の場合、レポートを出力しない実行 (SkipReport) しか受け付けません。
func NewRunner(ingester Ingester, companies Companies, rollup Rollup, sink Sink, brands []config.Brand, workers int, log *logger.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		ingester:  ingester,
		companies: companies,
		rollup:    rollup,
		sink:      sink,
		brands:    brands,
		workers:   workers,
		log:       log.With("component", "job"),
		now:       time.Now,
	}
}

// Run は全ブランドを処理します。ブランド単位の失敗は記録して続行し、
// 出力先が解決できない場合は残りのブランドを中止して failed になります。
func (r *Runner) Run(ctx context.Context, opts Options) RunResult {
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	if opts.Mode == "" {
		opts.Mode = ModeLastCompleted
	}
	res := RunResult{ID: opts.ID, Mode: opts.Mode, StartedAt: r.now().UTC()}
	log := r.log.With("run_id", opts.ID.String(), "mode", string(opts.Mode))

	fail := func(err error) RunResult {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.FinishedAt = r.now().UTC()
		log.Error("run failed", "week", res.Week, "kind", apperrors.KindOf(err), "error", err)
		return res
	}

	if err := opts.Validate(); err != nil {
		return fail(err)
	}
	if !opts.SkipReport && r.sink == nil {
		return fail(errors.New("no report destination configured"))
	}

	target := isoweek.LastCompleted(r.now())
	if opts.Mode == ModeWeek {
		target = opts.Week
	}
	res.Week = target.String()
	log.Info("run started", "week", res.Week, "brands", len(r.brands), "workers", r.workers,
		"skip_scrape", opts.SkipScrape, "skip_report", opts.SkipReport)

	if !opts.SkipReport {
		if err := r.sink.Resolve(ctx); err != nil {
			return fail(err)
		}
	}

	res.Brands = make([]BrandResult, len(r.brands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, brand := range r.brands {
		g.Go(func() error {
			br := r.runBrand(gctx, brand, opts, target, log)
			res.Brands[i] = br
			if apperrors.IsDestination(br.Err) {
				return br.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	ok := 0
	for _, b := range res.Brands {
		if b.OK() {
			ok++
		}
	}
	switch {
	case ok == len(res.Brands) && ok > 0:
		res.Status = StatusSucceeded
	case ok == 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusPartial
	}
	res.FinishedAt = r.now().UTC()

	failed := r.failedSummary(res)
	if res.Status == StatusSucceeded {
		log.Info("run finished", "status", res.Status, "week", res.Week, "brands", len(res.Brands),
			"elapsed", res.FinishedAt.Sub(res.StartedAt).String())
	} else {
		log.Warn("run finished", "status", res.Status, "week", res.Week, "brands", len(res.Brands),
			"failed", failed, "elapsed", res.FinishedAt.Sub(res.StartedAt).String())
	}
	return res
}

func (r *Runner) failedSummary(res RunResult) string {
	var parts []string
	for _, b := range res.Brands {
		if !b.OK() {
			parts = append(parts, fmt.Sprintf("%s (%s/%s)", b.Brand.Name, b.Stage, b.Kind))
		}
	}
	return strings.Join(parts, ", ")
}

// runBrand は 1 ブランドの処理をひとまとまりで行います。
func (r *Runner) runBrand(ctx context.Context, brand config.Brand, opts Options, target isoweek.Week, log *logger.Logger) BrandResult {
	br := BrandResult{Brand: brand}
	log = log.With("brand", brand.Name)
	week := target.String()

	fail := func(stage string, err error) BrandResult {
		br.Stage = stage
		br.Err = err
		br.Kind = apperrors.KindOf(err)
		br.Error = err.Error()
		log.Error("brand failed", "week", week, "stage", stage, "kind", br.Kind, "error", err)
		return br
	}

	if err := ctx.Err(); err != nil {
		return fail(StageIngest, err)
	}

	if !opts.SkipScrape {
		ir := r.ingester.IngestBrand(ctx, brand)
		br.Ingest = &ir
		br.Fetched = ir.Fetched
		br.New = ir.New
		if ir.Err != nil {
			return fail(StageIngest, ir.Err)
		}
	}

	company, err := r.companies.CompanyByDomain(ctx, brand.Domain)
	if errors.Is(err, repository.ErrNotFound) {
		return fail(StageRollup, apperrors.New(apperrors.KindUnknown, "rollup", brand.Name,
			fmt.Errorf("company %s has not been ingested yet", brand.Domain)))
	}
	if err != nil {
		return fail(StageRollup, err)
	}
	if brand.Name != "" {
		company.DisplayName = brand.Name
	}

	weeks := []isoweek.Week{target}
	if opts.Mode == ModeBackfill {
		weeks, err = r.rollup.BackfillWeeks(ctx, company.ID, target)
		if err != nil {
			return fail(StageRollup, err)
		}
		if opts.Weeks > 0 && len(weeks) > opts.Weeks {
			weeks = weeks[len(weeks)-opts.Weeks:]
		}
		if len(weeks) > 0 {
			week = weeks[0].String() + ".." + weeks[len(weeks)-1].String()
		}
	}
	if len(weeks) == 0 {
		log.Info("no reviews to report", "week", week)
		return br
	}

	summaries, err := r.rollup.Weeks(ctx, company, weeks)
	if err != nil {
		return fail(StageRollup, err)
	}
	br.Weeks = len(summaries)

	if opts.SkipReport {
		log.Info("brand done", "week", week, "weeks", br.Weeks, "fetched", br.Fetched, "new", br.New)
		return br
	}

	rows := make([]sheets.Row, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, sheets.RowFrom(s))
	}
	wr, err := r.sink.Write(ctx, rows)
	if err != nil {
		return fail(StageReport, err)
	}
	br.Updated = wr.Updated
	br.Appended = wr.Appended
	log.Info("brand done", "week", week, "weeks", br.Weeks, "fetched", br.Fetched, "new", br.New,
		"rows_updated", br.Updated, "rows_appended", br.Appended)
	return br
}
