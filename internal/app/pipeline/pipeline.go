// Package pipeline は設定から DB・取得クライアント・集計・シート出力を組み立てます。
// cmd/batch と cmd/api の両方から使います。
package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/db"
	"review_pipeline/internal/app/ingest"
	"review_pipeline/internal/app/job"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/repository"
	"review_pipeline/internal/app/rollup"
	"review_pipeline/internal/app/scraper"
	"review_pipeline/internal/app/sheets"
)

type Pipeline struct {
	Config *config.Config
	DB     *gorm.DB
	Repo   *repository.Repository
	log    *logger.Logger
}

// Open は DB に接続します。migrate が true ならスキーマを最新にします。
func Open(ctx context.Context, cfg *config.Config, migrate bool, log *logger.Logger) (*Pipeline, error) {
	if migrate {
		if err := db.RunMigrations(ctx, cfg.Database.DSN(), log); err != nil {
			return nil, err
		}
	}
	gormDB, err := db.ConnectDatabase(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Config: cfg, DB: gormDB, Repo: repository.New(gormDB), log: log}, nil
}

// SQLDB はヘルスチェック用です。
func (p *Pipeline) SQLDB() (*sql.DB, error) {
	return p.DB.DB()
}

// NewRunner はジョブを組み立てます。withReport が false の場合シートには接続しません。
func (p *Pipeline) NewRunner(ctx context.Context, withReport bool) (*job.Runner, error) {
	if !withReport {
		return p.RunnerWith(nil), nil
	}
	if err := p.Config.ValidateSheets(); err != nil {
		return nil, err
	}
	dest, err := sheets.NewGoogleDestination(ctx, p.Config.Sheets, p.log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up report destination: %w", err)
	}
	return p.RunnerWith(dest), nil
}

// RunnerWith は dest へ出力するジョブを組み立てます。dest が nil なら出力しません。
func (p *Pipeline) RunnerWith(dest sheets.Destination) *job.Runner {
	cfg := p.Config
	client := scraper.NewClient(cfg.Source, p.log)
	ingestSvc := ingest.NewService(client, p.Repo, cfg.Source, p.log)
	rollupSvc := rollup.NewService(p.Repo, cfg.Job.ThemeLimit, p.log)

	var sink job.Sink
	if dest != nil {
		sink = sheets.NewSink(dest, cfg.Sheets.SortDescending, p.log)
	}
	return job.NewRunner(ingestSvc, p.Repo, rollupSvc, sink, cfg.Brands, cfg.Job.Workers, p.log)
}

// DeleteBrand は domain の会社と、そのレビュー・要約・トピックをすべて削除します。
func (p *Pipeline) DeleteBrand(ctx context.Context, domain string) (*model.Company, error) {
	company, err := p.Repo.CompanyByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if err := p.Repo.DeleteCompany(ctx, company.ID); err != nil {
		return nil, err
	}
	p.log.Info("company deleted", "domain", domain, "company_id", company.ID)
	return company, nil
}

func (p *Pipeline) Close() {
	if err := db.Close(p.DB); err != nil {
		p.log.Warn("failed to close database", "error", err)
	}
}
