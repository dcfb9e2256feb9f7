// Package repository は companies / reviews / topics などのテーブルへの読み書きをまとめます。
// 書き込みはすべて一意制約に対する INSERT ... ON CONFLICT で行い、読み取りしてから書く処理はしません。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/model"
)

// ErrNotFound は対象の行が存在しないことを表します。
var ErrNotFound = errors.New("record not found")

// reviews の ON CONFLICT で更新してよいカラムです。review_id, company_id, review_date,
// 投稿者の識別情報、experience_date、created_at は初回の値を保持します。
var mutableReviewColumns = []string{
	"title", "text", "text_en", "rating", "verified", "reply_message", "reply_date",
	"updated_date", "is_edited", "language", "author_review_count", "scraped_at",
}

var mutableCompanyColumns = []string{
	"name", "display_name", "website_url", "logo_url", "total_reviews", "trust_score",
	"stars", "is_claimed", "categories", "last_scraped_at", "updated_at",
}

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB はトランザクションやテストのために内部のハンドルを返します。
func (r *Repository) DB() *gorm.DB { return r.db }

// UpsertCompany は business_id をキーに会社を登録または更新します。c.ID は登録後の ID になります。
func (r *Repository) UpsertCompany(ctx context.Context, c *model.Company) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}},
		DoUpdates: clause.AssignmentColumns(mutableCompanyColumns),
	}).Create(c).Error
	return wrap("upsert company", c.Name, err)
}

// UpsertAISummary は company_id をキーに要約を登録または更新します。
func (r *Repository) UpsertAISummary(ctx context.Context, s *model.AISummary) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary_text", "summary_language", "model_version", "source_updated_at", "updated_at"}),
	}).Create(s).Error
	return wrap("upsert ai summary", "", err)
}

// UpsertReviews は review_id をキーにレビューを batchSize 件ずつ登録または更新します。
// 同じ内容で何度呼んでも行数は増えません。
func (r *Repository) UpsertReviews(ctx context.Context, reviews []model.Review, batchSize int) error {
	if len(reviews) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(reviews)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "review_id"}},
		DoUpdates: clause.AssignmentColumns(mutableReviewColumns),
	}).CreateInBatches(reviews, batchSize).Error
	return wrap("upsert reviews", "", err)
}

// ExistingReviewIDs は ids のうち既に保存されているものを返します。
func (r *Repository) ExistingReviewIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []string
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Where("review_id IN ?", ids).
		Pluck("review_id", &existing).Error
	if err != nil {
		return nil, wrap("existing review ids", "", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// ReviewsBetween は [from, to) に投稿された company のレビューを投稿日時順に返します。
func (r *Repository) ReviewsBetween(ctx context.Context, companyID uint, from, to time.Time) ([]model.Review, error) {
	var reviews []model.Review
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND review_date >= ? AND review_date < ?", companyID, from, to).
		Order("review_date ASC, id ASC").
		Find(&reviews).Error
	return reviews, wrap("reviews between", "", err)
}

// CompanyByDomain は Trustpilot のドメインで会社を探します。見つからなければ ErrNotFound です。
func (r *Repository) CompanyByDomain(ctx context.Context, domain string) (*model.Company, error) {
	var c model.Company
	err := r.db.WithContext(ctx).Preload("AISummary").Where("name = ?", domain).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("company by domain", domain, err)
	}
	return &c, nil
}

// BrandStats は会社ごとのレビュー件数と最初/最後の投稿日時です。
type BrandStats struct {
	ReviewCount int64
	FirstReview *time.Time
	LastReview  *time.Time
}

func (r *Repository) BrandStats(ctx context.Context, companyID uint) (BrandStats, error) {
	var row struct {
		ReviewCount int64
		FirstReview *time.Time
		LastReview  *time.Time
	}
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Select("COUNT(*) AS review_count, MIN(review_date) AS first_review, MAX(review_date) AS last_review").
		Where("company_id = ?", companyID).
		Scan(&row).Error
	if err != nil {
		return BrandStats{}, wrap("brand stats", "", err)
	}
	return BrandStats(row), nil
}

// UpsertTopics はトピック辞書を topic_key をキーに登録または更新します。
func (r *Repository) UpsertTopics(ctx context.Context, topics []model.Topic) error {
	if len(topics) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "topic_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"topic_name", "search_terms"}),
	}).Create(&topics).Error
	return wrap("upsert topics", "", err)
}

// EnsureTopics は辞書に無いトピックだけを追加し、指定したキーの行をすべて返します。
// 既存の辞書項目 (名前や検索語) は変更しません。
func (r *Repository) EnsureTopics(ctx context.Context, topics []model.Topic) (map[string]model.Topic, error) {
	result := make(map[string]model.Topic, len(topics))
	if len(topics) == 0 {
		return result, nil
	}
	tx := r.db.WithContext(ctx)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&topics).Error; err != nil {
		return nil, wrap("ensure topics", "", err)
	}
	keys := make([]string, 0, len(topics))
	for _, t := range topics {
		keys = append(keys, t.TopicKey)
	}
	var stored []model.Topic
	if err := tx.Where("topic_key IN ?", keys).Find(&stored).Error; err != nil {
		return nil, wrap("ensure topics", "", err)
	}
	for _, t := range stored {
		result[t.TopicKey] = t
	}
	return result, nil
}

// AllTopics はトピック辞書全体をキー順で返します。
func (r *Repository) AllTopics(ctx context.Context) ([]model.Topic, error) {
	var topics []model.Topic
	err := r.db.WithContext(ctx).Order("topic_key").Find(&topics).Error
	return topics, wrap("all topics", "", err)
}

// ReplaceCompanyTopics は会社のトピックを topicIDs (先頭が rank 1) で置き換えます。
// 前回のスクレイプにしか無かったトピックは残りません。
func (r *Repository) ReplaceCompanyTopics(ctx context.Context, companyID uint, topicIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("company_id = ?", companyID).Delete(&model.CompanyTopic{}).Error; err != nil {
			return err
		}
		if len(topicIDs) == 0 {
			return nil
		}
		rows := make([]model.CompanyTopic, 0, len(topicIDs))
		seen := make(map[uint]bool, len(topicIDs))
		for _, id := range topicIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			rows = append(rows, model.CompanyTopic{CompanyID: companyID, TopicID: id, Rank: len(rows) + 1})
		}
		return tx.Create(&rows).Error
	})
	return wrap("replace company topics", "", err)
}

// CompanyTopics は会社のトピックを rank 順で返します。
func (r *Repository) CompanyTopics(ctx context.Context, companyID uint) ([]model.Topic, error) {
	var rows []model.CompanyTopic
	err := r.db.WithContext(ctx).Preload("Topic").
		Where("company_id = ?", companyID).
		Order("rank").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("company topics", "", err)
	}
	topics := make([]model.Topic, 0, len(rows))
	for _, row := range rows {
		if row.Topic != nil {
			topics = append(topics, *row.Topic)
		}
	}
	return topics, nil
}

// DeleteCompany は会社を削除します。レビュー、要約、トピックは外部キーの CASCADE で消えます。
func (r *Repository) DeleteCompany(ctx context.Context, companyID uint) error {
	res := r.db.WithContext(ctx).Delete(&model.Company{}, companyID)
	if res.Error != nil {
		return wrap("delete company", "", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// wrap は DB のエラーを DatabaseError に変換します。PostgreSQL のエラーは SQLSTATE をメッセージに残します。
func wrap(op, brand string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return apperrors.New(apperrors.KindDatabase, op, brand, fmt.Errorf("%w (sqlstate %s)", err, pgErr.Code))
	}
	return apperrors.New(apperrors.KindDatabase, op, brand, err)
}

// IsUniqueViolation は err が一意制約違反 (23505) かを返します。
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
