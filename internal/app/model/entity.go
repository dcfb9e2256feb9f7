package model

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Company は監視対象ブランドです。Name は Trustpilot 上のドメイン (例: ketogo.app) です。
type Company struct {
	ID            uint   `gorm:"primaryKey"`
	Name          string `gorm:"not null;uniqueIndex"`
	BusinessID    string `gorm:"not null;uniqueIndex"`
	DisplayName   string `gorm:"not null;uniqueIndex"`
	WebsiteURL    string
	LogoURL       string
	TotalReviews  int                 `gorm:"not null;default:0"`
	TrustScore    decimal.NullDecimal `gorm:"type:numeric(3,2)"`
	Stars         decimal.NullDecimal `gorm:"type:numeric(2,1)"`
	IsClaimed     bool                `gorm:"not null;default:false"`
	Categories    datatypes.JSON      `gorm:"type:jsonb"`
	LastScrapedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	AISummary *AISummary     `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
	Reviews   []Review       `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
	Topics    []CompanyTopic `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
}

// CategoryNames は categories カラムを文字列のスライスとして返します。
func (c *Company) CategoryNames() []string {
	var names []string
	if len(c.Categories) == 0 {
		return names
	}
	_ = json.Unmarshal(c.Categories, &names)
	return names
}

// SetCategories は categories カラムを JSON 配列で設定します。
func (c *Company) SetCategories(names []string) {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(names)
	c.Categories = datatypes.JSON(b)
}

// AISummary は Trustpilot が生成したレビュー要約です。会社ごとに 1 行です。
type AISummary struct {
	ID              uint   `gorm:"primaryKey"`
	CompanyID       uint   `gorm:"not null;uniqueIndex"`
	SummaryText     string `gorm:"not null"`
	SummaryLanguage string
	ModelVersion    string
	SourceUpdatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (AISummary) TableName() string { return "ai_summaries" }

// Review は 1 件のレビューです。ReviewID (Trustpilot の ID) が自然キーです。
type Review struct {
	ID                uint   `gorm:"primaryKey"`
	ReviewID          string `gorm:"not null;uniqueIndex"`
	CompanyID         uint   `gorm:"not null;index"`
	Rating            int16  `gorm:"not null"`
	Title             string
	Text              string
	TextEn            string
	AuthorName        string
	AuthorID          string
	AuthorCountryCode string
	AuthorReviewCount int
	ReviewDate        time.Time `gorm:"not null;index"`
	UpdatedDate       *time.Time
	ExperienceDate    *time.Time
	Verified          bool `gorm:"not null;default:false"`
	ReplyMessage      *string
	ReplyDate         *time.Time
	Language          string
	IsEdited          bool      `gorm:"not null;default:false"`
	ScrapedAt         time.Time `gorm:"not null"`
	CreatedAt         time.Time
}

// HasReply は返信本文があるかを返します。空文字の返信は返信なしとして扱います。
func (r *Review) HasReply() bool {
	return r.ReplyMessage != nil && *r.ReplyMessage != ""
}

// Body はテーマ抽出に使う本文です。翻訳があれば翻訳を優先します。
func (r *Review) Body() string {
	if r.TextEn != "" {
		return r.TextEn
	}
	return r.Text
}

// Topic はトピック辞書の 1 項目です。SearchTerms はレビュー本文の照合に使います。
type Topic struct {
	ID          uint           `gorm:"primaryKey"`
	TopicKey    string         `gorm:"not null;uniqueIndex"`
	TopicName   string         `gorm:"not null"`
	SearchTerms pq.StringArray `gorm:"type:text[]"`
	CreatedAt   time.Time
}

// CompanyTopic は会社ごとの「よく言及されるトピック」です。スクレイプのたびに全件置き換えます。
type CompanyTopic struct {
	ID        uint `gorm:"primaryKey"`
	CompanyID uint `gorm:"not null;uniqueIndex:idx_company_topic"`
	TopicID   uint `gorm:"not null;uniqueIndex:idx_company_topic"`
	Rank      int  `gorm:"not null;default:0"`
	CreatedAt time.Time

	Topic *Topic `gorm:"foreignKey:TopicID;constraint:OnDelete:CASCADE"`
}
