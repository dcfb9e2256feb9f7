package scraper

import (
	"time"

	"github.com/shopspring/decimal"
)

// BusinessUnit は会社ページの props.pageProps.businessUnit です。
type BusinessUnit struct {
	ID              string              `json:"id"`
	DisplayName     string              `json:"displayName"`
	WebsiteURL      string              `json:"websiteUrl"`
	ProfileImageURL string              `json:"profileImageUrl"`
	NumberOfReviews int                 `json:"numberOfReviews"`
	TrustScore      decimal.NullDecimal `json:"trustScore"`
	Stars           decimal.NullDecimal `json:"stars"`
	IsClaimed       bool                `json:"isClaimed"`
	Categories      []Category          `json:"categories"`
}

type Category struct {
	Name string `json:"name"`
}

// CategoryNames は空の名前を除いたカテゴリ名です。
func (b *BusinessUnit) CategoryNames() []string {
	names := make([]string, 0, len(b.Categories))
	for _, c := range b.Categories {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}

// AISummary は props.pageProps.aiSummary です。
type AISummary struct {
	Summary      string     `json:"summary"`
	UpdatedAt    *time.Time `json:"updatedAt"`
	Lang         string     `json:"lang"`
	ModelVersion string     `json:"modelVersion"`
}

// Review は props.pageProps.reviews の 1 件です。
type Review struct {
	ID         string `json:"id"`
	Rating     int    `json:"rating"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	Language   string `json:"language"`
	IsVerified bool   `json:"isVerified"`
	Labels     struct {
		Verification struct {
			IsVerified bool `json:"isVerified"`
		} `json:"verification"`
	} `json:"labels"`
	Consumer struct {
		DisplayName     string `json:"displayName"`
		ID              string `json:"id"`
		NumberOfReviews int    `json:"numberOfReviews"`
		CountryCode     string `json:"countryCode"`
	} `json:"consumer"`
	Dates struct {
		PublishedDate   time.Time  `json:"publishedDate"`
		UpdatedDate     *time.Time `json:"updatedDate"`
		ExperiencedDate *time.Time `json:"experiencedDate"`
	} `json:"dates"`
	Reply *Reply `json:"reply"`
}

type Reply struct {
	Message       string     `json:"message"`
	PublishedDate *time.Time `json:"publishedDate"`
}

// Verified は古い形式 (isVerified) と新しい形式 (labels.verification) の両方を見ます。
func (r *Review) Verified() bool {
	return r.IsVerified || r.Labels.Verification.IsVerified
}

// Edited は公開後に更新日時が付いたかを返します。
func (r *Review) Edited() bool {
	return r.Dates.UpdatedDate != nil && !r.Dates.UpdatedDate.Equal(r.Dates.PublishedDate)
}

// CompanyPage は会社ページ 1 枚目 (フィルタなし) から取れる情報です。
type CompanyPage struct {
	BusinessUnit BusinessUnit
	AISummary    *AISummary
}

// ReviewPage はレビュー一覧の 1 ページです。Skipped は形式が不正で捨てたレビュー数です。
type ReviewPage struct {
	Number  int
	Reviews []Review
	Skipped int
}
