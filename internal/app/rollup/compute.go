// Package rollup は会社 × ISO 週の集計を計算します。
//
// 平均値と割合は小数第 2 位で四捨五入 (0 から遠い方へ) します。
// 割合は分母が 0 の場合 0、平均はレビューが無い場合 nil (未定義) です。
package rollup

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"review_pipeline/internal/app/isoweek"
	"review_pipeline/internal/app/model"
	"review_pipeline/internal/app/topics"
)

var hundred = decimal.NewFromInt(100)

// Count はキーごとの件数です (国, 言語, テーマ)。
type Count struct {
	Key   string
	Count int
}

// Summary は 1 社 1 週分の集計です。
type Summary struct {
	CompanyID   uint
	Domain      string
	Brand       string
	BusinessID  string
	Website     string
	Week        isoweek.Week
	GeneratedAt time.Time

	TrustScore   decimal.NullDecimal
	TotalReviews int
	IsClaimed    bool
	Categories   []string
	LogoURL      string
	AISummary    string

	ReviewCount int
	// RatingHistogram[i] は (i+1) つ星の件数です。
	RatingHistogram [5]int
	MeanRating      *decimal.Decimal

	VerifiedCount   int
	UnverifiedCount int
	VerifiedMean    *decimal.Decimal
	UnverifiedMean  *decimal.Decimal

	ReplyCount       int
	ReplyRate        decimal.Decimal
	AvgResponseHours *decimal.Decimal
	AvgResponseDays  *decimal.Decimal
	EditedCount      int

	PositiveCount int
	NeutralCount  int
	NegativeCount int
	PositivePct   decimal.Decimal
	NeutralPct    decimal.Decimal
	NegativePct   decimal.Decimal

	ByCountry  []Count
	ByLanguage []Count

	PreviousCount   int
	PreviousMean    *decimal.Decimal
	VolumeChange    int
	VolumeChangePct *decimal.Decimal
	RatingChange    *decimal.Decimal

	PositiveThemes []Count
	NegativeThemes []Count
}

// Input は Compute の入力です。Reviews は対象週、Previous は前週のレビューです。
type Input struct {
	Company    *model.Company
	Week       isoweek.Week
	Reviews    []model.Review
	Previous   []model.Review
	Matcher    *topics.Matcher
	ThemeLimit int
	Now        time.Time
}

// Compute は集計を計算します。DB にも時計にも触れません。
func Compute(in Input) Summary {
	s := Summary{Week: in.Week, GeneratedAt: in.Now}
	if c := in.Company; c != nil {
		s.CompanyID = c.ID
		s.Domain = c.Name
		s.Brand = c.DisplayName
		s.BusinessID = c.BusinessID
		s.Website = c.WebsiteURL
		s.TrustScore = c.TrustScore
		s.TotalReviews = c.TotalReviews
		s.IsClaimed = c.IsClaimed
		s.Categories = c.CategoryNames()
		s.LogoURL = c.LogoURL
		if c.AISummary != nil {
			s.AISummary = c.AISummary.SummaryText
		}
	}

	var (
		ratingSum, verifiedSum, unverifiedSum int64
		responseHours                         []decimal.Decimal
		countries                             = map[string]int{}
		languages                             = map[string]int{}
		positiveTexts, negativeTexts          []string
	)
	for i := range in.Reviews {
		r := &in.Reviews[i]
		s.ReviewCount++
		ratingSum += int64(r.Rating)
		if r.Rating >= 1 && r.Rating <= 5 {
			s.RatingHistogram[r.Rating-1]++
		}

		if r.Verified {
			s.VerifiedCount++
			verifiedSum += int64(r.Rating)
		} else {
			s.UnverifiedCount++
			unverifiedSum += int64(r.Rating)
		}

		if r.HasReply() {
			s.ReplyCount++
			if r.ReplyDate != nil && !r.ReplyDate.Before(r.ReviewDate) {
				hours := decimal.NewFromFloat(r.ReplyDate.Sub(r.ReviewDate).Hours())
				responseHours = append(responseHours, hours)
			}
		}
		if r.IsEdited {
			s.EditedCount++
		}

		switch {
		case r.Rating >= 4:
			s.PositiveCount++
			positiveTexts = append(positiveTexts, r.Body())
		case r.Rating == 3:
			s.NeutralCount++
		default:
			s.NegativeCount++
			negativeTexts = append(negativeTexts, r.Body())
		}

		countries[orUnknown(r.AuthorCountryCode)]++
		languages[orUnknown(r.Language)]++
	}

	s.MeanRating = mean(ratingSum, s.ReviewCount)
	s.VerifiedMean = mean(verifiedSum, s.VerifiedCount)
	s.UnverifiedMean = mean(unverifiedSum, s.UnverifiedCount)
	s.ReplyRate = Rate(s.ReplyCount, s.ReviewCount)
	s.PositivePct = Rate(s.PositiveCount, s.ReviewCount)
	s.NeutralPct = Rate(s.NeutralCount, s.ReviewCount)
	s.NegativePct = Rate(s.NegativeCount, s.ReviewCount)
	s.ByCountry = sortedCounts(countries, 0)
	s.ByLanguage = sortedCounts(languages, 0)

	if len(responseHours) > 0 {
		avg := decimal.Avg(responseHours[0], responseHours[1:]...)
		hours := avg.Round(2)
		days := avg.Div(decimal.NewFromInt(24)).Round(2)
		s.AvgResponseHours = &hours
		s.AvgResponseDays = &days
	}

	var prevSum int64
	for _, r := range in.Previous {
		prevSum += int64(r.Rating)
	}
	s.PreviousCount = len(in.Previous)
	s.PreviousMean = mean(prevSum, s.PreviousCount)
	s.VolumeChange = s.ReviewCount - s.PreviousCount
	if s.PreviousCount > 0 {
		pct := decimal.NewFromInt(int64(s.VolumeChange)).Mul(hundred).Div(decimal.NewFromInt(int64(s.PreviousCount))).Round(2)
		s.VolumeChangePct = &pct
	}
	if s.MeanRating != nil && s.PreviousMean != nil {
		change := s.MeanRating.Sub(*s.PreviousMean)
		s.RatingChange = &change
	}

	if in.Matcher != nil {
		s.PositiveThemes = sortedCounts(in.Matcher.Count(positiveTexts), in.ThemeLimit)
		s.NegativeThemes = sortedCounts(in.Matcher.Count(negativeTexts), in.ThemeLimit)
	}
	return s
}

// Rate は count / total * 100 を小数第 2 位で丸めます。total が 0 の場合は 0 です。
func Rate(count, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(count)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(2)
}

func mean(sum int64, n int) *decimal.Decimal {
	if n == 0 {
		return nil
	}
	m := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(n))).Round(2)
	return &m
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// sortedCounts は件数の降順、同数はキーの昇順に並べます。limit が 0 以下なら全件です。
func sortedCounts(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		if v > 0 {
			out = append(out, Count{Key: k, Count: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
