// Package sheets は週次集計を Google スプレッドシートの raw_data タブへ書き込みます。
//
// 行は (brand_name, iso_week) をキーとし、既にある行はその場で更新、無い行だけを追記します。
package sheets

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"review_pipeline/internal/app/rollup"
)

// Columns は raw_data タブの列順です。並び替えると既存シートと整合しなくなります。
var Columns = []string{
	"iso_week", "week_start", "week_end", "brand_name",
	"website", "business_id", "trust_score", "total_reviews_alltime", "is_claimed", "categories", "logo_url",
	"reviews_this_week", "reviews_last_week", "wow_change", "wow_change_pct",
	"avg_rating", "avg_rating_last_week", "rating_wow_change",
	"positive_count", "positive_pct", "neutral_count", "neutral_pct", "negative_count", "negative_pct",
	"rating_5_star", "rating_4_star", "rating_3_star", "rating_2_star", "rating_1_star",
	"reviews_with_reply", "response_rate_pct", "avg_response_hours", "avg_response_days", "reviews_edited",
	"verified_count", "unverified_count", "avg_rating_verified", "avg_rating_unverified",
	"reviews_by_country", "reviews_by_language",
	"top_language_1", "top_language_1_count", "top_language_2", "top_language_2_count", "top_language_3", "top_language_3_count",
	"top_country_1", "top_country_1_count", "top_country_2", "top_country_2_count", "top_country_3", "top_country_3_count",
	"positive_theme_1", "positive_theme_1_count", "positive_theme_2", "positive_theme_2_count", "positive_theme_3", "positive_theme_3_count",
	"negative_theme_1", "negative_theme_1_count", "negative_theme_2", "negative_theme_2_count", "negative_theme_3", "negative_theme_3_count",
	"ai_summary",
	"generated_at",
}

// キー列 (0 始まり)。
const (
	weekColumn  = 0
	brandColumn = 3
)

const topN = 3

// Key は行の識別子です。
type Key struct {
	Brand string
	Week  string
}

func (k Key) String() string { return k.Brand + "/" + k.Week }

// Row は 1 行分の値です。Values は Columns と同じ順序・長さです。
type Row struct {
	Key    Key
	Values []interface{}
}

// RowFrom は集計から行を作ります。値が未定義の項目は空欄です。
func RowFrom(s rollup.Summary) Row {
	v := make([]interface{}, 0, len(Columns))
	v = append(v,
		s.Week.String(),
		s.Week.Start().Format(time.DateOnly),
		s.Week.LastDay().Format(time.DateOnly),
		s.Brand,
		s.Website,
		s.BusinessID,
		nullDecimal(s.TrustScore),
		s.TotalReviews,
		s.IsClaimed,
		strings.Join(s.Categories, ", "),
		s.LogoURL,
		s.ReviewCount,
		s.PreviousCount,
		s.VolumeChange,
		optDecimal(s.VolumeChangePct),
		optDecimal(s.MeanRating),
		optDecimal(s.PreviousMean),
		optDecimal(s.RatingChange),
		s.PositiveCount, fixed(s.PositivePct),
		s.NeutralCount, fixed(s.NeutralPct),
		s.NegativeCount, fixed(s.NegativePct),
		s.RatingHistogram[4], s.RatingHistogram[3], s.RatingHistogram[2], s.RatingHistogram[1], s.RatingHistogram[0],
		s.ReplyCount,
		fixed(s.ReplyRate),
		optDecimal(s.AvgResponseHours),
		optDecimal(s.AvgResponseDays),
		s.EditedCount,
		s.VerifiedCount,
		s.UnverifiedCount,
		optDecimal(s.VerifiedMean),
		optDecimal(s.UnverifiedMean),
		joinCounts(s.ByCountry),
		joinCounts(s.ByLanguage),
	)
	v = appendTop(v, s.ByLanguage)
	v = appendTop(v, s.ByCountry)
	v = appendTop(v, s.PositiveThemes)
	v = appendTop(v, s.NegativeThemes)
	v = append(v, s.AISummary, s.GeneratedAt.UTC().Format(time.RFC3339))

	return Row{Key: Key{Brand: s.Brand, Week: s.Week.String()}, Values: v}
}

// Header はヘッダー行です。
func Header() []interface{} {
	h := make([]interface{}, len(Columns))
	for i, c := range Columns {
		h[i] = c
	}
	return h
}

// keyOf はシートから読んだ行のキーを返します。キー列が欠けている行は ok=false です。
func keyOf(values []interface{}) (Key, bool) {
	if len(values) <= brandColumn {
		return Key{}, false
	}
	week := strings.TrimSpace(fmt.Sprint(values[weekColumn]))
	brand := strings.TrimSpace(fmt.Sprint(values[brandColumn]))
	if week == "" || brand == "" {
		return Key{}, false
	}
	return Key{Brand: brand, Week: week}, true
}

func fixed(d decimal.Decimal) string { return d.StringFixed(2) }

func optDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// joinCounts は "GB: 3, US: 1" 形式です。
func joinCounts(counts []rollup.Count) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s: %d", c.Key, c.Count))
	}
	return strings.Join(parts, ", ")
}

func appendTop(v []interface{}, counts []rollup.Count) []interface{} {
	for i := 0; i < topN; i++ {
		if i < len(counts) {
			v = append(v, counts[i].Key, counts[i].Count)
		} else {
			v = append(v, "", "")
		}
	}
	return v
}
