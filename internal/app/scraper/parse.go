package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type nextData struct {
	Props struct {
		PageProps struct {
			BusinessUnit *BusinessUnit    `json:"businessUnit"`
			Reviews      *json.RawMessage `json:"reviews"`
			AISummary    *AISummary       `json:"aiSummary"`
		} `json:"pageProps"`
	} `json:"props"`
}

// extractNextData は HTML から script#__NEXT_DATA__ の JSON を取り出して解析します。
func extractNextData(html []byte) (*nextData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	raw := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text())
	if raw == "" {
		return nil, errors.New("__NEXT_DATA__ script not found")
	}
	var data nextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode __NEXT_DATA__: %w", err)
	}
	return &data, nil
}

// parseCompanyPage は businessUnit と aiSummary を取り出します。businessUnit.id が無いページは不正です。
func parseCompanyPage(html []byte) (*CompanyPage, error) {
	data, err := extractNextData(html)
	if err != nil {
		return nil, err
	}
	bu := data.Props.PageProps.BusinessUnit
	if bu == nil || bu.ID == "" {
		return nil, errors.New("props.pageProps.businessUnit.id missing")
	}
	if bu.DisplayName == "" {
		return nil, errors.New("props.pageProps.businessUnit.displayName missing")
	}
	if strings.HasPrefix(bu.ProfileImageURL, "//") {
		bu.ProfileImageURL = "https:" + bu.ProfileImageURL
	}
	if !bu.Stars.Valid {
		bu.Stars = bu.TrustScore
	}

	page := &CompanyPage{BusinessUnit: *bu}
	if s := data.Props.PageProps.AISummary; s != nil && s.Summary != "" {
		page.AISummary = s
	}
	return page, nil
}

// parseReviewPage はレビューを 1 件ずつ検証します。不正なレビューは捨てて Skipped に数えます。
// reviews キー自体が無い場合はページ全体が不正です。
func parseReviewPage(html []byte, number int) (*ReviewPage, error) {
	data, err := extractNextData(html)
	if err != nil {
		return nil, err
	}
	if data.Props.PageProps.Reviews == nil {
		return nil, errors.New("props.pageProps.reviews missing")
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(*data.Props.PageProps.Reviews, &raws); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}

	page := &ReviewPage{Number: number, Reviews: make([]Review, 0, len(raws))}
	for _, raw := range raws {
		var r Review
		if err := json.Unmarshal(raw, &r); err != nil || !valid(&r) {
			page.Skipped++
			continue
		}
		page.Reviews = append(page.Reviews, r)
	}
	return page, nil
}

func valid(r *Review) bool {
	return r.ID != "" && r.Rating >= 1 && r.Rating <= 5 && !r.Dates.PublishedDate.IsZero()
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

func parseTopics(body []byte) ([]string, error) {
	var resp topicsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	return resp.Topics, nil
}
