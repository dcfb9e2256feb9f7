// Package scraper は Trustpilot の会社ページとレビュー一覧を取得します。
//
// ページは HTML に埋め込まれた __NEXT_DATA__ の JSON から読み取ります。
// HTTP ステータスは apperrors の種別に変換します (401/403 は SourceAuth、429 と 5xx は RateLimited)。
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/retry"
)

// ErrNoMorePages はページ番号が範囲外 (404) であることを表します。ページ送りの終了条件です。
var ErrNoMorePages = errors.New("no more review pages")

const maxBodyBytes = 16 << 20

type Client struct {
	http      *http.Client
	baseURL   string
	jwt       string
	userAgent string
	limiter   *rate.Limiter
	retry     *retry.Config
	log       *logger.Logger
	now       func() time.Time
}

// NewClient は cfg の値で Client を作成します。すべてのリクエストに cfg.HTTPTimeout が掛かります。
func NewClient(cfg config.SourceConfig, log *logger.Logger) *Client {
	interval := cfg.PageInterval
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		jwt:       cfg.JWT,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(limit, 1),
		retry: &retry.Config{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: retryInterval,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		log: log.With("component", "scraper"),
		now: time.Now,
	}
}

// CheckSession はセッション JWT の有効期限を確認します。署名は検証しません。
// JWT が未設定の場合は匿名アクセスとして扱います。
func (c *Client) CheckSession() error {
	if c.jwt == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.jwt, claims); err != nil {
		return apperrors.New(apperrors.KindSourceAuth, "check session", "", fmt.Errorf("malformed session jwt: %w", err))
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return apperrors.New(apperrors.KindSourceAuth, "check session", "", fmt.Errorf("invalid exp claim: %w", err))
	}
	if exp != nil && !exp.After(c.now()) {
		return apperrors.New(apperrors.KindSourceAuth, "check session", "",
			fmt.Errorf("session jwt expired at %s", exp.UTC().Format(time.RFC3339)))
	}
	if exp != nil {
		c.log.Debug("session jwt valid", "expires_at", exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// FetchCompany はフィルタなしの会社ページから会社情報と AI 要約を取得します。
func (c *Client) FetchCompany(ctx context.Context, domain string) (*CompanyPage, error) {
	body, err := c.get(ctx, c.companyURL(domain), domain)
	if err != nil {
		if errors.Is(err, ErrNoMorePages) {
			return nil, apperrors.New(apperrors.KindParse, "fetch company", domain, fmt.Errorf("company page not found for %s", domain))
		}
		return nil, err
	}
	page, err := parseCompanyPage(body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindParse, "fetch company", domain, err)
	}
	return page, nil
}

// FetchReviewPage はレビュー一覧の number ページ目を取得します。
// recent が true の場合は直近 30 日に絞ったページを取得します。
// 範囲外のページは ErrNoMorePages、形式が不正なページは ParseError です。
func (c *Client) FetchReviewPage(ctx context.Context, domain string, number int, recent bool) (*ReviewPage, error) {
	body, err := c.get(ctx, c.reviewsURL(domain, number, recent), domain)
	if err != nil {
		return nil, err
	}
	page, err := parseReviewPage(body, number)
	if err != nil {
		return nil, apperrors.New(apperrors.KindParse, "fetch review page "+strconv.Itoa(number), domain, err)
	}
	return page, nil
}

// FetchTopics は会社の「よく言及されるトピック」のキーを順位順に返します。
func (c *Client) FetchTopics(ctx context.Context, businessID, domain string) ([]string, error) {
	u := fmt.Sprintf("%s/api/businessunitprofile/businessunit/%s/service-reviews/topics", c.baseURL, url.PathEscape(businessID))
	body, err := c.get(ctx, u, domain)
	if err != nil {
		if errors.Is(err, ErrNoMorePages) {
			return nil, nil
		}
		return nil, err
	}
	topics, err := parseTopics(body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindParse, "fetch topics", domain, err)
	}
	return topics, nil
}

func (c *Client) companyURL(domain string) string {
	return c.baseURL + "/review/" + url.PathEscape(domain)
}

func (c *Client) reviewsURL(domain string, number int, recent bool) string {
	q := url.Values{}
	q.Set("languages", "all")
	if recent {
		q.Set("date", "last30days")
	}
	if number > 1 {
		q.Set("page", strconv.Itoa(number))
	}
	return c.companyURL(domain) + "?" + q.Encode()
}

// get はレート制限と再試行付きで GET します。RateLimited のみ再試行します。
func (c *Client) get(ctx context.Context, rawURL, brand string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retry, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.do(ctx, rawURL, brand)
		if apperrors.KindOf(err) == apperrors.KindRateLimited {
			c.log.Warn("rate limited, backing off", "brand", brand, "url", rawURL, "error", err)
		}
		return body, err
	})
}

func (c *Client) do(ctx context.Context, rawURL, brand string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if c.jwt != "" {
		req.Header.Set("Cookie", "jwt="+c.jwt)
	}

	c.log.Debug("GET", "brand", brand, "url", rawURL)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.New(apperrors.KindSourceAuth, "GET "+rawURL, brand, fmt.Errorf("source unreachable: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoMorePages
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.New(apperrors.KindSourceAuth, "GET "+rawURL, brand,
			fmt.Errorf("HTTP %d: session credential rejected (refresh TRUSTPILOT_JWT)", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.New(apperrors.KindRateLimited, "GET "+rawURL, brand, fmt.Errorf("HTTP %d", resp.StatusCode))
	default:
		return nil, apperrors.New(apperrors.KindParse, "GET "+rawURL, brand, fmt.Errorf("unexpected HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.New(apperrors.KindSourceAuth, "GET "+rawURL, brand, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
