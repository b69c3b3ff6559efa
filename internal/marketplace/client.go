// Package marketplace holds the upstream fetch clients: thin, paginated REST
// wrappers that return normalized in-memory result sets. Endpoint shapes are
// deliberately generic; brand specifics travel in the Session.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// Limiter gates the shared rate-limited ads report path. Implemented by
// ratelimit.GlobalBucket.
type Limiter interface {
	Wait(ctx context.Context) error
}

type Client struct {
	baseURL    string
	adsBaseURL string
	http       *http.Client
	userAgent  string
	pageSize   int
	pageDelay  time.Duration
	limiter    Limiter
	logger     zerolog.Logger
}

func NewClient(cfg config.MarketplaceConfig, ads config.AdsConfig, limiter Limiter, logger *zerolog.Logger) *Client {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "marketplace").Logger()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		adsBaseURL: ads.BaseURL,
		http:       &http.Client{Timeout: cfg.Timeout()},
		userAgent:  cfg.UserAgent,
		pageSize:   cfg.PageSize,
		pageDelay:  cfg.PageDelay(),
		limiter:    limiter,
		logger:     base,
	}
}

type ordersPage struct {
	Orders []models.Order `json:"orders"`
	More   bool           `json:"more"`
}

type escrowPage struct {
	Lines []models.EscrowLine `json:"lines"`
	More  bool                `json:"more"`
}

type returnsPage struct {
	Returns []models.ReturnRecord `json:"returns"`
	More    bool                  `json:"more"`
}

type walletPage struct {
	Transactions []models.WalletTransaction `json:"transactions"`
	More         bool                       `json:"more"`
}

type adsPage struct {
	Lines []models.AdSpendLine `json:"lines"`
	More  bool                 `json:"more"`
}

// FetchOrders pages through the order list for the window until more=false.
func (c *Client) FetchOrders(ctx context.Context, s *Session, w TimeWindow) ([]models.Order, error) {
	var all []models.Order
	for page := 1; ; page++ {
		var body ordersPage
		if err := c.get(ctx, c.baseURL, "/api/orders", c.windowQuery(s, w, page), s, &body); err != nil {
			return nil, fmt.Errorf("fetch orders page %d: %w", page, err)
		}
		all = append(all, body.Orders...)
		if !body.More {
			return all, nil
		}
		if err := c.pageSleep(ctx); err != nil {
			return nil, err
		}
	}
}

// FetchEscrow pages through the escrow breakdown lines for the window.
func (c *Client) FetchEscrow(ctx context.Context, s *Session, w TimeWindow) ([]models.EscrowLine, error) {
	var all []models.EscrowLine
	for page := 1; ; page++ {
		var body escrowPage
		if err := c.get(ctx, c.baseURL, "/api/orders/escrow", c.windowQuery(s, w, page), s, &body); err != nil {
			return nil, fmt.Errorf("fetch escrow page %d: %w", page, err)
		}
		all = append(all, body.Lines...)
		if !body.More {
			return all, nil
		}
		if err := c.pageSleep(ctx); err != nil {
			return nil, err
		}
	}
}

// FetchReturns pages through return/refund requests for the window.
func (c *Client) FetchReturns(ctx context.Context, s *Session, w TimeWindow) ([]models.ReturnRecord, error) {
	var all []models.ReturnRecord
	for page := 1; ; page++ {
		var body returnsPage
		if err := c.get(ctx, c.baseURL, "/api/returns", c.windowQuery(s, w, page), s, &body); err != nil {
			return nil, fmt.Errorf("fetch returns page %d: %w", page, err)
		}
		all = append(all, body.Returns...)
		if !body.More {
			return all, nil
		}
		if err := c.pageSleep(ctx); err != nil {
			return nil, err
		}
	}
}

// FetchWallet pages through seller wallet transactions for the window.
func (c *Client) FetchWallet(ctx context.Context, s *Session, w TimeWindow) ([]models.WalletTransaction, error) {
	var all []models.WalletTransaction
	for page := 1; ; page++ {
		var body walletPage
		if err := c.get(ctx, c.baseURL, "/api/wallet/transactions", c.windowQuery(s, w, page), s, &body); err != nil {
			return nil, fmt.Errorf("fetch wallet page %d: %w", page, err)
		}
		all = append(all, body.Transactions...)
		if !body.More {
			return all, nil
		}
		if err := c.pageSleep(ctx); err != nil {
			return nil, err
		}
	}
}

// FetchAdsSpend pages through one spend report family for every advertiser id
// of the brand. Each page request first acquires the global report slot; that
// budget is shared across all brands and worker processes.
func (c *Client) FetchAdsSpend(ctx context.Context, s *Session, kind AdsKind, w TimeWindow) ([]models.AdSpendLine, error) {
	var all []models.AdSpendLine
	for _, advertiserID := range s.Brand.AdvertiserIDs {
		for page := 1; ; page++ {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}

			query := url.Values{}
			query.Set("advertiser_id", advertiserID)
			query.Set("kind", string(kind))
			query.Set("from", w.From.Format("2006-01-02"))
			query.Set("to", w.To.Format("2006-01-02"))
			query.Set("page", strconv.Itoa(page))
			query.Set("page_size", strconv.Itoa(c.pageSize))

			var body adsPage
			if err := c.get(ctx, c.adsBaseURL, "/api/report/spend", query, s, &body); err != nil {
				return nil, fmt.Errorf("fetch %s spend page %d for advertiser %s: %w", kind, page, advertiserID, err)
			}
			for i := range body.Lines {
				body.Lines[i].Kind = string(kind)
			}
			all = append(all, body.Lines...)
			if !body.More {
				break
			}
		}
	}
	return all, nil
}

func (c *Client) windowQuery(s *Session, w TimeWindow, page int) url.Values {
	query := url.Values{}
	query.Set("shop_id", s.Brand.ShopID)
	query.Set("from", w.From.Format(time.RFC3339))
	query.Set("to", w.To.Format(time.RFC3339))
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(c.pageSize))
	return query
}

func (c *Client) get(ctx context.Context, base, path string, query url.Values, s *Session, out any) error {
	u := base + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Access-Token", s.Creds.AccessToken)
	req.Header.Set("X-Partner-Id", s.Brand.PartnerID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// pageSleep is a deliberate suspension between paginated calls to stay under
// the per-account rate limit.
func (c *Client) pageSleep(ctx context.Context) error {
	if c.pageDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.pageDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
