// Package exchangerate supplies the current USDT/CNY rate from public
// sources, cached briefly in-process. OKX C2C asks are the primary source;
// CoinGecko's spot price is the fallback.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"usdtgate/internal/shared/biztime"
	apperrors "usdtgate/internal/shared/errors"
	"usdtgate/internal/shared/logger"
)

const (
	defaultOKXAPI       = "https://www.okx.com/v3/c2c/tradingOrders/books?quoteCurrency=cny&baseCurrency=usdt&side=sell&userType=certified&limit=10"
	defaultCoinGeckoAPI = "https://api.coingecko.com/api/v3/simple/price?ids=tether&vs_currencies=cny"

	cacheTTL        = 10 * time.Second
	requestTimeout  = 10 * time.Second
	maxResponseSize = 256 << 10
)

// Service resolves and caches the market rate. The mutex serializes refills
// so a cache miss under load triggers a single upstream fetch.
type Service struct {
	httpClient   *http.Client
	log          logger.Interface
	okxAPI       string
	coinGeckoAPI string

	mu         sync.Mutex
	cachedRate decimal.Decimal
	cachedAt   time.Time
}

func NewService(log logger.Interface) *Service {
	return &Service{
		httpClient:   &http.Client{Timeout: requestTimeout},
		log:          log.Named("exchangerate"),
		okxAPI:       defaultOKXAPI,
		coinGeckoAPI: defaultCoinGeckoAPI,
	}
}

// SetEndpoints overrides the upstream URLs, used in tests.
func (s *Service) SetEndpoints(okxAPI, coinGeckoAPI string) {
	s.okxAPI = okxAPI
	s.coinGeckoAPI = coinGeckoAPI
}

// CurrentRate returns the cached rate, refreshing it when the TTL lapses.
// RATE_CACHE_MISSING is returned when every source fails and no usable
// cached value exists.
func (s *Service) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := biztime.NowUTC()
	if !s.cachedRate.IsZero() && now.Sub(s.cachedAt) < cacheTTL {
		return s.cachedRate, nil
	}

	rate, err := s.fetchWithFallback(ctx)
	if err != nil {
		s.log.Errorw("all rate sources failed", "error", err)
		return decimal.Zero, apperrors.NewBizError(apperrors.CodeRateCacheMissing, "USDT/CNY rate unavailable")
	}

	s.cachedRate = rate
	s.cachedAt = now
	s.log.Infow("refreshed USDT/CNY rate", "rate", rate)
	return rate, nil
}

// SetRate seeds the cache directly, used in tests and by operator tooling.
func (s *Service) SetRate(rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedRate = rate
	s.cachedAt = biztime.NowUTC()
}

func (s *Service) fetchWithFallback(ctx context.Context) (decimal.Decimal, error) {
	okxRate, okxErr := s.fetchOKXRate(ctx)
	if okxErr == nil {
		return okxRate, nil
	}
	s.log.Warnw("okx rate fetch failed, falling back to coingecko", "error", okxErr)

	geckoRate, geckoErr := s.fetchCoinGeckoRate(ctx)
	if geckoErr == nil {
		return geckoRate, nil
	}
	return decimal.Zero, fmt.Errorf("okx: %v; coingecko: %w", okxErr, geckoErr)
}

type okxOrderBook struct {
	Data struct {
		Sell []struct {
			Price string `json:"price"`
		} `json:"sell"`
	} `json:"data"`
}

// fetchOKXRate averages the first certified C2C sell asks.
func (s *Service) fetchOKXRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := s.get(ctx, s.okxAPI)
	if err != nil {
		return decimal.Zero, err
	}

	var book okxOrderBook
	if err := json.Unmarshal(body, &book); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode okx response: %w", err)
	}
	if len(book.Data.Sell) == 0 {
		return decimal.Zero, fmt.Errorf("okx returned no sell orders")
	}

	sum := decimal.Zero
	count := 0
	for i, ask := range book.Data.Sell {
		if i >= 10 {
			break
		}
		price, err := decimal.NewFromString(ask.Price)
		if err != nil {
			continue
		}
		sum = sum.Add(price)
		count++
	}
	if count == 0 {
		return decimal.Zero, fmt.Errorf("okx returned no parseable prices")
	}
	return sum.Div(decimal.NewFromInt(int64(count))).Round(4), nil
}

type coinGeckoPrice struct {
	Tether struct {
		CNY decimal.Decimal `json:"cny"`
	} `json:"tether"`
}

func (s *Service) fetchCoinGeckoRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := s.get(ctx, s.coinGeckoAPI)
	if err != nil {
		return decimal.Zero, err
	}

	var price coinGeckoPrice
	if err := json.Unmarshal(body, &price); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode coingecko response: %w", err)
	}
	if price.Tether.CNY.IsZero() {
		return decimal.Zero, fmt.Errorf("coingecko returned zero rate")
	}
	return price.Tether.CNY, nil
}

func (s *Service) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
