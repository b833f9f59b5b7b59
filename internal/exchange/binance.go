package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trade-pnl-lab/internal/domain"
)

// BinanceSource implements FillSource against the Binance spot account
// trade-history endpoint. Calls are rate limited and carry a timeout;
// transient failures are retried with exponential backoff, definitive
// not-found responses are not.
type BinanceSource struct {
	client     *binance.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
	latency    *prometheus.HistogramVec
	logger     zerolog.Logger
}

// BinanceOptions contains configuration for creating a BinanceSource.
type BinanceOptions struct {
	APIKey     string
	SecretKey  string
	RateLimit  float64       // requests per second, default 10
	RateBurst  int           // default 10
	Timeout    time.Duration // per-call timeout, default 10s
	MaxRetries int           // retries on transient failure, default 3
	MinBackoff time.Duration // default 250ms
	MaxBackoff time.Duration // default 5s

	// CallLatency, when set, observes per-attempt call duration
	// labeled by operation.
	CallLatency *prometheus.HistogramVec
	Logger      zerolog.Logger
}

// NewBinanceSource creates a new Binance fill source.
func NewBinanceSource(opts BinanceOptions) *BinanceSource {
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 10
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MinBackoff == 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 5 * time.Second
	}

	return &BinanceSource{
		client:     binance.NewClient(opts.APIKey, opts.SecretKey),
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		latency:    opts.CallLatency,
		logger:     opts.Logger,
	}
}

// Compile-time interface check.
var _ FillSource = (*BinanceSource)(nil)

// ListFills returns all fills for a symbol within [startMs, endMs],
// aggregated per order.
func (s *BinanceSource) ListFills(ctx context.Context, symbol string, startMs, endMs int64) ([]*Fill, error) {
	var trades []*binance.TradeV3
	err := s.call(ctx, "list_fills", func(callCtx context.Context) error {
		var err error
		trades, err = s.client.NewListTradesService().
			Symbol(symbol).
			StartTime(startMs).
			EndTime(endMs).
			Do(callCtx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return aggregateTrades(symbol, trades)
}

// GetFill returns the aggregated fill for one order identifier.
func (s *BinanceSource) GetFill(ctx context.Context, symbol, orderID string) (*Fill, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("order id %q is not a binance order id: %w", orderID, err)
	}

	var trades []*binance.TradeV3
	err = s.call(ctx, "get_fill", func(callCtx context.Context) error {
		var err error
		trades, err = s.client.NewListTradesService().
			Symbol(symbol).
			OrderId(id).
			Do(callCtx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		// Empty result for a concrete order id is definitive: do not retry.
		return nil, ErrFillNotFound
	}

	fills, err := aggregateTrades(symbol, trades)
	if err != nil {
		return nil, err
	}
	return fills[0], nil
}

// call runs fn under the rate limiter with per-attempt timeout and
// bounded exponential backoff on transient failures.
func (s *BinanceSource) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    s.minBackoff,
		Max:    s.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrSourceUnavailable, ctx.Err())
			case <-time.After(b.Duration()):
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		attemptStart := time.Now()
		err := fn(callCtx)
		cancel()
		if s.latency != nil {
			s.latency.WithLabelValues(op).Observe(time.Since(attemptStart).Seconds())
		}

		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("binance call: %w", err)
		}

		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("transient binance failure")
	}

	return fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

// isTransient reports whether an error is worth retrying. API errors
// carry an exchange rejection code and are definitive; everything else
// (network, timeout) is treated as transient.
func isTransient(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// -1003 TOO_MANY_REQUESTS is the one retryable rejection.
		return apiErr.Code == -1003
	}
	return true
}

// aggregateTrades folds partial fills into one Fill per order with a
// quantity-weighted average price.
func aggregateTrades(symbol string, trades []*binance.TradeV3) ([]*Fill, error) {
	byOrder := make(map[int64]*Fill)
	notional := make(map[int64]decimal.Decimal)
	var order []int64

	for _, t := range trades {
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("trade %d: parse quantity: %w", t.ID, err)
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("trade %d: parse price: %w", t.ID, err)
		}
		fee, err := decimal.NewFromString(t.Commission)
		if err != nil {
			return nil, fmt.Errorf("trade %d: parse commission: %w", t.ID, err)
		}

		side := domain.SideSell
		if t.IsBuyer {
			side = domain.SideBuy
		}

		f, exists := byOrder[t.OrderID]
		if !exists {
			f = &Fill{
				OrderID:  strconv.FormatInt(t.OrderID, 10),
				Symbol:   symbol,
				Side:     side,
				Quantity: decimal.Zero,
				Fee:      decimal.Zero,
			}
			byOrder[t.OrderID] = f
			notional[t.OrderID] = decimal.Zero
			order = append(order, t.OrderID)
		}

		f.Quantity = f.Quantity.Add(qty)
		f.Fee = f.Fee.Add(fee)
		notional[t.OrderID] = notional[t.OrderID].Add(qty.Mul(price))
		if t.Time > f.ExecutedAt {
			f.ExecutedAt = t.Time
		}
	}

	fills := make([]*Fill, 0, len(order))
	for _, id := range order {
		f := byOrder[id]
		if f.Quantity.IsPositive() {
			f.Price = notional[id].Div(f.Quantity)
		}
		fills = append(fills, f)
	}

	sort.Slice(fills, func(i, j int) bool {
		if fills[i].ExecutedAt != fills[j].ExecutedAt {
			return fills[i].ExecutedAt < fills[j].ExecutedAt
		}
		return fills[i].OrderID < fills[j].OrderID
	})
	return fills, nil
}
