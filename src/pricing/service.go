package pricing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/username/coinfolio/src/logger"
	"github.com/username/coinfolio/src/models"
)

// quoteTolerance bounds how far a stored quote may lie from the requested
// timestamp before it stops being an answer.
const quoteTolerance = time.Hour

// bridgeAssets are the quote assets most pairs trade against; a pair with no
// direct quote is routed through one of them.
var bridgeAssets = []string{"USDT", "BUSD", "BTC", "BNB", "ETH"}

// Service is the price oracle: an in-process cache over the sqlite price
// store, with an optional remote fetcher that backfills the store.
type Service struct {
	store  *Store
	client *Client // nil disables remote fetching
	cache  *cache.Cache
}

func NewService(store *Store, client *Client) *Service {
	return &Service{
		store:  store,
		client: client,
		cache:  cache.New(cache.NoExpiration, 0),
	}
}

func (s *Service) GetPrice(sym models.Symbol, at time.Time) (float64, error) {
	if sym.Base == sym.Quote {
		return 1, nil
	}

	key := sym.Key() + "@" + strconv.FormatInt(at.UTC().Truncate(time.Minute).Unix(), 10)
	if v, ok := s.cache.Get(key); ok {
		return v.(float64), nil
	}

	price, err := s.pairPrice(sym, at)
	if err != nil {
		price, err = s.bridgedPrice(sym, at)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s at %s", ErrQuoteNotFound, sym, at.UTC().Format(time.RFC3339))
	}

	s.cache.Set(key, price, cache.NoExpiration)
	return price, nil
}

func (s *Service) Convert(asset models.AssetAmount, target string, at time.Time) (models.AssetAmount, error) {
	// Identity conversion guards against self-referential pricing of the
	// reference currency.
	if asset.Symbol == target {
		return asset, nil
	}
	if asset.Amount == 0 {
		return models.AssetAmount{Symbol: target, Amount: 0}, nil
	}
	price, err := s.GetPrice(models.Symbol{Base: asset.Symbol, Quote: target}, at)
	if err != nil {
		return models.AssetAmount{}, err
	}
	return models.AssetAmount{Symbol: target, Amount: asset.Amount * price}, nil
}

// pairPrice resolves a pair without bridging: stored quote in either
// direction first, then the remote API in either direction.
func (s *Service) pairPrice(sym models.Symbol, at time.Time) (float64, error) {
	if price, ok := s.store.Get(sym.Key(), at, quoteTolerance); ok {
		return price, nil
	}
	if price, ok := s.store.Get(sym.Reverse().Key(), at, quoteTolerance); ok && price != 0 {
		return 1 / price, nil
	}

	if s.client == nil {
		return 0, ErrQuoteNotFound
	}
	if price, err := s.fetchAndStore(sym.Key(), at); err == nil {
		return price, nil
	}
	if price, err := s.fetchAndStore(sym.Reverse().Key(), at); err == nil && price != 0 {
		return 1 / price, nil
	}
	return 0, ErrQuoteNotFound
}

func (s *Service) fetchAndStore(pair string, at time.Time) (float64, error) {
	price, err := s.client.KlinePrice(pair, at)
	if err != nil {
		return 0, err
	}
	if err := s.store.Put(pair, at, price); err != nil {
		logger.L.Warn("Failed to persist fetched price", "pair", pair, "error", err)
	}
	return price, nil
}

// bridgedPrice routes base->quote through a common quote asset.
func (s *Service) bridgedPrice(sym models.Symbol, at time.Time) (float64, error) {
	for _, bridge := range bridgeAssets {
		if bridge == sym.Base || bridge == sym.Quote {
			continue
		}
		first, err := s.pairPrice(models.Symbol{Base: sym.Base, Quote: bridge}, at)
		if err != nil {
			continue
		}
		second, err := s.pairPrice(models.Symbol{Base: bridge, Quote: sym.Quote}, at)
		if err != nil {
			continue
		}
		return first * second, nil
	}
	return 0, ErrQuoteNotFound
}
