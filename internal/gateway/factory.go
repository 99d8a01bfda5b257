package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	brcfg "barfeed/internal/config"
	"barfeed/internal/gateway/binance"
	"barfeed/internal/gateway/bitmex"
	"barfeed/internal/logger"
	"barfeed/internal/market"
	"barfeed/internal/pkg/circuit"
)

// NewExchangeFromConfig builds the configured REST adapter behind a circuit
// breaker.
func NewExchangeFromConfig(cfg *brcfg.Config) (market.Exchange, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	ex := cfg.Exchange
	name := strings.ToLower(ex.Name)
	breaker := circuit.NewCircuitBreaker(name, ex.BreakerThreshold, ex.BreakerCooldown())
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("[gateway] %s breaker %s -> %s", name, from, to)
	})
	switch name {
	case "", "bitmex":
		hc := &http.Client{Timeout: cfg.Feed.FetchTimeout()}
		if ex.Proxy != "" {
			proxyURL, err := url.Parse(ex.Proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid exchange proxy url: %w", err)
			}
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.Proxy = http.ProxyURL(proxyURL)
			hc.Transport = transport
		}
		return bitmex.NewClient(ex.RESTBaseURL,
			bitmex.WithHTTPClient(hc),
			bitmex.WithRetries(ex.MaxRetries, ex.RetryBackoff()),
			bitmex.WithBreaker(breaker),
		), nil
	case "binance", "binance-futures":
		return binance.New(binance.Config{
			RESTBaseURL:  ex.RESTBaseURL,
			HTTPTimeout:  cfg.Feed.FetchTimeout(),
			ProxyURL:     ex.Proxy,
			MaxRetries:   ex.MaxRetries,
			RetryBackoff: ex.RetryBackoff(),
		}, breaker)
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", ex.Name)
	}
}
