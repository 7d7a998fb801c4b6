// Package rpcclient implements the Chain Connector (C1): an ordered set
// of RPC endpoints with retry backoff, per-endpoint circuit breaking, and
// failover. Grounded on the teacher's pkg/blockchain.EthereumClient for
// the underlying ethclient wrapping, and on pkg/failover.Service for the
// shape of per-endpoint health tracking — generalized here onto
// github.com/sony/gobreaker/v2, which implements the open/half-open/closed
// contract directly instead of hand-rolling it.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/blackms/arbitragemonitor/pkg/logger"
)

// endpointRateLimit caps requests to a single endpoint, protecting a
// node operator's rate limits during a failover storm (spec §4.1
// doesn't set a number; this mirrors the teacher's middleware.go
// limiter shape at a generous per-endpoint ceiling).
const endpointRateLimit = 25 // requests/second
const endpointRateBurst = 50

// Sentinel errors, per spec §4.1's error contract.
var (
	ErrAllEndpointsUnavailable = errors.New("rpcclient: all endpoints unavailable")
	ErrTimeout                 = errors.New("rpcclient: timeout")
	ErrDecode                  = errors.New("rpcclient: malformed response")
)

// ErrRpc is a protocol-level JSON-RPC error.
type ErrRpc struct {
	Code    int
	Message string
}

func (e *ErrRpc) Error() string {
	return fmt.Sprintf("rpcclient: rpc error %d: %s", e.Code, e.Message)
}

const (
	maxAttemptsPerEndpoint = 3
	breakerFailureThreshold = 5
	breakerOpenDuration     = 60 * time.Second
	callDeadline            = 10 * time.Second
)

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

type endpoint struct {
	url     string
	client  *ethclient.Client
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
}

// Connector is the C1 chain connector for one chain.
type Connector struct {
	mu        sync.RWMutex
	endpoints []*endpoint
	current   int
	logger    *logger.Logger
	chainName string
}

// Dial connects to every URL in urls (order preserved; first is primary)
// and returns a Connector. It does not fail if a later endpoint is
// unreachable at startup — that endpoint simply starts in the closed
// state and will trip on first use.
func Dial(chainName string, urls []string, log *logger.Logger) (*Connector, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("rpcclient: no endpoints configured for %s", chainName)
	}

	c := &Connector{logger: log.Named("rpcclient"), chainName: chainName}
	for _, url := range urls {
		cl, err := ethclient.Dial(url)
		if err != nil {
			log.Warn("failed to dial endpoint at startup, will retry lazily",
				"endpoint", url, "err", err.Error())
		}
		c.endpoints = append(c.endpoints, &endpoint{
			url:     url,
			client:  cl,
			limiter: rate.NewLimiter(rate.Limit(endpointRateLimit), endpointRateBurst),
			breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
				Name:        url,
				MaxRequests: 1,
				Timeout:     breakerOpenDuration,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= breakerFailureThreshold
				},
			}),
		})
	}
	return c, nil
}

// CircuitState reports 0=closed, 1=half-open, 2=open for the endpoint at
// index i, used by the metrics sampler.
func (c *Connector) CircuitState(i int) gobreaker.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[i].breaker.State()
}

// EndpointURLs returns the configured endpoint URLs, in order.
func (c *Connector) EndpointURLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	urls := make([]string, len(c.endpoints))
	for i, e := range c.endpoints {
		urls[i] = e.url
	}
	return urls
}

// call runs fn against the currently-selected endpoint, retrying up to
// maxAttemptsPerEndpoint times with the 1s/2s/4s backoff schedule, then
// failing over to the next endpoint. It returns ErrAllEndpointsUnavailable
// once every endpoint has been tried and rejected.
func (c *Connector) call(ctx context.Context, fn func(ctx context.Context, cl *ethclient.Client) (any, error)) (any, error) {
	c.mu.Lock()
	startIdx := c.current
	n := len(c.endpoints)
	c.mu.Unlock()

	for offset := 0; offset < n; offset++ {
		idx := (startIdx + offset) % n
		c.mu.RLock()
		ep := c.endpoints[idx]
		c.mu.RUnlock()

		if ep.client == nil {
			cl, err := ethclient.Dial(ep.url)
			if err != nil {
				continue
			}
			c.mu.Lock()
			ep.client = cl
			c.mu.Unlock()
		}

		result, err := c.tryEndpoint(ctx, ep, fn)
		if err == nil {
			c.mu.Lock()
			c.current = idx
			c.mu.Unlock()
			return result, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			c.logger.Warn("endpoint circuit open, failing over",
				"endpoint", ep.url, "chain", c.chainName)
			continue
		}
		c.logger.Warn("endpoint exhausted retries, failing over",
			"endpoint", ep.url, "chain", c.chainName, "err", err.Error())
	}
	return nil, ErrAllEndpointsUnavailable
}

func (c *Connector) tryEndpoint(ctx context.Context, ep *endpoint, fn func(ctx context.Context, cl *ethclient.Client) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttemptsPerEndpoint; attempt++ {
		if err := ep.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		result, err := ep.breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, callDeadline)
			defer cancel()
			return fn(callCtx, ep.client)
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, gobreaker.ErrOpenState
		}
		lastErr = err
		if attempt < maxAttemptsPerEndpoint-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffSchedule[attempt]):
			}
		}
	}
	return nil, lastErr
}

// LatestHeight returns the chain's tip height.
func (c *Connector) LatestHeight(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, func(ctx context.Context, cl *ethclient.Client) (any, error) {
		header, err := cl.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, err
		}
		return header.Number.Uint64(), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(uint64), nil
}

// Block fetches a block with full transactions at the given height.
func (c *Connector) Block(ctx context.Context, height uint64) (*types.Block, error) {
	result, err := c.call(ctx, func(ctx context.Context, cl *ethclient.Client) (any, error) {
		return cl.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Block), nil
}

// Receipt fetches a transaction receipt, including its logs.
func (c *Connector) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	result, err := c.call(ctx, func(ctx context.Context, cl *ethclient.Client) (any, error) {
		return cl.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Receipt), nil
}

// Call performs an eth_call against a contract.
func (c *Connector) Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	result, err := c.call(ctx, func(ctx context.Context, cl *ethclient.Client) (any, error) {
		return cl.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Close releases all underlying RPC connections.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.endpoints {
		if e.client != nil {
			e.client.Close()
		}
	}
}
