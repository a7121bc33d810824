/**
 * @description
 * This package provides the chain collaborator consumed by the yield-service
 * core: balance reads, transfer submission, transaction status checks, gas
 * estimation and earnings reads. The core only ever sees the ChainClient
 * interface; the bundled SimulatedClient stands in for a real RPC-backed
 * implementation and resolves transactions with a configurable success ratio
 * after a configurable number of confirmations.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Token amount arithmetic.
 */

package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the outcome of a single status poll.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

// PollResult carries the outcome of one idempotent status check.
type PollResult struct {
	Status        TxStatus
	GasUsed       int64
	BlockRef      string
	Confirmations int
	ErrorDetail   string
}

// GasEstimate is a pure read; no transaction is created by estimating.
type GasEstimate struct {
	GasLimit      int64           `json:"gas_limit"`
	GasPriceGwei  decimal.Decimal `json:"gas_price_gwei"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// TransferRequest describes a cross-chain transfer submission.
type TransferRequest struct {
	UserAddress      string
	Token            string
	Amount           decimal.Decimal
	SourceChain      string
	DestinationChain string
	Slippage         float64
}

// ErrUnavailable is returned when the chain backend cannot be reached.
var ErrUnavailable = errors.New("chain client unavailable")

// ChainClient is the capability to read chain state and submit transactions.
type ChainClient interface {
	TokenBalance(ctx context.Context, chain, token, address string) (decimal.Decimal, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)
	TransactionStatus(ctx context.Context, chainTxRef string) (PollResult, error)
	EstimateGas(ctx context.Context, operation string, amount decimal.Decimal) (GasEstimate, error)
	AvailableEarnings(ctx context.Context, userAddress string) (decimal.Decimal, error)
}

// SimulatedClient is an in-process ChainClient with deterministic knobs for
// tests and demos. Concurrency-safe.
type SimulatedClient struct {
	mu  sync.Mutex
	rng *rand.Rand

	successRatio  float64
	confirmTarget int
	submitLatency time.Duration

	defaultBalance decimal.Decimal
	balances       map[string]decimal.Decimal // "chain/token/address"
	earnings       map[string]decimal.Decimal

	polls    map[string]int  // chainTxRef -> polls seen so far
	resolved map[string]bool // chainTxRef -> will succeed
	seq      uint64
}

// SimulatedOption tweaks a SimulatedClient.
type SimulatedOption func(*SimulatedClient)

// WithSuccessRatio sets the fraction of submitted transfers that confirm.
func WithSuccessRatio(r float64) SimulatedOption {
	return func(c *SimulatedClient) {
		if r > 0 && r <= 1 {
			c.successRatio = r
		}
	}
}

// WithConfirmTarget sets how many polls report pending before resolution.
func WithConfirmTarget(n int) SimulatedOption {
	return func(c *SimulatedClient) {
		if n >= 0 {
			c.confirmTarget = n
		}
	}
}

// WithSubmitLatency simulates network latency on submission.
func WithSubmitLatency(d time.Duration) SimulatedOption {
	return func(c *SimulatedClient) { c.submitLatency = d }
}

// WithSeed makes the client's randomness reproducible.
func WithSeed(seed int64) SimulatedOption {
	return func(c *SimulatedClient) { c.rng = rand.New(rand.NewSource(seed)) }
}

// NewSimulatedClient builds a client with every address funded at a generous
// default balance so local flows work out of the box.
func NewSimulatedClient(opts ...SimulatedOption) *SimulatedClient {
	c := &SimulatedClient{
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		successRatio:   0.9,
		confirmTarget:  2,
		defaultBalance: decimal.NewFromInt(10000),
		balances:       make(map[string]decimal.Decimal),
		earnings:       make(map[string]decimal.Decimal),
		polls:          make(map[string]int),
		resolved:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func balanceKey(chain, token, address string) string {
	return chain + "/" + token + "/" + address
}

// SetBalance pins the balance returned for one chain/token/address triple.
func (c *SimulatedClient) SetBalance(chain, token, address string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[balanceKey(chain, token, address)] = amount
}

// SetEarnings pins the available earnings reported for a user.
func (c *SimulatedClient) SetEarnings(userAddress string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.earnings[userAddress] = amount
}

// TokenBalance returns the pinned balance for the triple or the default.
func (c *SimulatedClient) TokenBalance(ctx context.Context, chain, token, address string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.balances[balanceKey(chain, token, address)]; ok {
		return bal, nil
	}
	return c.defaultBalance, nil
}

// SubmitTransfer fabricates a chain reference and decides, up front, whether
// this transfer will eventually confirm or fail.
func (c *SimulatedClient) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if c.submitLatency > 0 {
		select {
		case <-time.After(c.submitLatency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	ref := fmt.Sprintf("0xsim%016x%08x", c.rng.Uint64(), c.seq)
	c.resolved[ref] = c.rng.Float64() < c.successRatio
	return ref, nil
}

// TransactionStatus reports pending until the confirmation target is reached,
// then resolves to the outcome chosen at submission.
func (c *SimulatedClient) TransactionStatus(ctx context.Context, chainTxRef string) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	willSucceed, known := c.resolved[chainTxRef]
	if !known {
		return PollResult{}, fmt.Errorf("%w: unknown transaction %s", ErrUnavailable, chainTxRef)
	}

	c.polls[chainTxRef]++
	if c.polls[chainTxRef] <= c.confirmTarget {
		return PollResult{Status: TxStatusPending}, nil
	}

	if willSucceed {
		return PollResult{
			Status:        TxStatusCompleted,
			GasUsed:       21000 + c.rng.Int63n(90000),
			BlockRef:      fmt.Sprintf("0xblock%012x", c.rng.Uint64()>>16),
			Confirmations: c.confirmTarget + c.rng.Intn(10),
		}, nil
	}
	return PollResult{
		Status:      TxStatusFailed,
		ErrorDetail: "execution reverted: bridge transfer rejected",
	}, nil
}

// EstimateGas prices the operation without any side effect.
func (c *SimulatedClient) EstimateGas(ctx context.Context, operation string, amount decimal.Decimal) (GasEstimate, error) {
	if err := ctx.Err(); err != nil {
		return GasEstimate{}, err
	}
	var gasLimit int64
	switch operation {
	case "deposit":
		gasLimit = 180000
	case "withdraw":
		gasLimit = 210000
	case "compound":
		gasLimit = 260000
	default:
		gasLimit = 21000
	}
	c.mu.Lock()
	gasPrice := decimal.NewFromInt(12 + c.rng.Int63n(30)) // gwei
	c.mu.Unlock()

	// cost = gasLimit * gasPrice expressed in the gas token's full units.
	cost := gasPrice.Mul(decimal.NewFromInt(gasLimit)).Div(decimal.NewFromInt(1e9))
	return GasEstimate{GasLimit: gasLimit, GasPriceGwei: gasPrice, EstimatedCost: cost}, nil
}

// AvailableEarnings returns the pinned earnings for a user, or a small pseudo
// random accrual so demo wallets always have something growing.
func (c *SimulatedClient) AvailableEarnings(ctx context.Context, userAddress string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.earnings[userAddress]; ok {
		return e, nil
	}
	return decimal.NewFromFloat(c.rng.Float64()).Round(4), nil
}
