// Package executor implements the dispatch state machine (spec.md §4.4): an
// idempotent, lock-guarded, oracle-gated path from a matched intent to a
// signed transaction. Engine holds the business logic; handler.go and
// worker.go are its two transports (internal HTTP endpoint, queue worker).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/chainutil"
	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

const (
	lockTTL  = 30 * time.Second
	lockWait = 5 * time.Second
)

// Config carries the Engine's tunables and optional collaborators.
type Config struct {
	CircuitBreakerThreshold int               // consecutive failures before a sessionKeyId trips; 0 disables
	RouterAddresses         map[string]string // chain -> spender contract for ERC-20 allowance preflight
}

// Engine runs the Executor's 9-step state machine (spec.md §4.4). The risk,
// compliance and allowance collaborators may be nil; the signer is always
// called, the oracle is called for swap, bridge and open_position intents,
// and balances are read for percentage amounts, so those must be set.
type Engine struct {
	logs        domain.TransactionLogStore
	sessionKeys domain.SessionKeyStore
	locks       domain.LockManager
	oracle      domain.OracleValidator
	balances    domain.BalanceReader
	allowances  domain.AllowanceReader
	signer      domain.Signer
	risk        domain.RiskChecker
	compliance  domain.ComplianceScreener
	tel         *telemetry.Telemetry
	logger      *slog.Logger
	cfg         Config

	mu         sync.Mutex
	failCounts map[int64]int
}

// NewEngine constructs an Engine. risk and compliance may be nil (spec.md
// §4.4 step 4 is optional).
func NewEngine(
	logs domain.TransactionLogStore,
	sessionKeys domain.SessionKeyStore,
	locks domain.LockManager,
	oracle domain.OracleValidator,
	balances domain.BalanceReader,
	allowances domain.AllowanceReader,
	signer domain.Signer,
	risk domain.RiskChecker,
	compliance domain.ComplianceScreener,
	cfg Config,
	tel *telemetry.Telemetry,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		logs:        logs,
		sessionKeys: sessionKeys,
		locks:       locks,
		oracle:      oracle,
		balances:    balances,
		allowances:  allowances,
		signer:      signer,
		risk:        risk,
		compliance:  compliance,
		cfg:         cfg,
		tel:         tel,
		logger:      logger.With(slog.String("component", "executor")),
		failCounts:  make(map[int64]int),
	}
}

// priceSensitiveIntents are the intent types gated by the Oracle Validator
// before dispatch (spec.md §4.4 step 5).
var priceSensitiveIntents = map[domain.IntentType]bool{
	domain.IntentSwap:         true,
	domain.IntentBridge:       true,
	domain.IntentOpenPosition: true,
}

// Execute runs the full dispatch pipeline for req and returns the resulting
// TransactionLog, or an error for conditions the caller should treat as
// retryable (lock contention) rather than a terminal failed log.
func (e *Engine) Execute(ctx context.Context, req domain.ExecuteIntentRequest) (domain.TransactionLog, error) {
	log := e.logger.With(slog.Int64("session_key_id", req.SessionKeyID), slog.String("idempotency_key", req.IdempotencyKey))

	// 1. Idempotency check.
	if existing, err := e.logs.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		log.Debug("idempotency key already recorded, returning existing log")
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.TransactionLog{}, fmt.Errorf("executor: idempotency lookup: %w", err)
	}

	// 2. Distributed lock.
	lockKey := fmt.Sprintf("strategy-execute:%d", req.SessionKeyID)
	token, err := e.locks.WaitFor(ctx, lockKey, lockWait, lockTTL)
	if err != nil {
		log.Warn("lock acquisition failed", slog.String("error", err.Error()))
		if e.tel != nil {
			e.tel.LockContended(ctx, lockKey)
		}
		return domain.TransactionLog{}, fmt.Errorf("%w: %s", domain.ErrConflict, err.Error())
	}
	if e.tel != nil {
		e.tel.LockAcquired(ctx, lockKey)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		held, relErr := e.locks.Release(releaseCtx, lockKey, token)
		if relErr != nil {
			log.Error("lock release failed", slog.String("error", relErr.Error()))
		}
		if e.tel != nil {
			e.tel.LockReleased(releaseCtx, lockKey, held)
		}
	}()

	if e.breakerTripped(req.SessionKeyID) {
		return e.persistFailed(ctx, req, "circuit breaker open for session key")
	}

	// 3. Resolve session key and check permissions.
	sk, err := e.sessionKeys.GetByID(ctx, req.SessionKeyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return e.persistFailed(ctx, req, "session key not found")
		}
		return domain.TransactionLog{}, fmt.Errorf("executor: loading session key: %w", err)
	}
	if !sk.IsActive || sk.Expired(time.Now()) {
		return e.persistFailed(ctx, req, "session key inactive or expired")
	}
	if !sk.Permissions.AllowsAction(domain.Action(req.Intent.Type)) {
		return e.persistFailed(ctx, req, fmt.Sprintf("session key does not permit action %q", req.Intent.Type))
	}
	for _, chain := range intentChains(req.Intent) {
		if !sk.Permissions.AllowsChain(chain) {
			return e.persistFailed(ctx, req, fmt.Sprintf("session key does not permit chain %q", chain))
		}
	}

	// 4. Optional risk / compliance hooks.
	if e.risk != nil {
		ok, reason, err := e.risk.Check(ctx, req.UserID, req.Intent)
		if err != nil {
			return domain.TransactionLog{}, fmt.Errorf("executor: risk check: %w", err)
		}
		if !ok {
			return e.persistFailed(ctx, req, "risk check vetoed: "+reason)
		}
	}
	if e.compliance != nil {
		ok, reason, err := e.compliance.Screen(ctx, req.UserID, req.Intent)
		if err != nil {
			return domain.TransactionLog{}, fmt.Errorf("executor: compliance screen: %w", err)
		}
		if !ok {
			return e.persistFailed(ctx, req, "compliance screen vetoed: "+reason)
		}
	}

	// 5. Oracle check for price-sensitive intents.
	if priceSensitiveIntents[req.Intent.Type] {
		for _, pair := range intentPricePairs(req.Intent) {
			result, err := e.oracle.Validate(ctx, pair.chain, pair.token)
			if err != nil {
				return domain.TransactionLog{}, fmt.Errorf("executor: oracle validation: %w", err)
			}
			if !result.OK {
				e.recordFailure(req.SessionKeyID)
				return e.persistFailed(ctx, req, "oracle consensus failed: "+result.Reason)
			}
		}
	}

	// 6-7. Amount normalisation and allowance preflight (transfer intents only).
	intent := req.Intent
	if intent.Transfer != nil {
		normalised, err := e.normaliseTransferAmount(ctx, req.UserID, *intent.Transfer)
		if err != nil {
			return domain.TransactionLog{}, fmt.Errorf("executor: normalising amount: %w", err)
		}
		intent.Transfer = &normalised

		if err := e.preflightAllowance(ctx, req, sk, normalised, log); err != nil {
			e.recordFailure(req.SessionKeyID)
			return e.persistFailed(ctx, req, "allowance approval failed: "+err.Error())
		}
	}

	// 8. Signer invocation.
	dispatchStart := time.Now()
	receipt, err := e.signer.SubmitSigned(ctx, intent, sk)
	if err != nil {
		e.recordFailure(req.SessionKeyID)
		if e.tel != nil {
			e.tel.Dispatch(ctx, "signer_error", time.Since(dispatchStart).Seconds())
		}
		return e.persistFailed(ctx, req, "signer failure: "+err.Error())
	}
	if e.tel != nil {
		e.tel.Dispatch(ctx, string(receipt.Status), time.Since(dispatchStart).Seconds())
	}
	if receipt.Status == domain.ReceiptFailed {
		e.recordFailure(req.SessionKeyID)
	} else {
		e.resetFailures(req.SessionKeyID)
	}

	// 9. Persist TransactionLog.
	status := domain.TxFailed
	switch receipt.Status {
	case domain.ReceiptSuccess:
		status = domain.TxSuccess
	case domain.ReceiptPending:
		status = domain.TxPending
	}

	chain := ""
	if len(intentChains(intent)) > 0 {
		chain = intentChains(intent)[0]
	}

	created, err := e.logs.Create(ctx, domain.TransactionLog{
		UserID:      req.UserID,
		Description: receipt.Description,
		TxHash:      receipt.TxHash,
		Chain:       chain,
		Status:      status,
		Details: map[string]any{
			"idempotencyKey": req.IdempotencyKey,
			"intentType":     string(intent.Type),
		},
	})
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("executor: persisting transaction log: %w", err)
	}
	return created, nil
}

// persistFailed writes a failed TransactionLog and returns it. It is used
// for every terminal, non-retryable rejection before signer invocation.
func (e *Engine) persistFailed(ctx context.Context, req domain.ExecuteIntentRequest, reason string) (domain.TransactionLog, error) {
	created, err := e.logs.Create(ctx, domain.TransactionLog{
		UserID:      req.UserID,
		Description: reason,
		Status:      domain.TxFailed,
		Details: map[string]any{
			"idempotencyKey": req.IdempotencyKey,
			"intentType":     string(req.Intent.Type),
		},
	})
	if err != nil {
		return domain.TransactionLog{}, fmt.Errorf("executor: persisting failed log: %w", err)
	}
	return created, nil
}

// normaliseTransferAmount resolves a percentage-denominated amount to an
// absolute token amount using the wallet balance (spec.md §4.4 step 6).
func (e *Engine) normaliseTransferAmount(ctx context.Context, userID int64, ti domain.TransferIntent) (domain.TransferIntent, error) {
	if !ti.AmountInIsPercentage {
		return ti, nil
	}
	percent, err := strconv.ParseFloat(ti.FromAmount, 64)
	if err != nil {
		return ti, fmt.Errorf("parsing percentage amount %q: %w", ti.FromAmount, err)
	}
	balance, err := e.balances.Balance(ctx, userID, ti.FromChain, ti.FromToken)
	if err != nil {
		return ti, fmt.Errorf("reading balance: %w", err)
	}
	absolute := math.Floor(balance * percent / 100)
	ti.FromAmount = strconv.FormatFloat(absolute, 'f', -1, 64)
	ti.AmountInIsPercentage = false
	return ti, nil
}

// preflightAllowance checks the on-chain allowance for ERC-20 transfers and,
// if insufficient, submits an approval transaction before the caller
// proceeds to the main transfer (spec.md §4.4 step 7). Chains without a
// configured router address skip the preflight.
func (e *Engine) preflightAllowance(ctx context.Context, req domain.ExecuteIntentRequest, sk domain.SessionKey, ti domain.TransferIntent, log *slog.Logger) error {
	if e.allowances == nil || !chainutil.IsEVMChain(ti.FromChain) {
		return nil
	}
	spender, ok := e.cfg.RouterAddresses[ti.FromChain]
	if !ok || spender == "" {
		return nil
	}

	needed, err := strconv.ParseFloat(ti.FromAmount, 64)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", ti.FromAmount, err)
	}

	allowance, err := e.allowances.Allowance(ctx, ti.FromChain, ti.FromToken, ti.UserAddress, spender)
	if err != nil {
		return fmt.Errorf("reading allowance: %w", err)
	}
	if allowance >= needed {
		return nil
	}

	log.Info("allowance insufficient, submitting approval", slog.Float64("allowance", allowance), slog.Float64("needed", needed))

	approvalIntent := domain.Intent{
		Type: domain.IntentCustom,
		Custom: &domain.CustomIntent{
			Name: "approve",
			Parameters: map[string]any{
				"chain":   ti.FromChain,
				"token":   ti.FromToken,
				"spender": spender,
				"amount":  ti.FromAmount,
			},
		},
	}
	receipt, err := e.signer.SubmitSigned(ctx, approvalIntent, sk)
	if err != nil {
		return fmt.Errorf("submitting approval: %w", err)
	}
	if receipt.Status == domain.ReceiptFailed {
		return fmt.Errorf("approval transaction failed: %s", receipt.Description)
	}

	_, err = e.logs.Create(ctx, domain.TransactionLog{
		UserID:      req.UserID,
		Description: "approval: " + receipt.Description,
		TxHash:      receipt.TxHash,
		Chain:       ti.FromChain,
		Status:      domain.TxSuccess,
		Details: map[string]any{
			"idempotencyKey": req.IdempotencyKey,
			"intentType":     "approval",
		},
	})
	if err != nil {
		log.Error("persisting approval log failed", slog.String("error", err.Error()))
	}
	return nil
}

func (e *Engine) breakerTripped(sessionKeyID int64) bool {
	if e.cfg.CircuitBreakerThreshold <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failCounts[sessionKeyID] >= e.cfg.CircuitBreakerThreshold
}

func (e *Engine) recordFailure(sessionKeyID int64) {
	if e.cfg.CircuitBreakerThreshold <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCounts[sessionKeyID]++
}

func (e *Engine) resetFailures(sessionKeyID int64) {
	if e.cfg.CircuitBreakerThreshold <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.failCounts, sessionKeyID)
}

type pricePair struct {
	chain, token string
}

// intentPricePairs returns the (chain, tokenAddress) pairs an intent
// references for oracle validation.
func intentPricePairs(intent domain.Intent) []pricePair {
	switch intent.Type {
	case domain.IntentSwap, domain.IntentBridge:
		if intent.Transfer == nil {
			return nil
		}
		return []pricePair{{intent.Transfer.FromChain, intent.Transfer.FromToken}}
	case domain.IntentOpenPosition:
		if intent.OpenPosition == nil {
			return nil
		}
		return []pricePair{{intent.OpenPosition.Chain, intent.OpenPosition.Market}}
	default:
		return nil
	}
}

// intentChains returns every chain an intent touches, for permission checks.
func intentChains(intent domain.Intent) []string {
	switch intent.Type {
	case domain.IntentSwap, domain.IntentBridge:
		if intent.Transfer == nil {
			return nil
		}
		chains := []string{intent.Transfer.FromChain}
		if intent.Transfer.ToChain != "" && intent.Transfer.ToChain != intent.Transfer.FromChain {
			chains = append(chains, intent.Transfer.ToChain)
		}
		return chains
	case domain.IntentOpenPosition:
		if intent.OpenPosition == nil {
			return nil
		}
		return []string{intent.OpenPosition.Chain}
	case domain.IntentClosePosition:
		if intent.ClosePosition == nil {
			return nil
		}
		return []string{intent.ClosePosition.Chain}
	default:
		return nil
	}
}
