package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
	"github.com/alanyoungcy/chainstrategy/internal/telemetry"
)

type fakeLogStore struct {
	mu      sync.Mutex
	byKey   map[string]domain.TransactionLog
	created []domain.TransactionLog
	nextID  int64
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{byKey: make(map[string]domain.TransactionLog)}
}

func (f *fakeLogStore) Create(ctx context.Context, t domain.TransactionLog) (domain.TransactionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	f.created = append(f.created, t)
	if key := t.IdempotencyKey(); key != "" {
		f.byKey[key] = t
	}
	return t, nil
}
func (f *fakeLogStore) GetByIdempotencyKey(ctx context.Context, key string) (domain.TransactionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byKey[key]
	if !ok {
		return domain.TransactionLog{}, domain.ErrNotFound
	}
	return t, nil
}
func (f *fakeLogStore) ListByStrategy(ctx context.Context, strategyID int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	return nil, nil
}
func (f *fakeLogStore) ListByUser(ctx context.Context, userID int64, opts domain.ListOpts) ([]domain.TransactionLog, error) {
	return nil, nil
}
func (f *fakeLogStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeSessionKeyStore struct {
	keys map[int64]domain.SessionKey
}

func (f *fakeSessionKeyStore) Create(ctx context.Context, sk domain.SessionKey) (domain.SessionKey, error) {
	return domain.SessionKey{}, nil
}
func (f *fakeSessionKeyStore) GetByID(ctx context.Context, id int64) (domain.SessionKey, error) {
	sk, ok := f.keys[id]
	if !ok {
		return domain.SessionKey{}, domain.ErrNotFound
	}
	return sk, nil
}
func (f *fakeSessionKeyStore) Invalidate(ctx context.Context, id int64) error { return nil }
func (f *fakeSessionKeyStore) ListActiveByUser(ctx context.Context, userID int64) ([]domain.SessionKey, error) {
	return nil, nil
}

type fakeLockManager struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: make(map[string]string)}
}
func (l *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockHeld
	}
	token := key + "-token"
	l.held[key] = token
	return token, nil
}
func (l *fakeLockManager) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}
func (l *fakeLockManager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (l *fakeLockManager) WaitFor(ctx context.Context, key string, maxWait, ttl time.Duration) (string, error) {
	return l.Acquire(ctx, key, ttl)
}
func (l *fakeLockManager) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer l.Release(ctx, key, token)
	return fn(ctx)
}

type fakeOracle struct {
	result domain.OracleResult
	err    error
}

func (o *fakeOracle) Validate(ctx context.Context, chain, tokenAddress string) (domain.OracleResult, error) {
	return o.result, o.err
}

type fakeSigner struct {
	receipt domain.TxReceipt
	err     error
}

func (s *fakeSigner) SubmitSigned(ctx context.Context, intent domain.Intent, sk domain.SessionKey) (domain.TxReceipt, error) {
	return s.receipt, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeSessionKey(id int64) domain.SessionKey {
	return domain.SessionKey{ID: id, IsActive: true}
}

func TestExecuteSuccessPersistsLog(t *testing.T) {
	logs := newFakeLogStore()
	sessionKeys := &fakeSessionKeyStore{keys: map[int64]domain.SessionKey{7: activeSessionKey(7)}}
	locks := newFakeLockManager()
	signer := &fakeSigner{receipt: domain.TxReceipt{Status: domain.ReceiptSuccess, TxHash: "0xabc"}}

	e := NewEngine(logs, sessionKeys, locks, nil, nil, nil, signer, nil, nil, Config{}, telemetry.Noop(), testLogger())

	req := domain.ExecuteIntentRequest{
		UserID: 1, SessionKeyID: 7, IdempotencyKey: "strategy:1:job:a",
		Intent: domain.Intent{Type: domain.IntentCustom, Custom: &domain.CustomIntent{Name: "noop"}},
	}
	result, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != domain.TxSuccess {
		t.Fatalf("expected success status, got %s", result.Status)
	}
	if logs.count() != 1 {
		t.Fatalf("expected exactly one log, got %d", logs.count())
	}
}

func TestExecuteIdempotentSecondCallReturnsFirstLog(t *testing.T) {
	logs := newFakeLogStore()
	sessionKeys := &fakeSessionKeyStore{keys: map[int64]domain.SessionKey{7: activeSessionKey(7)}}
	locks := newFakeLockManager()
	signer := &fakeSigner{receipt: domain.TxReceipt{Status: domain.ReceiptSuccess, TxHash: "0xabc"}}

	e := NewEngine(logs, sessionKeys, locks, nil, nil, nil, signer, nil, nil, Config{}, telemetry.Noop(), testLogger())

	req := domain.ExecuteIntentRequest{
		UserID: 1, SessionKeyID: 7, IdempotencyKey: "strategy:1:job:a",
		Intent: domain.Intent{Type: domain.IntentCustom, Custom: &domain.CustomIntent{Name: "noop"}},
	}
	first, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	second, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same log id, got %d and %d", first.ID, second.ID)
	}
	if logs.count() != 1 {
		t.Fatalf("expected exactly one log despite two requests, got %d", logs.count())
	}
}

func TestExecuteRejectsDisallowedAction(t *testing.T) {
	logs := newFakeLogStore()
	sk := domain.SessionKey{ID: 7, IsActive: true, Permissions: domain.Permissions{Actions: []domain.Action{domain.ActionCustom}}}
	sessionKeys := &fakeSessionKeyStore{keys: map[int64]domain.SessionKey{7: sk}}
	locks := newFakeLockManager()
	signer := &fakeSigner{receipt: domain.TxReceipt{Status: domain.ReceiptSuccess}}

	e := NewEngine(logs, sessionKeys, locks, nil, nil, nil, signer, nil, nil, Config{}, telemetry.Noop(), testLogger())

	req := domain.ExecuteIntentRequest{
		UserID: 1, SessionKeyID: 7, IdempotencyKey: "strategy:1:job:b",
		Intent: domain.Intent{Type: domain.IntentSwap, Transfer: &domain.TransferIntent{FromChain: "ethereum", FromToken: "0xabc"}},
	}
	result, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != domain.TxFailed {
		t.Fatalf("expected failed status for disallowed action, got %s", result.Status)
	}
}

func TestExecuteOracleVetoRecordsFailedLogWithoutSigning(t *testing.T) {
	logs := newFakeLogStore()
	sessionKeys := &fakeSessionKeyStore{keys: map[int64]domain.SessionKey{7: activeSessionKey(7)}}
	locks := newFakeLockManager()
	oracle := &fakeOracle{result: domain.OracleResult{OK: false, Reason: "deviates 24.0% from median"}}
	signer := &fakeSigner{receipt: domain.TxReceipt{Status: domain.ReceiptSuccess}}

	e := NewEngine(logs, sessionKeys, locks, oracle, nil, nil, signer, nil, nil, Config{}, telemetry.Noop(), testLogger())

	req := domain.ExecuteIntentRequest{
		UserID: 1, SessionKeyID: 7, IdempotencyKey: "strategy:1:job:c",
		Intent: domain.Intent{Type: domain.IntentSwap, Transfer: &domain.TransferIntent{FromChain: "ethereum", FromToken: "0xabc", ToChain: "ethereum"}},
	}
	result, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != domain.TxFailed {
		t.Fatalf("expected failed status on oracle veto, got %s", result.Status)
	}
}

func TestExecuteReleasesLockOnSignerFailure(t *testing.T) {
	logs := newFakeLogStore()
	sessionKeys := &fakeSessionKeyStore{keys: map[int64]domain.SessionKey{7: activeSessionKey(7)}}
	locks := newFakeLockManager()
	signer := &fakeSigner{err: domain.ErrSigner}

	e := NewEngine(logs, sessionKeys, locks, nil, nil, nil, signer, nil, nil, Config{}, telemetry.Noop(), testLogger())

	req := domain.ExecuteIntentRequest{
		UserID: 1, SessionKeyID: 7, IdempotencyKey: "strategy:1:job:d",
		Intent: domain.Intent{Type: domain.IntentCustom, Custom: &domain.CustomIntent{Name: "noop"}},
	}
	if _, err := e.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	locks.mu.Lock()
	_, stillHeld := locks.held["strategy-execute:7"]
	locks.mu.Unlock()
	if stillHeld {
		t.Fatalf("expected lock to be released after signer failure")
	}
}
