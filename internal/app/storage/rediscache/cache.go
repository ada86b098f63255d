// Package rediscache wraps a LedgerStore with a read-through balance cache.
// Balances are hot on every session completion and dashboard read; the
// transaction history stays uncached because it is an audit surface.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

const keyPrefix = "reward:balance:"

// Ledger decorates a LedgerStore with a redis read-through cache for
// GetBalance. Writes invalidate before returning, so a subsequent read
// repopulates from the authoritative store. Cache failures degrade to the
// underlying store and are logged, never surfaced.
type Ledger struct {
	next   storage.LedgerStore
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ storage.LedgerStore = (*Ledger)(nil)

// NewLedger wraps next with a balance cache. A non-positive ttl defaults to
// one minute.
func NewLedger(next storage.LedgerStore, client *redis.Client, ttl time.Duration, log *logger.Logger) *Ledger {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logger.NewDefault("rediscache")
	}
	return &Ledger{next: next, client: client, ttl: ttl, log: log}
}

func balanceKey(userID string) string {
	return keyPrefix + userID
}

func (l *Ledger) CreateBalance(ctx context.Context, bal currency.Balance) (currency.Balance, error) {
	created, err := l.next.CreateBalance(ctx, bal)
	if err != nil {
		return currency.Balance{}, err
	}
	l.invalidate(ctx, created.UserID)
	return created, nil
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (currency.Balance, error) {
	raw, err := l.client.Get(ctx, balanceKey(userID)).Bytes()
	if err == nil {
		var bal currency.Balance
		if err := json.Unmarshal(raw, &bal); err == nil {
			return bal, nil
		}
		// Unreadable entry; fall through and repopulate.
		l.invalidate(ctx, userID)
	} else if !errors.Is(err, redis.Nil) {
		l.log.WithError(err).Warn("balance cache read failed")
	}

	bal, err := l.next.GetBalance(ctx, userID)
	if err != nil {
		return currency.Balance{}, err
	}

	if raw, err := json.Marshal(bal); err == nil {
		if err := l.client.Set(ctx, balanceKey(userID), raw, l.ttl).Err(); err != nil {
			l.log.WithError(err).Warn("balance cache write failed")
		}
	}
	return bal, nil
}

func (l *Ledger) CreditReward(ctx context.Context, req storage.CreditRequest) (currency.Transaction, bool, error) {
	tx, applied, err := l.next.CreditReward(ctx, req)
	if err != nil {
		return currency.Transaction{}, false, err
	}
	if applied {
		l.invalidate(ctx, req.UserID)
	}
	return tx, applied, nil
}

func (l *Ledger) GetTransactionByReference(ctx context.Context, reference, txType string) (currency.Transaction, error) {
	return l.next.GetTransactionByReference(ctx, reference, txType)
}

func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]currency.Transaction, error) {
	return l.next.ListTransactions(ctx, userID, limit, offset)
}

func (l *Ledger) invalidate(ctx context.Context, userID string) {
	if err := l.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		l.log.WithError(err).WithField("user_id", userID).Warn("balance cache invalidation failed")
	}
}
