package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. The single mutex also serializes balance mutations, which is
// what gives CreditReward its atomicity here.
type Store struct {
	mu               sync.RWMutex
	nextID           int64
	sessions         map[string]session.FocusSession
	definitions      map[string]catalog.Definition
	ownedModules     map[string]catalog.OwnedModule
	balances         map[string]currency.Balance
	transactions     map[string][]currency.Transaction
	transactionsByID map[string]currency.Transaction
	transactionsRef  map[string]string // reference|type -> transaction id
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:           1,
		sessions:         make(map[string]session.FocusSession),
		definitions:      make(map[string]catalog.Definition),
		ownedModules:     make(map[string]catalog.OwnedModule),
		balances:         make(map[string]currency.Balance),
		transactions:     make(map[string][]currency.Transaction),
		transactionsByID: make(map[string]currency.Transaction),
		transactionsRef:  make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func refKey(reference, txType string) string {
	return reference + "|" + txType
}

// SessionStore implementation ------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess session.FocusSession) (session.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.FocusSession{}, fmt.Errorf("session %s already exists", sess.ID)
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.Assembly = cloneAssembly(sess.Assembly)

	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.FocusSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.FocusSession{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return cloneSession(sess), nil
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]session.FocusSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]session.FocusSession, 0)
	for _, sess := range s.sessions {
		if userID == "" || sess.UserID == userID {
			result = append(result, cloneSession(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateSession(_ context.Context, sess session.FocusSession, expect session.Status) (session.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sessions[sess.ID]
	if !ok {
		return session.FocusSession{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrNotFound)
	}
	if original.Status != expect {
		return session.FocusSession{}, storage.ErrStatusConflict
	}

	sess.CreatedAt = original.CreatedAt
	sess.UpdatedAt = time.Now().UTC()
	sess.Assembly = cloneAssembly(sess.Assembly)

	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *Store) ListUncredited(_ context.Context) ([]session.FocusSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []session.FocusSession
	for _, sess := range s.sessions {
		if sess.Status != session.StatusCompleted {
			continue
		}
		if _, ok := s.transactionsRef[refKey(sess.ID, currency.TypeFocusSessionReward)]; ok {
			continue
		}
		result = append(result, cloneSession(sess))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EndedAt.Before(result[j].EndedAt) })
	return result, nil
}

// CatalogStore implementation ------------------------------------------------

func (s *Store) CreateDefinition(_ context.Context, def catalog.Definition) (catalog.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == "" {
		def.ID = s.nextIDLocked()
	} else if _, exists := s.definitions[def.ID]; exists {
		return catalog.Definition{}, fmt.Errorf("definition %s already exists", def.ID)
	}

	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Effects = append([]catalog.Effect(nil), def.Effects...)

	s.definitions[def.ID] = def
	return cloneDefinition(def), nil
}

func (s *Store) GetDefinition(_ context.Context, id string) (catalog.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return catalog.Definition{}, fmt.Errorf("definition %s: %w", id, storage.ErrNotFound)
	}
	return cloneDefinition(def), nil
}

func (s *Store) ListDefinitions(_ context.Context) ([]catalog.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		result = append(result, cloneDefinition(def))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) CreateOwnedModule(_ context.Context, mod catalog.OwnedModule) (catalog.OwnedModule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mod.ID == "" {
		mod.ID = s.nextIDLocked()
	} else if _, exists := s.ownedModules[mod.ID]; exists {
		return catalog.OwnedModule{}, fmt.Errorf("owned module %s already exists", mod.ID)
	}
	if _, ok := s.definitions[mod.DefinitionID]; !ok {
		return catalog.OwnedModule{}, fmt.Errorf("definition %s: %w", mod.DefinitionID, storage.ErrNotFound)
	}
	if mod.Level < 1 {
		mod.Level = 1
	}

	now := time.Now().UTC()
	mod.CreatedAt = now
	mod.UpdatedAt = now

	s.ownedModules[mod.ID] = mod
	return mod, nil
}

func (s *Store) GetOwnedModule(_ context.Context, id string) (catalog.OwnedModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, ok := s.ownedModules[id]
	if !ok {
		return catalog.OwnedModule{}, fmt.Errorf("owned module %s: %w", id, storage.ErrNotFound)
	}
	return mod, nil
}

func (s *Store) ListOwnedModules(_ context.Context, userID string) ([]catalog.OwnedModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.OwnedModule, 0)
	for _, mod := range s.ownedModules {
		if userID == "" || mod.UserID == userID {
			result = append(result, mod)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// LedgerStore implementation -------------------------------------------------

func (s *Store) CreateBalance(_ context.Context, bal currency.Balance) (currency.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bal.UserID == "" {
		return currency.Balance{}, fmt.Errorf("user id is required")
	}
	if _, exists := s.balances[bal.UserID]; exists {
		return currency.Balance{}, fmt.Errorf("balance for user %s already exists", bal.UserID)
	}

	bal.UpdatedAt = time.Now().UTC()
	s.balances[bal.UserID] = bal
	return bal, nil
}

func (s *Store) GetBalance(_ context.Context, userID string) (currency.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[userID]
	if !ok {
		return currency.Balance{}, fmt.Errorf("balance for user %s: %w", userID, storage.ErrNotFound)
	}
	return bal, nil
}

func (s *Store) CreditReward(_ context.Context, req storage.CreditRequest) (currency.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[req.UserID]
	if !ok {
		return currency.Transaction{}, false, fmt.Errorf("balance for user %s: %w", req.UserID, storage.ErrNotFound)
	}

	if id, ok := s.transactionsRef[refKey(req.Reference, req.Type)]; ok {
		return cloneTransaction(s.transactionsByID[id]), false, nil
	}

	energyApplied := storage.ClampDelta(bal.Energy, req.Energy, req.EnergyCeiling)
	dopamineApplied := storage.ClampDelta(bal.Dopamine, req.Dopamine, req.DopamineCeiling)

	bal.Energy = bal.Energy.Add(energyApplied)
	bal.Dopamine = bal.Dopamine.Add(dopamineApplied)
	bal.LifetimeEnergy = bal.LifetimeEnergy.Add(energyApplied)
	bal.LifetimeDopamine = bal.LifetimeDopamine.Add(dopamineApplied)
	bal.UpdatedAt = time.Now().UTC()
	s.balances[req.UserID] = bal

	tx := currency.Transaction{
		ID:            s.nextIDLocked(),
		UserID:        req.UserID,
		Type:          req.Type,
		EnergyDelta:   energyApplied,
		DopamineDelta: dopamineApplied,
		EnergyAfter:   bal.Energy,
		DopamineAfter: bal.Dopamine,
		Reference:     req.Reference,
		Metadata:      cloneMap(req.Metadata),
		CreatedAt:     bal.UpdatedAt,
	}

	s.transactions[req.UserID] = append(s.transactions[req.UserID], tx)
	s.transactionsByID[tx.ID] = tx
	s.transactionsRef[refKey(req.Reference, req.Type)] = tx.ID
	return cloneTransaction(tx), true, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, reference, txType string) (currency.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.transactionsRef[refKey(reference, txType)]
	if !ok {
		return currency.Transaction{}, fmt.Errorf("transaction for reference %s: %w", reference, storage.ErrNotFound)
	}
	return cloneTransaction(s.transactionsByID[id]), nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit, offset int) ([]currency.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.transactions[userID]
	// Newest first.
	result := make([]currency.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		result = append(result, cloneTransaction(all[i]))
	}
	if offset >= len(result) {
		return []currency.Transaction{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}
