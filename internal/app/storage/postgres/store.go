// Package postgres implements the storage interfaces on PostgreSQL. Row
// structs and their db tags live here so the domain packages stay free of
// persistence concerns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
)

const pqUniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// --- SessionStore -----------------------------------------------------------

type sessionRow struct {
	ID                string              `db:"id"`
	UserID            string              `db:"user_id"`
	TaskID            sql.NullString      `db:"task_id"`
	Category          sql.NullString      `db:"category"`
	PlannedMinutes    int                 `db:"planned_minutes"`
	ActualMinutes     sql.NullInt64       `db:"actual_minutes"`
	Status            string              `db:"status"`
	Interruptions     int                 `db:"interruptions"`
	Assembly          []byte              `db:"assembly"`
	EnergyGenerated   decimal.NullDecimal `db:"energy_generated"`
	DopamineGenerated decimal.NullDecimal `db:"dopamine_generated"`
	StartedAt         sql.NullTime        `db:"started_at"`
	EndedAt           sql.NullTime        `db:"ended_at"`
	CreatedAt         time.Time           `db:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at"`
}

func sessionToRow(sess session.FocusSession) (sessionRow, error) {
	row := sessionRow{
		ID:             sess.ID,
		UserID:         sess.UserID,
		TaskID:         toNullString(sess.TaskID),
		Category:       toNullString(sess.Category),
		PlannedMinutes: sess.PlannedMinutes,
		Status:         string(sess.Status),
		Interruptions:  sess.Interruptions,
		StartedAt:      toNullTime(sess.StartedAt),
		EndedAt:        toNullTime(sess.EndedAt),
		CreatedAt:      sess.CreatedAt,
		UpdatedAt:      sess.UpdatedAt,
	}
	if sess.Status.Terminal() {
		row.ActualMinutes = sql.NullInt64{Int64: int64(sess.ActualMinutes), Valid: true}
	}
	if sess.Status == session.StatusCompleted {
		row.EnergyGenerated = decimal.NullDecimal{Decimal: sess.EnergyGenerated, Valid: true}
		row.DopamineGenerated = decimal.NullDecimal{Decimal: sess.DopamineGenerated, Valid: true}
	}
	if sess.Assembly != nil {
		raw, err := json.Marshal(sess.Assembly)
		if err != nil {
			return sessionRow{}, fmt.Errorf("marshal assembly snapshot: %w", err)
		}
		row.Assembly = raw
	}
	return row, nil
}

func (r sessionRow) toDomain() (session.FocusSession, error) {
	sess := session.FocusSession{
		ID:                r.ID,
		UserID:            r.UserID,
		TaskID:            r.TaskID.String,
		Category:          r.Category.String,
		PlannedMinutes:    r.PlannedMinutes,
		ActualMinutes:     int(r.ActualMinutes.Int64),
		Status:            session.Status(r.Status),
		Interruptions:     r.Interruptions,
		EnergyGenerated:   r.EnergyGenerated.Decimal,
		DopamineGenerated: r.DopamineGenerated.Decimal,
		StartedAt:         fromNullTime(r.StartedAt),
		EndedAt:           fromNullTime(r.EndedAt),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.Assembly) > 0 {
		var snap catalog.AssemblySnapshot
		if err := json.Unmarshal(r.Assembly, &snap); err != nil {
			return session.FocusSession{}, fmt.Errorf("unmarshal assembly snapshot: %w", err)
		}
		sess.Assembly = &snap
	}
	return sess, nil
}

const sessionColumns = `id, user_id, task_id, category, planned_minutes, actual_minutes,
	status, interruptions, assembly, energy_generated, dopamine_generated,
	started_at, ended_at, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, sess session.FocusSession) (session.FocusSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	row, err := sessionToRow(sess)
	if err != nil {
		return session.FocusSession{}, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO focus_sessions (`+sessionColumns+`)
		VALUES (:id, :user_id, :task_id, :category, :planned_minutes, :actual_minutes,
			:status, :interruptions, :assembly, :energy_generated, :dopamine_generated,
			:started_at, :ended_at, :created_at, :updated_at)
	`, row)
	if err != nil {
		return session.FocusSession{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.FocusSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+sessionColumns+`
		FROM focus_sessions
		WHERE id = $1
	`, id)
	if err != nil {
		return session.FocusSession{}, notFound(err, "session", id)
	}
	return row.toDomain()
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]session.FocusSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM focus_sessions ORDER BY created_at`
	args := []any{}
	if userID != "" {
		query = `SELECT ` + sessionColumns + ` FROM focus_sessions WHERE user_id = $1 ORDER BY created_at`
		args = append(args, userID)
	}

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]session.FocusSession, 0, len(rows))
	for _, row := range rows {
		sess, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess session.FocusSession, expect session.Status) (session.FocusSession, error) {
	sess.UpdatedAt = time.Now().UTC()

	row, err := sessionToRow(sess)
	if err != nil {
		return session.FocusSession{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE focus_sessions
		SET task_id = $3, category = $4, planned_minutes = $5, actual_minutes = $6,
			status = $7, interruptions = $8, assembly = $9,
			energy_generated = $10, dopamine_generated = $11,
			started_at = $12, ended_at = $13, updated_at = $14
		WHERE id = $1 AND status = $2
	`, row.ID, string(expect), row.TaskID, row.Category, row.PlannedMinutes,
		row.ActualMinutes, row.Status, row.Interruptions, row.Assembly,
		row.EnergyGenerated, row.DopamineGenerated, row.StartedAt, row.EndedAt,
		row.UpdatedAt)
	if err != nil {
		return session.FocusSession{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Either the row is gone or another transition won the race.
		if _, err := s.GetSession(ctx, sess.ID); err != nil {
			return session.FocusSession{}, err
		}
		return session.FocusSession{}, storage.ErrStatusConflict
	}
	return s.GetSession(ctx, sess.ID)
}

func (s *Store) ListUncredited(ctx context.Context) ([]session.FocusSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+`
		FROM focus_sessions s
		WHERE s.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM reward_transactions t
			WHERE t.reference = s.id AND t.type = $2
		  )
		ORDER BY s.ended_at
	`, string(session.StatusCompleted), currency.TypeFocusSessionReward)
	if err != nil {
		return nil, err
	}

	result := make([]session.FocusSession, 0, len(rows))
	for _, row := range rows {
		sess, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, nil
}

// --- CatalogStore -----------------------------------------------------------

type definitionRow struct {
	ID           string          `db:"id"`
	Name         string          `db:"name"`
	Type         string          `db:"type"`
	Rarity       sql.NullString  `db:"rarity"`
	EnergyCost   decimal.Decimal `db:"energy_cost"`
	DopamineRate decimal.Decimal `db:"dopamine_rate"`
	Effects      []byte          `db:"effects"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r definitionRow) toDomain() (catalog.Definition, error) {
	def := catalog.Definition{
		ID:           r.ID,
		Name:         r.Name,
		Type:         catalog.ModuleType(r.Type),
		Rarity:       r.Rarity.String,
		EnergyCost:   r.EnergyCost,
		DopamineRate: r.DopamineRate,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Effects) > 0 {
		if err := json.Unmarshal(r.Effects, &def.Effects); err != nil {
			return catalog.Definition{}, fmt.Errorf("unmarshal definition effects: %w", err)
		}
	}
	return def, nil
}

const definitionColumns = `id, name, type, rarity, energy_cost, dopamine_rate, effects, created_at, updated_at`

func (s *Store) CreateDefinition(ctx context.Context, def catalog.Definition) (catalog.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	effectsJSON, err := json.Marshal(def.Effects)
	if err != nil {
		return catalog.Definition{}, fmt.Errorf("marshal definition effects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_definitions (`+definitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, def.ID, def.Name, string(def.Type), toNullString(def.Rarity),
		def.EnergyCost, def.DopamineRate, effectsJSON, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return catalog.Definition{}, err
	}
	return def, nil
}

func (s *Store) GetDefinition(ctx context.Context, id string) (catalog.Definition, error) {
	var row definitionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+definitionColumns+`
		FROM module_definitions
		WHERE id = $1
	`, id)
	if err != nil {
		return catalog.Definition{}, notFound(err, "definition", id)
	}
	return row.toDomain()
}

func (s *Store) ListDefinitions(ctx context.Context) ([]catalog.Definition, error) {
	var rows []definitionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+definitionColumns+`
		FROM module_definitions
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}

	result := make([]catalog.Definition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, nil
}

type ownedModuleRow struct {
	ID           string          `db:"id"`
	UserID       string          `db:"user_id"`
	DefinitionID string          `db:"definition_id"`
	Level        int             `db:"level"`
	Enhancement  decimal.Decimal `db:"enhancement"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r ownedModuleRow) toDomain() catalog.OwnedModule {
	return catalog.OwnedModule{
		ID:           r.ID,
		UserID:       r.UserID,
		DefinitionID: r.DefinitionID,
		Level:        r.Level,
		Enhancement:  r.Enhancement,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const ownedModuleColumns = `id, user_id, definition_id, level, enhancement, created_at, updated_at`

func (s *Store) CreateOwnedModule(ctx context.Context, mod catalog.OwnedModule) (catalog.OwnedModule, error) {
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	if mod.Level < 1 {
		mod.Level = 1
	}
	now := time.Now().UTC()
	mod.CreatedAt = now
	mod.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owned_modules (`+ownedModuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, mod.ID, mod.UserID, mod.DefinitionID, mod.Level, mod.Enhancement,
		mod.CreatedAt, mod.UpdatedAt)
	if err != nil {
		return catalog.OwnedModule{}, err
	}
	return mod, nil
}

func (s *Store) GetOwnedModule(ctx context.Context, id string) (catalog.OwnedModule, error) {
	var row ownedModuleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+ownedModuleColumns+`
		FROM owned_modules
		WHERE id = $1
	`, id)
	if err != nil {
		return catalog.OwnedModule{}, notFound(err, "owned module", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListOwnedModules(ctx context.Context, userID string) ([]catalog.OwnedModule, error) {
	query := `SELECT ` + ownedModuleColumns + ` FROM owned_modules ORDER BY created_at`
	args := []any{}
	if userID != "" {
		query = `SELECT ` + ownedModuleColumns + ` FROM owned_modules WHERE user_id = $1 ORDER BY created_at`
		args = append(args, userID)
	}

	var rows []ownedModuleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]catalog.OwnedModule, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- LedgerStore ------------------------------------------------------------

type balanceRow struct {
	UserID           string          `db:"user_id"`
	Energy           decimal.Decimal `db:"energy"`
	Dopamine         decimal.Decimal `db:"dopamine"`
	LifetimeEnergy   decimal.Decimal `db:"lifetime_energy"`
	LifetimeDopamine decimal.Decimal `db:"lifetime_dopamine"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r balanceRow) toDomain() currency.Balance {
	return currency.Balance{
		UserID:           r.UserID,
		Energy:           r.Energy,
		Dopamine:         r.Dopamine,
		LifetimeEnergy:   r.LifetimeEnergy,
		LifetimeDopamine: r.LifetimeDopamine,
		UpdatedAt:        r.UpdatedAt,
	}
}

type transactionRow struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	Type          string          `db:"type"`
	EnergyDelta   decimal.Decimal `db:"energy_delta"`
	DopamineDelta decimal.Decimal `db:"dopamine_delta"`
	EnergyAfter   decimal.Decimal `db:"energy_after"`
	DopamineAfter decimal.Decimal `db:"dopamine_after"`
	Reference     string          `db:"reference"`
	Metadata      []byte          `db:"metadata"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (r transactionRow) toDomain() (currency.Transaction, error) {
	tx := currency.Transaction{
		ID:            r.ID,
		UserID:        r.UserID,
		Type:          r.Type,
		EnergyDelta:   r.EnergyDelta,
		DopamineDelta: r.DopamineDelta,
		EnergyAfter:   r.EnergyAfter,
		DopamineAfter: r.DopamineAfter,
		Reference:     r.Reference,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &tx.Metadata); err != nil {
			return currency.Transaction{}, fmt.Errorf("unmarshal transaction metadata: %w", err)
		}
	}
	return tx, nil
}

const balanceColumns = `user_id, energy, dopamine, lifetime_energy, lifetime_dopamine, updated_at`

const transactionColumns = `id, user_id, type, energy_delta, dopamine_delta,
	energy_after, dopamine_after, reference, metadata, created_at`

func (s *Store) CreateBalance(ctx context.Context, bal currency.Balance) (currency.Balance, error) {
	if bal.UserID == "" {
		return currency.Balance{}, fmt.Errorf("user id is required")
	}
	bal.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_balances (`+balanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, bal.UserID, bal.Energy, bal.Dopamine, bal.LifetimeEnergy,
		bal.LifetimeDopamine, bal.UpdatedAt)
	if err != nil {
		return currency.Balance{}, err
	}
	return bal, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (currency.Balance, error) {
	var row balanceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+balanceColumns+`
		FROM reward_balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return currency.Balance{}, notFound(err, "balance for user", userID)
	}
	return row.toDomain(), nil
}

// CreditReward runs the atomic credit protocol: lock the balance row, check
// the (reference, type) pair for a prior credit, clamp to the ceilings, then
// update the balance and insert the transaction in one commit. The unique
// constraint on (reference, type) backstops the in-transaction check when two
// credits race on different balance rows.
func (s *Store) CreditReward(ctx context.Context, req storage.CreditRequest) (currency.Transaction, bool, error) {
	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return currency.Transaction{}, false, err
	}
	defer func() { _ = dbtx.Rollback() }()

	var bal balanceRow
	err = dbtx.GetContext(ctx, &bal, `
		SELECT `+balanceColumns+`
		FROM reward_balances
		WHERE user_id = $1
		FOR UPDATE
	`, req.UserID)
	if err != nil {
		return currency.Transaction{}, false, notFound(err, "balance for user", req.UserID)
	}

	var existing transactionRow
	err = dbtx.GetContext(ctx, &existing, `
		SELECT `+transactionColumns+`
		FROM reward_transactions
		WHERE reference = $1 AND type = $2
	`, req.Reference, req.Type)
	if err == nil {
		tx, convErr := existing.toDomain()
		return tx, false, convErr
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return currency.Transaction{}, false, err
	}

	energyApplied := storage.ClampDelta(bal.Energy, req.Energy, req.EnergyCeiling)
	dopamineApplied := storage.ClampDelta(bal.Dopamine, req.Dopamine, req.DopamineCeiling)

	now := time.Now().UTC()
	bal.Energy = bal.Energy.Add(energyApplied)
	bal.Dopamine = bal.Dopamine.Add(dopamineApplied)
	bal.LifetimeEnergy = bal.LifetimeEnergy.Add(energyApplied)
	bal.LifetimeDopamine = bal.LifetimeDopamine.Add(dopamineApplied)
	bal.UpdatedAt = now

	_, err = dbtx.ExecContext(ctx, `
		UPDATE reward_balances
		SET energy = $2, dopamine = $3, lifetime_energy = $4,
			lifetime_dopamine = $5, updated_at = $6
		WHERE user_id = $1
	`, bal.UserID, bal.Energy, bal.Dopamine, bal.LifetimeEnergy,
		bal.LifetimeDopamine, bal.UpdatedAt)
	if err != nil {
		return currency.Transaction{}, false, err
	}

	metadataJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return currency.Transaction{}, false, fmt.Errorf("marshal transaction metadata: %w", err)
	}

	tx := currency.Transaction{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Type:          req.Type,
		EnergyDelta:   energyApplied,
		DopamineDelta: dopamineApplied,
		EnergyAfter:   bal.Energy,
		DopamineAfter: bal.Dopamine,
		Reference:     req.Reference,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO reward_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tx.ID, tx.UserID, tx.Type, tx.EnergyDelta, tx.DopamineDelta,
		tx.EnergyAfter, tx.DopamineAfter, tx.Reference, metadataJSON, tx.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			_ = dbtx.Rollback()
			prior, getErr := s.GetTransactionByReference(ctx, req.Reference, req.Type)
			if getErr != nil {
				return currency.Transaction{}, false, getErr
			}
			return prior, false, nil
		}
		return currency.Transaction{}, false, err
	}

	if err := dbtx.Commit(); err != nil {
		return currency.Transaction{}, false, err
	}
	return tx, true, nil
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference, txType string) (currency.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM reward_transactions
		WHERE reference = $1 AND type = $2
	`, reference, txType)
	if err != nil {
		return currency.Transaction{}, notFound(err, "transaction for reference", reference)
	}
	return row.toDomain()
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]currency.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM reward_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	result := make([]currency.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}
