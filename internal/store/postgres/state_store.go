package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// StateStore implements domain.StateStore: one JSONB snapshot row per vault.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Save upserts the snapshot. An older version never overwrites a newer one,
// so out-of-order saves from concurrent publishers are harmless.
func (s *StateStore) Save(ctx context.Context, state *domain.VaultState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal vault state: %w", err)
	}
	const query = `
		INSERT INTO vault_state (vault, version, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vault) DO UPDATE
		SET version = EXCLUDED.version, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
		WHERE vault_state.version < EXCLUDED.version`
	if _, err := s.pool.Exec(ctx, query, state.Vault.Hex(), int64(state.Version), body, state.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save vault state %s: %w", state.Vault.Hex(), err)
	}
	return nil
}

// Load returns the latest saved snapshot of vault.
func (s *StateStore) Load(ctx context.Context, vault common.Address) (*domain.VaultState, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM vault_state WHERE vault = $1`, vault.Hex()).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: vault state %s: %w", vault.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load vault state %s: %w", vault.Hex(), err)
	}
	var state domain.VaultState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal vault state %s: %w", vault.Hex(), err)
	}
	return &state, nil
}

var _ domain.StateStore = (*StateStore)(nil)
