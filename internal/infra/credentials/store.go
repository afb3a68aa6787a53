// Package credentials resolves the generation API key from the database when
// neither environment source provides one.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"veogen/internal/infra"
	"veogen/internal/sqlinline"
)

const (
	ProviderVeo = "veo"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the token table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QCreateIntegrationTokens)
	return err
}

// VeoAPIKey returns the stored key, or "" when none was seeded.
func (s *Store) VeoAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderVeo)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetVeoAPIKey(ctx context.Context, key string, props map[string]any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("veo api key is required")
	}
	return s.upsert(ctx, ProviderVeo, key, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, uuid.New(), provider, token, raw)
	return err
}

// ResolveAPIKey fills cfg.APIKey from the store when the environment left it
// empty. A nil store leaves cfg untouched.
func ResolveAPIKey(ctx context.Context, cfg *infra.Config, store *Store) error {
	if cfg.HasAPIKey() || store == nil {
		return nil
	}
	key, err := store.VeoAPIKey(ctx)
	if err != nil {
		return err
	}
	cfg.APIKey = key
	return nil
}
