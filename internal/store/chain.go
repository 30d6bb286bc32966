package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetChainIdentifier returns the chain identifier the store is bound to.
// ok is false before the first PersistProtocolConfigsAndFeatureFlags.
func (s *Store) GetChainIdentifier(ctx context.Context) ([]byte, bool, error) {
	var id []byte
	err := s.db.QueryRowContext(ctx, `SELECT identifier FROM chain_identifier WHERE id = 0`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("get chain identifier", err)
	}
	return id, true, nil
}

// PersistProtocolConfigsAndFeatureFlags binds the store to chainID and
// stores the protocol configs and feature flags the configured provider
// returns for it. The first writer wins: once a chain identifier exists the
// call does nothing, even for a different chainID.
func (s *Store) PersistProtocolConfigsAndFeatureFlags(ctx context.Context, chainID []byte) error {
	const op = "persist protocol configs and feature flags"
	if len(chainID) == 0 {
		return newError(KindSchemaViolation, op, "empty chain identifier")
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_identifier`).Scan(&count); err != nil {
			return fmt.Errorf("read chain identifier: %w", err)
		}
		if count > 0 {
			return nil
		}

		if s.protocolConfigs != nil {
			configs, flags, err := s.protocolConfigs(chainID)
			if err != nil {
				return fmt.Errorf("load protocol configs: %w", err)
			}
			if err := persistProtocolConfigs(ctx, tx, configs, flags); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chain_identifier (id, identifier) VALUES (0, ?)
		`, chainID); err != nil {
			return fmt.Errorf("insert chain identifier: %w", err)
		}
		return nil
	})
}

func persistProtocolConfigs(ctx context.Context, tx dbtx, configs []ProtocolConfig, flags []FeatureFlag) error {
	const op = "persist protocol configs"
	for _, c := range configs {
		v, err := int64Of(op, "protocol version", c.ProtocolVersion)
		if err != nil {
			return err
		}
		var value sql.NullString
		if c.Value != nil {
			value = sql.NullString{String: *c.Value, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO protocol_configs (protocol_version, config_name, config_value)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, v, c.Name, value); err != nil {
			return fmt.Errorf("insert protocol config %s: %w", c.Name, err)
		}
	}
	for _, f := range flags {
		v, err := int64Of(op, "protocol version", f.ProtocolVersion)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO feature_flags (protocol_version, flag_name, flag_value)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, v, f.Name, f.Value); err != nil {
			return fmt.Errorf("insert feature flag %s: %w", f.Name, err)
		}
	}
	return nil
}
