// File: internal/infra/p2p/identity.go
package p2p

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/rs/zerolog"
)

// LoadOrCreateIdentity returns a persistent node identity. When path
// names an existing file its key is loaded; otherwise a fresh Ed25519
// key is generated and, if a path was given, written there. An empty
// path yields an ephemeral identity.
func LoadOrCreateIdentity(path string, log zerolog.Logger) (crypto.PrivKey, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			priv, err := crypto.UnmarshalPrivateKey(raw)
			if err != nil {
				return nil, fmt.Errorf("parse node key %s: %w", path, err)
			}
			log.Info().Str("path", path).Msg("loaded node identity")
			return priv, nil
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read node key %s: %w", path, err)
		}
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if path != "" {
		raw, err := crypto.MarshalPrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("marshal node key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return nil, fmt.Errorf("write node key %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("generated and persisted node identity")
	}
	return priv, nil
}
