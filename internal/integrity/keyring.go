// Package integrity signs export bundles with per-chain HMAC keys.
//
// Root keys are configured by id. Each chain gets its own key derived with
// HKDF-SHA256, so a leaked chain key does not expose other chains.
package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSignatureMismatch is returned when a signature does not verify.
var ErrSignatureMismatch = errors.New("signature mismatch")

// Keyring stores root HMAC keys and the active key id.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewKeyring constructs a keyring for signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("signing keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active signing key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active signing key id %q is not configured", activeKeyID)
	}
	for id, key := range keys {
		if len(key) < 16 {
			return nil, fmt.Errorf("signing key %q is shorter than 16 bytes", id)
		}
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// ParseKeys parses "id=secret,id2=secret2" into a key map.
func ParseKeys(list string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, value, ok := strings.Cut(item, "=")
		id, value = strings.TrimSpace(id), strings.TrimSpace(value)
		if !ok || id == "" || value == "" {
			return nil, fmt.Errorf("invalid signing key entry %q", item)
		}
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("duplicate signing key id %q", id)
		}
		keys[id] = []byte(value)
	}
	return keys, nil
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// KeyIDs returns the configured key ids in sorted order.
func (k *Keyring) KeyIDs() []string {
	if k == nil {
		return nil
	}
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sign signs digest for chainID with the active key.
// Returns the hex signature and the key id used.
func (k *Keyring) Sign(chainID, digest string) (string, string, error) {
	if k == nil {
		return "", "", fmt.Errorf("signing keyring is not configured")
	}
	key, err := deriveChainKey(k.keys[k.activeKeyID], chainID)
	if err != nil {
		return "", "", err
	}
	return hmacSHA256Hex(key, digest), k.activeKeyID, nil
}

// Verify checks a signature produced by Sign with keyID.
func (k *Keyring) Verify(chainID, digest, signature, keyID string) error {
	if k == nil {
		return fmt.Errorf("signing keyring is not configured")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return fmt.Errorf("signature key id is required")
	}
	rootKey, ok := k.keys[keyID]
	if !ok {
		return fmt.Errorf("signature key id %q is unknown", keyID)
	}
	key, err := deriveChainKey(rootKey, chainID)
	if err != nil {
		return err
	}
	expected := hmacSHA256Hex(key, digest)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

func deriveChainKey(rootKey []byte, chainID string) ([]byte, error) {
	chainID = strings.TrimSpace(chainID)
	if chainID == "" {
		return nil, fmt.Errorf("chain id is required")
	}
	key, err := hkdf.Key(sha256.New, rootKey, nil, "auditchain/chain:"+chainID, 32)
	if err != nil {
		return nil, fmt.Errorf("derive chain key: %w", err)
	}
	return key, nil
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
