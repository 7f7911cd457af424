package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/nostrmart/core/pkg/event"
)

// EventSigner produces fully-signed events. The ingest pipeline never
// signs anything; this exists for tests and operator tooling that need
// well-formed fixtures.
type EventSigner struct {
	priv *btcec.PrivateKey
}

// NewEventSigner generates a fresh secp256k1 keypair.
func NewEventSigner() (*EventSigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &EventSigner{priv: priv}, nil
}

// NewEventSignerFromKey wraps an existing private key.
func NewEventSignerFromKey(priv *btcec.PrivateKey) *EventSigner {
	return &EventSigner{priv: priv}
}

// PubKeyHex returns the x-only public key as 64 lowercase hex characters.
func (s *EventSigner) PubKeyHex() string {
	return hex.EncodeToString(schnorr.SerializePubKey(s.priv.PubKey()))
}

// Sign stamps PubKey, derives ID from the signed fields, and signs the
// digest with BIP-340 Schnorr. The event must already carry CreatedAt,
// Kind, Tags, and Content.
func (s *EventSigner) Sign(ev *event.Event) error {
	ev.PubKey = s.PubKeyHex()
	id, err := ev.DeriveID()
	if err != nil {
		return err
	}
	ev.ID = id

	digest, err := ev.Digest()
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(s.priv, digest[:])
	if err != nil {
		return fmt.Errorf("schnorr sign failed: %w", err)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
