// Package crypto authenticates event signatures. The scheme is fixed:
// BIP-340 Schnorr over secp256k1 with 32-byte x-only public keys, the
// convention used by Nostr client software (NIP-01). Verification holds
// no secret material.
package crypto

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/nostrmart/core/pkg/event"
)

// Verifier checks that sig over id was produced by the private
// counterpart of pubkey. Implementations must reject malformed hex
// without panicking.
type Verifier interface {
	Verify(id, pubkey, sig string) error
}

// SchnorrVerifier implements Verifier with BIP-340 Schnorr verification.
type SchnorrVerifier struct{}

// NewSchnorrVerifier returns the production verifier.
func NewSchnorrVerifier() *SchnorrVerifier {
	return &SchnorrVerifier{}
}

// Verify checks sig against the 32-byte digest represented by id and the
// x-only public key pubkey. Any decoding failure or verification failure
// yields an invalid-signature rejection; no other error kinds escape.
func (v *SchnorrVerifier) Verify(id, pubkey, sig string) error {
	digest, err := hex.DecodeString(id)
	if err != nil || len(digest) != 32 {
		return event.InvalidSignature("id is not a 32-byte hex digest")
	}

	pkBytes, err := hex.DecodeString(pubkey)
	if err != nil || len(pkBytes) != schnorr.PubKeyBytesLen {
		return event.InvalidSignature("pubkey is not a 32-byte x-only key")
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return event.InvalidSignature("pubkey does not lie on the curve")
	}

	sigBytes, err := hex.DecodeString(sig)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return event.InvalidSignature("sig is not a 64-byte schnorr signature")
	}
	parsed, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return event.InvalidSignature("sig does not parse as a schnorr signature")
	}

	if !parsed.Verify(digest, pk) {
		return event.InvalidSignature("signature does not verify against id and pubkey")
	}
	return nil
}
