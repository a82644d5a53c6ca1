package relay

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Signer holds the bot identity
type Signer struct {
	secretKey string
	publicKey string
	npub      string
}

// NewSigner accepts a bech32 nsec or a 64 character hex secret key
func NewSigner(raw string) (*Signer, error) {
	raw = strings.TrimSpace(raw)

	var sk string
	switch {
	case strings.HasPrefix(raw, "nsec1"):
		prefix, value, err := nip19.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode nsec: %w", err)
		}
		s, ok := value.(string)
		if prefix != "nsec" || !ok {
			return nil, fmt.Errorf("unexpected bech32 prefix %q", prefix)
		}
		sk = s
	case len(raw) == 64:
		if _, err := hex.DecodeString(raw); err != nil {
			return nil, fmt.Errorf("secret key is not valid hex: %w", err)
		}
		sk = strings.ToLower(raw)
	default:
		return nil, fmt.Errorf("secret key must be an nsec or 64 hex characters")
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode npub: %w", err)
	}

	return &Signer{secretKey: sk, publicKey: pk, npub: npub}, nil
}

// PublicKey returns the hex public key
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// NPub returns the bech32 public key
func (s *Signer) NPub() string {
	return s.npub
}

// Sign sets the author, id and signature of the event
func (s *Signer) Sign(evt *nostr.Event) error {
	evt.PubKey = s.publicKey
	if err := evt.Sign(s.secretKey); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	return nil
}
