// Package auth signs and verifies mirror requests.
//
// Every request carries "Authorization: Nostr <base64 event>", where the event
// is a small JSON document bound to the request method and URI and signed with
// the device's ed25519 key.
package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scheme is the Authorization header scheme.
const Scheme = "Nostr"

// EventKind tags mirror request events.
const EventKind = 27235

// DefaultMaxSkew bounds how far created_at may be from the verifier's clock.
const DefaultMaxSkew = 60 * time.Second

var (
	// ErrMissingAuth is returned when no Nostr authorization is present.
	ErrMissingAuth = errors.New("missing authorization")
	// ErrInvalidAuth is returned for undecodable or mismatched events.
	ErrInvalidAuth = errors.New("invalid authorization")
	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrExpired is returned when created_at is outside the allowed skew.
	ErrExpired = errors.New("authorization expired")
)

// Signer produces Authorization header values for outgoing requests.
type Signer interface {
	// Authorization returns the header value for a request.
	Authorization(method, requestURI string) (string, error)
	// PublicKey returns the hex public key requests are signed with.
	PublicKey() string
}

// Event is the signed request document.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first value of the named tag.
func (e Event) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// computeID hashes the event fields in a fixed array order.
func (e Event) computeID() ([]byte, error) {
	data, err := json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Ed25519Signer signs requests with an ed25519 private key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
	now func() time.Time
}

// NewEd25519Signer returns a signer for key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key, now: time.Now}
}

// PublicKey returns the hex encoded public key.
func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign builds and signs an event for the request.
func (s *Ed25519Signer) Sign(method, requestURI string) (Event, error) {
	ev := Event{
		PubKey:    s.PublicKey(),
		CreatedAt: s.now().Unix(),
		Kind:      EventKind,
		Tags: [][]string{
			{"method", strings.ToUpper(method)},
			{"u", requestURI},
			{"nonce", uuid.NewString()},
		},
	}
	id, err := ev.computeID()
	if err != nil {
		return Event{}, err
	}
	ev.ID = hex.EncodeToString(id)
	ev.Sig = hex.EncodeToString(ed25519.Sign(s.key, id))
	return ev, nil
}

// Authorization returns "Nostr <base64 event>".
func (s *Ed25519Signer) Authorization(method, requestURI string) (string, error) {
	ev, err := s.Sign(method, requestURI)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return Scheme + " " + base64.StdEncoding.EncodeToString(data), nil
}

// Verifier checks incoming Authorization headers.
type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// Verify checks header against the request and returns the signer's hex public key.
func (v Verifier) Verify(header, method, requestURI string) (string, error) {
	ev, err := ParseHeader(header)
	if err != nil {
		return "", err
	}

	if ev.Kind != EventKind {
		return "", fmt.Errorf("%w: unexpected kind %d", ErrInvalidAuth, ev.Kind)
	}
	if !strings.EqualFold(ev.Tag("method"), method) || ev.Tag("u") != requestURI {
		return "", fmt.Errorf("%w: event does not match request", ErrInvalidAuth)
	}

	skew := v.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	delta := now().Sub(time.Unix(ev.CreatedAt, 0))
	if delta > skew || delta < -skew {
		return "", ErrExpired
	}

	pub, err := hex.DecodeString(ev.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: bad public key", ErrInvalidAuth)
	}
	id, err := ev.computeID()
	if err != nil {
		return "", err
	}
	if hex.EncodeToString(id) != ev.ID {
		return "", fmt.Errorf("%w: id mismatch", ErrInvalidAuth)
	}
	sig, err := hex.DecodeString(ev.Sig)
	if err != nil || !ed25519.Verify(ed25519.PublicKey(pub), id, sig) {
		return "", ErrBadSignature
	}
	return ev.PubKey, nil
}

// ParseHeader decodes the event carried by a Nostr Authorization header.
func ParseHeader(header string) (Event, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Event{}, ErrMissingAuth
	}
	scheme, payload, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return Event{}, ErrMissingAuth
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	return ev, nil
}
