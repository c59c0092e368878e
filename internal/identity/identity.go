// Package identity provides the gateway's Ed25519 signing identity.
//
// Keys are loaded from PEM files (PKCS#8 private, PKIX public) or generated
// ephemerally for development. Signatures cover the RFC 8785 canonical JSON
// encoding of the signed value.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashita-ai/kessai/internal/canonical"
	"github.com/ashita-ai/kessai/internal/model"
)

// Algorithm is the signature algorithm recorded alongside every signature.
const Algorithm = "Ed25519"

// Signer holds an Ed25519 key pair and signs canonical JSON.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner creates a Signer from PEM key files. If either path is empty, an
// ephemeral key pair is generated (for development).
func NewSigner(privateKeyPath, publicKeyPath string) (*Signer, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("identity: no signing key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("identity: generate key pair: %w", err)
		}
		return &Signer{privateKey: priv, publicKey: pub}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("identity: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("identity: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("identity: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("identity: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: public key is not Ed25519")
	}

	// Catch a private key from one environment deployed with the public key
	// of another.
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("identity: public key does not match private key")
	}

	return &Signer{privateKey: edPriv, publicKey: edPub}, nil
}

// NewEphemeralSigner generates an in-memory key pair. Intended for tests.
func NewEphemeralSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key pair: %w", err)
	}
	return &Signer{privateKey: priv, publicKey: pub}, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.publicKey }

// PrivateKey returns the signing key. Needed by the capability-token minter,
// which signs JWTs with the same identity.
func (s *Signer) PrivateKey() ed25519.PrivateKey { return s.privateKey }

// PublicKeyID is a short stable identifier for the verification key: the
// first 16 hex characters of SHA-256(public key bytes).
func (s *Signer) PublicKeyID() string {
	return canonical.HashBytes(s.publicKey)[:16]
}

// Sign returns base64(Ed25519(canonical_json(v))).
func (s *Signer) Sign(v any) (string, error) {
	msg, err := canonical.Marshal(v)
	if err != nil {
		return "", model.WrapError(model.KindSigning, err, "identity: canonicalize for signing")
	}
	return s.SignBytes(msg), nil
}

// SignBytes signs raw bytes without canonicalization. Used where the
// pre-image is already a digest (export checksums, decision hashes).
func (s *Signer) SignBytes(msg []byte) string {
	sig := ed25519.Sign(s.privateKey, msg)
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a base64 signature over the canonical encoding of v against
// the given public key.
func Verify(v any, sigB64 string, pub ed25519.PublicKey) (bool, error) {
	msg, err := canonical.Marshal(v)
	if err != nil {
		return false, model.WrapError(model.KindSigning, err, "identity: canonicalize for verification")
	}
	return VerifyBytes(msg, sigB64, pub)
}

// VerifyBytes checks a base64 signature over raw bytes.
func VerifyBytes(msg []byte, sigB64 string, pub ed25519.PublicKey) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, model.NewError(model.KindSigning, "identity: malformed public key (%d bytes)", len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, model.WrapError(model.KindSigning, err, "identity: decode signature")
	}
	return ed25519.Verify(pub, msg, sig), nil
}
