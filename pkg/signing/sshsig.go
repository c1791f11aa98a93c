// Package signing produces SSH signatures over commit payloads in the armored
// SSHSIG format Git stores in a commit's gpgsig header.
package signing

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const (
	// Namespace is the signature namespace Git uses for commits.
	Namespace = "git"

	magic      = "SSHSIG"
	sigVersion = 1
	hashAlg    = "sha512"

	armorBegin = "-----BEGIN SSH SIGNATURE-----"
	armorEnd   = "-----END SSH SIGNATURE-----"
	armorWidth = 70
)

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("bad signature")

// Signer signs commit payloads with an SSH private key.
type Signer struct {
	key ssh.Signer
}

// NewSigner wraps an ssh.Signer.
func NewSigner(key ssh.Signer) *Signer {
	return &Signer{key: key}
}

// LoadSigner reads a private key from path. An empty path picks the first of
// ~/.ssh/id_ed25519, id_ecdsa and id_rsa that exists.
func LoadSigner(path string) (*Signer, string, error) {
	resolved, err := resolveKeyPath(path)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("read signing key %q: %w", resolved, err)
	}
	key, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse signing key %q: %w", resolved, err)
	}
	return NewSigner(key), resolved, nil
}

// PublicKey returns the signing key's public half.
func (s *Signer) PublicKey() ssh.PublicKey {
	return s.key.PublicKey()
}

// Sign returns the armored SSHSIG signature of payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	signed := signedData(Namespace, payload)

	var sig *ssh.Signature
	var err error
	if as, ok := s.key.(ssh.AlgorithmSigner); ok && s.key.PublicKey().Type() == ssh.KeyAlgoRSA {
		sig, err = as.SignWithAlgorithm(rand.Reader, signed, ssh.KeyAlgoRSASHA512)
	} else {
		sig, err = s.key.Sign(rand.Reader, signed)
	}
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}

	blob := wireSignature{
		Version:   sigVersion,
		PublicKey: s.key.PublicKey().Marshal(),
		Namespace: Namespace,
		HashAlg:   hashAlg,
		Signature: ssh.Marshal(sig),
	}
	return armor(append([]byte(magic), ssh.Marshal(&blob)...)), nil
}

type wireSignature struct {
	Version   uint32
	PublicKey []byte
	Namespace string
	Reserved  string
	HashAlg   string
	Signature []byte
}

type wireSignedData struct {
	Namespace string
	Reserved  string
	HashAlg   string
	Hash      []byte
}

func signedData(namespace string, payload []byte) []byte {
	sum := sha512.Sum512(payload)
	return append([]byte(magic), ssh.Marshal(&wireSignedData{
		Namespace: namespace,
		HashAlg:   hashAlg,
		Hash:      sum[:],
	})...)
}

func armor(blob []byte) string {
	enc := base64.StdEncoding.EncodeToString(blob)
	var b strings.Builder
	b.WriteString(armorBegin)
	b.WriteByte('\n')
	for len(enc) > armorWidth {
		b.WriteString(enc[:armorWidth])
		b.WriteByte('\n')
		enc = enc[armorWidth:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')
	b.WriteString(armorEnd)
	b.WriteByte('\n')
	return b.String()
}

// Verify checks an armored signature over payload and returns the key that
// made it.
func Verify(armored string, payload []byte) (ssh.PublicKey, error) {
	text := strings.TrimSpace(armored)
	if !strings.HasPrefix(text, armorBegin) || !strings.HasSuffix(text, armorEnd) {
		return nil, fmt.Errorf("%w: missing armor", ErrBadSignature)
	}
	body := strings.Join(strings.Fields(text[len(armorBegin):len(text)-len(armorEnd)]), "")
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !bytes.HasPrefix(raw, []byte(magic)) {
		return nil, fmt.Errorf("%w: missing preamble", ErrBadSignature)
	}

	var blob wireSignature
	if err := ssh.Unmarshal(raw[len(magic):], &blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if blob.Version != sigVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSignature, blob.Version)
	}
	if blob.Namespace != Namespace || blob.HashAlg != hashAlg {
		return nil, fmt.Errorf("%w: unexpected namespace %q or hash %q", ErrBadSignature, blob.Namespace, blob.HashAlg)
	}
	pub, err := ssh.ParsePublicKey(blob.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var sig ssh.Signature
	if err := ssh.Unmarshal(blob.Signature, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := pub.Verify(signedData(blob.Namespace, payload), &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return pub, nil
}

func resolveKeyPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return expandUserPath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		candidate := filepath.Join(home, ".ssh", name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no default SSH private key found in ~/.ssh (id_ed25519, id_ecdsa, id_rsa)")
}

func expandUserPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}
