// Package deploykey generates the SSH key pair a private repository needs as
// a read-only deploy key.
package deploykey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrExists is returned when the key file is already present and overwrite is off.
var ErrExists = errors.New("key already exists")

// KeyPair is a generated key in on-disk formats.
type KeyPair struct {
	// PrivatePEM is an OpenSSH private key block.
	PrivatePEM []byte
	// AuthorizedKey is the public key line, ready to paste as a deploy key.
	AuthorizedKey []byte
	Fingerprint   string
}

// Generate creates an ed25519 key pair with the given comment.
func Generate(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to build public key: %w", err)
	}

	authorized := ssh.MarshalAuthorizedKey(sshPub)
	if comment != "" {
		authorized = []byte(strings.TrimSpace(string(authorized)) + " " + comment + "\n")
	}

	return &KeyPair{
		PrivatePEM:    pem.EncodeToMemory(block),
		AuthorizedKey: authorized,
		Fingerprint:   ssh.FingerprintSHA256(sshPub),
	}, nil
}

// Write stores the private key at path (0600) and the public key at path.pub (0644).
func (k *KeyPair) Write(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, k.PrivatePEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", k.AuthorizedKey, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// Validate checks that the file at path holds a parseable private key and
// returns its public fingerprint.
func Validate(path string) (string, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return "", fmt.Errorf("invalid SSH private key: %w", err)
	}
	return ssh.FingerprintSHA256(signer.PublicKey()), nil
}
