package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// Wallet files use the Ethereum v3 keystore format so payer keys created by
// the CLI stay importable by standard tooling.

// SaveToKeystore encrypts key under passphrase and writes it to path. The
// encrypted file is produced in a scratch directory and moved into place
// with a rename, so an interrupted save never leaves a half-written wallet
// at the target path.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: no key to save")
	}
	if path == "" {
		return errors.New("crypto: keystore path required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crypto: create keystore directory: %w", err)
	}

	scratch, err := os.MkdirTemp(dir, "wallet-")
	if err != nil {
		return fmt.Errorf("crypto: scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}
	written, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		return errors.New("crypto: keystore produced no wallet file")
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, written[0].Name()), path); err != nil {
		return fmt.Errorf("crypto: place wallet file: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore reads the wallet file at path and decrypts it with
// passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: keystore path required")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt wallet: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
