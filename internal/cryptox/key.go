package cryptox

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/contractorvault/broker/internal/common"
)

// LoadOrBootstrapKey returns the process-wide cipher key.
//
// Resolution order:
//  1. keyHex, when non-empty, is decoded and used as-is.
//  2. An existing keyfile at path is read.
//  3. First run: a fresh 32-byte key is generated and persisted to path
//     with mode 0600, exactly once. Concurrent bootstraps lose the race
//     and read the winner's file.
//
// The returned key is never logged by this package.
func LoadOrBootstrapKey(keyHex, path string) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: cipher key is not valid hex", common.ErrValidation)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: cipher key must be %d bytes", common.ErrValidation, KeySize)
		}
		return key, nil
	}

	if path == "" {
		return nil, fmt.Errorf("%w: no cipher key or keyfile path configured", common.ErrValidation)
	}

	if key, err := readKeyFile(path); err == nil {
		return key, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key := common.GenerateRandByteArray(KeySize)
	if err := writeKeyFileOnce(path, key); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost the bootstrap race, use the winner's key.
			return readKeyFile(path)
		}
		return nil, err
	}
	return key, nil
}

func readKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key := make([]byte, hex.DecodedLen(len(raw)))
	n, err := hex.Decode(key, raw)
	if err != nil || n != KeySize {
		return nil, fmt.Errorf("%w: keyfile %s is corrupted", common.ErrDecryption, path)
	}
	return key[:n], nil
}

func writeKeyFileOnce(path string, key []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(enc, key)
	if _, err := f.Write(enc); err != nil {
		return err
	}
	return f.Sync()
}
