package cryptox

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/contractorvault/broker/internal/common"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(common.GenerateRandByteArray(KeySize))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func TestNew_RejectsBadKeySize(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := New(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte key", n)
		}
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	payloads := [][]byte{
		[]byte(""),
		[]byte("x"),
		[]byte("session=abc123; domain=.example.com"),
		bytes.Repeat([]byte{0x00}, 1024),
		// payloads that look like the blob's own structural bytes
		bytes.Repeat([]byte{0xff}, nonceSize),
		append([]byte("prefix"), make([]byte, nonceSize)...),
	}

	for i, p := range payloads {
		blob, err := c.Seal(p)
		if err != nil {
			t.Fatalf("payload %d: Seal error: %v", i, err)
		}
		got, err := c.Open(blob)
		if err != nil {
			t.Fatalf("payload %d: Open error: %v", i, err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("payload %d: round trip mismatch", i)
		}
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t)
	p := []byte("same plaintext")

	a, _ := c.Seal(p)
	b, _ := c.Seal(p)
	if bytes.Equal(a, b) {
		t.Errorf("two seals of the same plaintext must differ")
	}
}

func TestOpen_AnySingleBitFlipFails(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Seal([]byte("sensitive payload"))
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	for i := range blob {
		for bit := 0; bit < 8; bit++ {
			tampered := bytes.Clone(blob)
			tampered[i] ^= 1 << bit
			if _, err := c.Open(tampered); !errors.Is(err, common.ErrDecryption) {
				t.Fatalf("flip byte %d bit %d: expected ErrDecryption, got %v", i, bit, err)
			}
		}
	}
}

func TestOpen_Truncated(t *testing.T) {
	c := newTestCipher(t)
	blob, _ := c.Seal([]byte("payload"))

	for _, n := range []int{0, 1, nonceSize - 1, nonceSize, len(blob) - 1} {
		if _, err := c.Open(blob[:n]); !errors.Is(err, common.ErrDecryption) {
			t.Errorf("truncated to %d: expected ErrDecryption, got %v", n, err)
		}
	}
}

func TestOpen_RotatedOutKey(t *testing.T) {
	// Sealed under one key, opened under another: permanently unrecoverable.
	old := newTestCipher(t)
	blob, _ := old.Seal([]byte("payload"))

	fresh := newTestCipher(t)
	if _, err := fresh.Open(blob); !errors.Is(err, common.ErrDecryption) {
		t.Fatalf("expected ErrDecryption under rotated key, got %v", err)
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	pass := []byte("correct horse battery staple")
	salt := []byte("fixed-salt")

	k1 := DeriveKey(pass, salt)
	k2 := DeriveKey(pass, salt)
	if !bytes.Equal(k1, k2) {
		t.Errorf("same inputs must derive the same key")
	}
	if len(k1) != KeySize {
		t.Errorf("expected %d-byte key, got %d", KeySize, len(k1))
	}

	k3 := DeriveKey(pass, []byte("other-salt"))
	if bytes.Equal(k1, k3) {
		t.Errorf("different salts must derive different keys")
	}
}

func TestLoadOrBootstrapKey_Hex(t *testing.T) {
	want := common.GenerateRandByteArray(KeySize)
	got, err := LoadOrBootstrapKey(hex.EncodeToString(want), "")
	if err != nil {
		t.Fatalf("LoadOrBootstrapKey error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("hex key not decoded verbatim")
	}

	if _, err := LoadOrBootstrapKey("zz", ""); err == nil {
		t.Errorf("expected error for invalid hex")
	}
	if _, err := LoadOrBootstrapKey(hex.EncodeToString(want[:8]), ""); err == nil {
		t.Errorf("expected error for short key")
	}
}

func TestLoadOrBootstrapKey_FirstRunPersistsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.key")

	k1, err := LoadOrBootstrapKey("", path)
	if err != nil {
		t.Fatalf("bootstrap error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("keyfile not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("keyfile mode = %v, want 0600", info.Mode().Perm())
	}

	// Second load reads the persisted key, never regenerates.
	k2, err := LoadOrBootstrapKey("", path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Errorf("reload returned a different key")
	}
}

func TestLoadOrBootstrapKey_LostKeyMeansLostData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.key")

	k1, err := LoadOrBootstrapKey("", path)
	if err != nil {
		t.Fatalf("bootstrap error: %v", err)
	}
	c1, _ := New(k1)
	blob, _ := c1.Seal([]byte("only copy of the session"))

	// Simulate key loss: delete the keyfile and bootstrap again.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove keyfile: %v", err)
	}
	k2, err := LoadOrBootstrapKey("", path)
	if err != nil {
		t.Fatalf("re-bootstrap error: %v", err)
	}
	c2, _ := New(k2)
	if _, err := c2.Open(blob); !errors.Is(err, common.ErrDecryption) {
		t.Fatalf("sealed data must be unrecoverable after key loss, got %v", err)
	}
}
