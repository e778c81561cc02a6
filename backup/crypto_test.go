package backup

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func TestCipherWriterReader_RoundTrip_SingleBlock(t *testing.T) {
	var buf bytes.Buffer
	cw, err := newCipherWriter(&buf, "pass", rand.Reader)
	if err != nil {
		t.Fatalf("newCipherWriter: %v", err)
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := cw.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cr, err := newCipherReader(&buf, "pass")
	if err != nil {
		t.Fatalf("newCipherReader: %v", err)
	}
	got, err := io.ReadAll(cr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestCipherWriterReader_RoundTrip_MultipleBlocks(t *testing.T) {
	var buf bytes.Buffer
	cw, err := newCipherWriter(&buf, "pass", rand.Reader)
	if err != nil {
		t.Fatalf("newCipherWriter: %v", err)
	}

	plaintext := make([]byte, plaintextBlock*2+1024)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	if _, err := cw.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cr, err := newCipherReader(&buf, "pass")
	if err != nil {
		t.Fatalf("newCipherReader: %v", err)
	}
	got, err := io.ReadAll(cr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("multi-block round trip did not reproduce the original plaintext")
	}
}

func TestCipherReader_WrongPassphraseFailsAuthentication(t *testing.T) {
	var buf bytes.Buffer
	cw, err := newCipherWriter(&buf, "right", rand.Reader)
	if err != nil {
		t.Fatalf("newCipherWriter: %v", err)
	}
	if _, err := cw.Write([]byte("secret data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cr, err := newCipherReader(&buf, "wrong")
	if err != nil {
		t.Fatalf("newCipherReader: %v", err)
	}
	if _, err := io.ReadAll(cr); err == nil {
		t.Fatal("expected an AEAD authentication failure with the wrong passphrase")
	}
}

func TestCipherReader_TamperedCiphertextFails(t *testing.T) {
	var buf bytes.Buffer
	cw, err := newCipherWriter(&buf, "pass", rand.Reader)
	if err != nil {
		t.Fatalf("newCipherWriter: %v", err)
	}
	if _, err := cw.Write([]byte("tamper me")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw := buf.Bytes()
	// Flip a byte well past the salt+iv header, inside the ciphertext block.
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xFF

	cr, err := newCipherReader(bytes.NewReader(tampered), "pass")
	if err != nil {
		t.Fatalf("newCipherReader: %v", err)
	}
	if _, err := io.ReadAll(cr); err == nil {
		t.Fatal("expected tampering to be detected by the AEAD tag")
	}
}

func TestDeriveKey_DifferentSaltsProduceDifferentKeys(t *testing.T) {
	salt1 := bytes.Repeat([]byte{1}, saltSize)
	salt2 := bytes.Repeat([]byte{2}, saltSize)

	k1, err := deriveKey("same-passphrase", salt1)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	k2, err := deriveKey("same-passphrase", salt2)
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	if bytes.Equal(k1, k2) {
		t.Fatal("different salts must not derive identical keys for the same passphrase")
	}
}
