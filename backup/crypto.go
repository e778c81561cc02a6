// Package backup implements the BackupStream/RestoreStream line-delimited
// protocol, its optional transparent block-cipher framing, a
// PersistenceProxy that drives drivers concurrently with stream production,
// and a local-disk driver.
package backup

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nasriyasoftware/cachify/cerrors"
)

const (
	saltSize       = 16
	ivSize         = 16
	plaintextBlock = 1 << 20 // 1 MiB fixed plaintext block size
)

// deriveKey stretches passphrase with argon2id then labels it through HKDF
// into the exact key size chacha20poly1305 needs — argon2 absorbs the low
// entropy of a human passphrase, HKDF binds the result to this stream's
// purpose so the same passphrase never produces the same key material
// twice (salt differs per backup).
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	stretched := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	hk := hkdf.New(sha256.New, stretched, salt, []byte("cachify-backup-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// nonceFor derives the AEAD nonce for block `counter` by folding the
// counter into the low bytes of the stream IV, giving every block a
// distinct nonce without transmitting one per block.
func nonceFor(iv []byte, counter uint64, size int) []byte {
	nonce := make([]byte, size)
	copy(nonce, iv)
	var cb [8]byte
	binary.BigEndian.PutUint64(cb[:], counter)
	for i := 0; i < 8 && i < size; i++ {
		nonce[size-8+i] ^= cb[i]
	}
	return nonce
}

// cipherWriter encrypts a byte stream in fixed plaintextBlock-sized chunks,
// each framed as a 4-byte big-endian ciphertext length followed by the
// ciphertext itself. An AEAD tag makes ciphertext blocks variable-length,
// so they are length-prefixed rather than block-aligned.
type cipherWriter struct {
	w       io.Writer
	aead    cipherAEAD
	iv      []byte
	counter uint64
	buf     []byte
}

// cipherAEAD is the subset of cipher.AEAD this package uses.
type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func newCipherWriter(w io.Writer, passphrase string, randSrc io.Reader) (*cipherWriter, error) {
	salt := make([]byte, saltSize)
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(randSrc, salt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(randSrc, iv); err != nil {
		return nil, err
	}
	if _, err := w.Write(salt); err != nil {
		return nil, err
	}
	if _, err := w.Write(iv); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &cipherWriter{w: w, aead: aead, iv: iv}, nil
}

func (c *cipherWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := plaintextBlock - len(c.buf)
		if room > len(p) {
			room = len(p)
		}
		c.buf = append(c.buf, p[:room]...)
		p = p[room:]
		if len(c.buf) == plaintextBlock {
			if err := c.flush(); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

func (c *cipherWriter) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	nonce := nonceFor(c.iv, c.counter, c.aead.NonceSize())
	ct := c.aead.Seal(nil, nonce, c.buf, nil)
	c.counter++
	c.buf = c.buf[:0]

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.w.Write(ct)
	return err
}

func (c *cipherWriter) Close() error { return c.flush() }

// cipherReader is the inverse of cipherWriter.
type cipherReader struct {
	r       io.Reader
	aead    cipherAEAD
	iv      []byte
	counter uint64
	buf     []byte
	err     error
}

func newCipherReader(r io.Reader, passphrase string) (*cipherReader, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("backup: read salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, fmt.Errorf("backup: read iv: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &cipherReader{r: r, aead: aead, iv: iv}, nil
}

func (c *cipherReader) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		if err := c.readBlock(); err != nil {
			c.err = err
			if len(c.buf) == 0 {
				return 0, err
			}
		}
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *cipherReader) readBlock() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return err // io.EOF on a clean end of stream
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	ct := make([]byte, n)
	if _, err := io.ReadFull(c.r, ct); err != nil {
		return err
	}
	nonce := nonceFor(c.iv, c.counter, c.aead.NonceSize())
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return cerrors.ErrStreamTornDown.WithCause(err)
	}
	c.counter++
	c.buf = pt
	return nil
}
