package stack

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"io"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/xlog"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/twofish"
)

// KDFHash selects the hash used by the passphrase-derivation KDF (spec §3
// archive header: "KDF parameters (hash algorithm, iteration count,
// salt)").
type KDFHash string

const (
	KDFSHA256 KDFHash = "sha256"
	KDFSHA512 KDFHash = "sha512"
)

// DeriveKey runs PBKDF2 (golang.org/x/crypto/pbkdf2 — the same module
// family the teacher's backend/crypt uses for its scrypt-based key
// derivation) to turn a passphrase into keyLen bytes of key material.
func DeriveKey(passphrase string, salt []byte, iterations int, keyLen int, kdfHash KDFHash) ([]byte, error) {
	switch kdfHash {
	case KDFSHA256:
		return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New), nil
	case KDFSHA512:
		return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha512.New), nil
	default:
		return nil, direrr.Newf(direrr.Range, "stack.DeriveKey", "unknown KDF hash %q", kdfHash)
	}
}

// defaultBlockDataSize is the default amount of cleartext encrypted per cipher
// block (spec §4.1: "default 10 KiB of cleartext per block, configurable").
const defaultBlockDataSize = 10 * 1024

const macSize = sha256.Size // per-block HMAC-SHA256 authentication tag

func newBlockCipher(algo CipherAlgo, key []byte) (gocipher.Block, error) {
	if err := CheckCipherCompiled(algo); err != nil {
		return nil, err
	}
	switch algo {
	case CipherAES256:
		return aes.NewCipher(key[:32])
	case CipherBlowfish:
		return blowfish.NewCipher(key)
	case CipherTwofish256:
		return twofish.NewCipher(key[:32])
	case CipherScrambling:
		return nil, nil // scrambling has its own XOR path, no block.Cipher
	default:
		return nil, direrr.Newf(direrr.Feature, "stack.newBlockCipher", "cipher %q has no block implementation", algo)
	}
}

// CipherConfig configures a Cipher layer.
type CipherConfig struct {
	Algo          CipherAlgo
	Key           []byte // symmetric key (already derived/unwrapped)
	BlockDataSize int
	// AllowWeakCipher must be set to permit *writing* new archives with
	// CipherScrambling; the legacy XOR transform has no cryptographic
	// value and is retained for read-compatibility only (spec §9 Open
	// Questions).
	AllowWeakCipher bool
}

// Cipher encrypts/decrypts fixed-size cleartext blocks with per-block
// authentication (HMAC-SHA256) for every algorithm except the legacy
// CipherScrambling transform, which is unauthenticated by design (spec
// §4.1).
type Cipher struct {
	below    Layer
	cfg      CipherConfig
	block    gocipher.Block
	mode     Mode
	pos      int64 // logical cleartext position
	suspended bool
}

// NewCipher wraps below with a cipher layer in the given mode. Writing with
// CipherScrambling requires cfg.AllowWeakCipher.
func NewCipher(below Layer, cfg CipherConfig, mode Mode) (*Cipher, error) {
	if cfg.BlockDataSize <= 0 {
		cfg.BlockDataSize = defaultBlockDataSize
	}
	if err := CheckCipherCompiled(cfg.Algo); err != nil {
		return nil, err
	}
	if cfg.Algo == CipherScrambling && mode != ReadOnly && !cfg.AllowWeakCipher {
		return nil, direrr.Newf(direrr.Range, "stack.NewCipher",
			"refusing to write a new archive with the legacy scrambling cipher; set AllowWeakCipher to override")
	}
	block, err := newBlockCipher(cfg.Algo, cfg.Key)
	if err != nil {
		return nil, err
	}
	if cfg.Algo == CipherScrambling {
		xlog.Logf(logrus.WarnLevel, nil, "cipher layer using legacy scrambling transform (read/write) - no cryptographic strength")
	}
	return &Cipher{below: below, cfg: cfg, block: block, mode: mode}, nil
}

func (c *Cipher) Label() string { return "cipher" }
func (c *Cipher) Mode() Mode    { return c.mode }
func (c *Cipher) Below() Layer  { return c.below }

// physicalBlockSize is the on-disk size of one encrypted block: IV +
// ciphertext + (for authenticated algorithms) a MAC tag.
func (c *Cipher) physicalBlockSize() int {
	ivSize := 0
	mac := 0
	if c.cfg.Algo != CipherScrambling {
		ivSize = c.block.BlockSize()
		mac = macSize
	}
	return ivSize + c.cfg.BlockDataSize + mac
}

func (c *Cipher) scramble(dst, src []byte) {
	key := c.cfg.Key
	for i := range src {
		dst[i] = src[i] ^ key[i%len(key)]
	}
}

// encryptBlock encrypts exactly one cleartext block (<= BlockDataSize) and
// returns the physical bytes to write (iv || ciphertext || mac).
func (c *Cipher) encryptBlock(cleartext []byte) ([]byte, error) {
	if c.cfg.Algo == CipherScrambling {
		out := make([]byte, len(cleartext))
		c.scramble(out, cleartext)
		return out, nil
	}
	iv := make([]byte, c.block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, direrr.New(direrr.Memory, "stack.Cipher.encryptBlock", err)
	}
	ciphertext := make([]byte, len(cleartext))
	stream := gocipher.NewCTR(c.block, iv)
	stream.XORKeyStream(ciphertext, cleartext)
	mac := hmac.New(sha256.New, c.cfg.Key)
	mac.Write(iv)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)
	out := make([]byte, 0, len(iv)+len(ciphertext)+len(tag))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// decryptBlock is the inverse of encryptBlock, verifying the MAC before
// decrypting (spec §7: a CRC/auth mismatch is a Data-kind error).
func (c *Cipher) decryptBlock(physical []byte, cleartextLen int) ([]byte, error) {
	if c.cfg.Algo == CipherScrambling {
		out := make([]byte, len(physical))
		c.scramble(out, physical)
		return out, nil
	}
	ivSize := c.block.BlockSize()
	if len(physical) < ivSize+macSize {
		return nil, direrr.Newf(direrr.Data, "stack.Cipher.decryptBlock", "truncated cipher block")
	}
	iv := physical[:ivSize]
	ciphertext := physical[ivSize : len(physical)-macSize]
	tag := physical[len(physical)-macSize:]
	mac := hmac.New(sha256.New, c.cfg.Key)
	mac.Write(iv)
	mac.Write(ciphertext)
	want := mac.Sum(nil)
	if !hmac.Equal(want, tag) {
		return nil, direrr.Newf(direrr.Data, "stack.Cipher.decryptBlock", "bad password or corrupted block - authentication failed")
	}
	if len(ciphertext) != cleartextLen {
		ciphertext = ciphertext[:cleartextLen]
	}
	cleartext := make([]byte, len(ciphertext))
	stream := gocipher.NewCTR(c.block, iv)
	stream.XORKeyStream(cleartext, ciphertext)
	return cleartext, nil
}

func (c *Cipher) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		offsetInBlock := int(c.pos % int64(c.cfg.BlockDataSize))
		physSize := c.physicalBlockSize()
		physBuf := make([]byte, physSize)
		n, err := io.ReadFull(c.below, physBuf)
		if n == 0 && err == io.EOF {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		cleartextLen := c.cfg.BlockDataSize
		if n < physSize {
			// final, short block: figure out the cleartext size that produced it
			overhead := physSize - c.cfg.BlockDataSize
			cleartextLen = n - overhead
			if cleartextLen < 0 {
				return total, direrr.Newf(direrr.Data, "stack.Cipher.Read", "short final block")
			}
			physBuf = physBuf[:n]
		}
		cleartext, derr := c.decryptBlock(physBuf, cleartextLen)
		if derr != nil {
			return total, derr
		}
		avail := cleartext[offsetInBlock:]
		copied := copy(p[total:], avail)
		total += copied
		c.pos += int64(copied)
		if err != nil && err != io.EOF {
			return total, direrr.New(direrr.Hardware, "stack.Cipher.Read", err)
		}
		if copied < len(avail) {
			// caller's buffer was smaller than remaining cleartext in this
			// block; rewind below so the next Read re-fetches the block.
			c.pos -= int64(len(avail) - copied)
			return total, nil
		}
	}
	return total, nil
}

func (c *Cipher) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		take := c.cfg.BlockDataSize
		if take > len(p) {
			take = len(p)
		}
		physical, err := c.encryptBlock(p[:take])
		if err != nil {
			return total, err
		}
		if _, err := c.below.Write(physical); err != nil {
			return total, direrr.New(direrr.Hardware, "stack.Cipher.Write", err)
		}
		total += take
		c.pos += int64(take)
		p = p[take:]
	}
	return total, nil
}

func (c *Cipher) Skip(pos int64) error {
	if pos%int64(c.cfg.BlockDataSize) != 0 {
		return direrr.Newf(direrr.Range, "stack.Cipher.Skip", "cipher layer requires block-aligned skip")
	}
	physOff := pos / int64(c.cfg.BlockDataSize) * int64(c.physicalBlockSize())
	if err := c.below.Skip(physOff); err != nil {
		return err
	}
	c.pos = pos
	return nil
}

func (c *Cipher) SkipRelative(delta int64) error { return c.Skip(c.pos + delta) }
func (c *Cipher) SkipToEOF() error               { return c.below.SkipToEOF() }

// Skippable returns false for non-block-aligned offsets (spec §4.1).
func (c *Cipher) Skippable(dir Direction, amount int64) bool {
	return amount%int64(c.cfg.BlockDataSize) == 0
}

func (c *Cipher) Position() (int64, error) { return c.pos, nil }

func (c *Cipher) SyncWrite() error { return c.below.SyncWrite() }
func (c *Cipher) FlushRead() error { return c.below.FlushRead() }
func (c *Cipher) Terminate() error { return nil }

// Suspend pauses encryption so the caller can write unencrypted header
// bytes directly to the layer below at a known position (spec §4.1:
// "Supports suspend/resume to write unencrypted header bytes at known
// positions").
func (c *Cipher) Suspend() (Layer, error) {
	if c.suspended {
		return nil, direrr.Newf(direrr.Libcall, "stack.Cipher.Suspend", "already suspended")
	}
	c.suspended = true
	return c.below, nil
}

// Resume re-enables encryption after a Suspend.
func (c *Cipher) Resume() error {
	if !c.suspended {
		return direrr.Newf(direrr.Libcall, "stack.Cipher.Resume", "not suspended")
	}
	c.suspended = false
	return nil
}

