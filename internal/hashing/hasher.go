package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"stronghold-security/internal/config"
	"stronghold-security/internal/util"
)

var (
	ErrInvalidHash = errors.New("invalid hash format")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value     string
	CreatedAt time.Time
	Version   int
}

// Hasher hashes short-lived secrets (identity verification tokens) with
// Argon2id plus a rotating in-memory pepper. Old pepper versions are kept
// so tokens issued before a rotation still verify.
type Hasher struct {
	params        Argon2Params
	currentPepper *Pepper
	oldPeppers    []*Pepper
	config        *config.Config
	mu            sync.RWMutex
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  32,
		KeyLength:   32,
	}

	h := &Hasher{
		params: params,
		config: cfg,
	}

	h.rotatePepper()

	return h
}

func (h *Hasher) rotatePepper() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.currentPepper != nil {
		h.oldPeppers = append(h.oldPeppers, h.currentPepper)
	}

	pepperBytes := make([]byte, 32)
	if _, err := rand.Read(pepperBytes); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}

	h.currentPepper = &Pepper{
		Value:     base64.RawURLEncoding.EncodeToString(pepperBytes),
		CreatedAt: time.Now(),
		Version:   len(h.oldPeppers) + 1,
	}

	util.Info("Pepper rotated",
		zap.Int("version", h.currentPepper.Version),
		zap.Time("created_at", h.currentPepper.CreatedAt),
	)
}

// StartPepperRotation starts background pepper rotation.
func (h *Hasher) StartPepperRotation() {
	ticker := time.NewTicker(time.Duration(h.config.Hashing.PepperRotationDays) * 24 * time.Hour)

	go func() {
		for range ticker.C {
			h.rotatePepper()

			// Keep only the last 2 old versions.
			h.mu.Lock()
			if len(h.oldPeppers) > 2 {
				h.oldPeppers = h.oldPeppers[len(h.oldPeppers)-2:]
			}
			h.mu.Unlock()
		}
	}()
}

// HashToken hashes an identity verification token.
func (h *Hasher) HashToken(token string) (*HashResult, error) {
	return h.hashWithPepper(token, "verification")
}

// VerifyToken checks a submitted token against its stored hash.
func (h *Hasher) VerifyToken(token string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(token, hashResult, "verification")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context string prevents hash reuse between purposes.
	contextualData := data + pepper.Value + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     "argon2id-v1",
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, context string) (bool, error) {
	pepper, err := h.getPepper(hashResult.PepperVersion)
	if err != nil {
		return false, fmt.Errorf("pepper version not found: %w", err)
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.currentPepper != nil && h.currentPepper.Version == version {
		return h.currentPepper.Value, nil
	}

	for _, pepper := range h.oldPeppers {
		if pepper.Version == version {
			return pepper.Value, nil
		}
	}

	return "", errors.New("pepper version not found")
}
