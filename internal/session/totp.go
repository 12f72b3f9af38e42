package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

// RFC 6238 parameters: 30 second steps, 6 digit codes, one step of clock
// skew accepted in each direction.
const (
	totpStep   = 30 * time.Second
	totpDigits = 6
	totpSkew   = 1
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a new 160-bit secret, base32 encoded for
// authenticator apps.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return totpEncoding.EncodeToString(raw), nil
}

// ValidateTOTP checks a code against the secret at the given instant,
// accepting the adjacent time steps to absorb clock skew.
func ValidateTOTP(secret, code string, at time.Time) bool {
	if len(code) != totpDigits {
		return false
	}

	key, err := totpEncoding.DecodeString(secret)
	if err != nil {
		return false
	}

	counter := uint64(at.Unix()) / uint64(totpStep/time.Second)
	for offset := -int64(totpSkew); offset <= totpSkew; offset++ {
		expected := hotp(key, counter+uint64(offset))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// hotp computes the RFC 4226 HMAC-SHA1 truncated code for a counter.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", value%1000000)
}

// ProvisioningURI builds the otpauth URI authenticator apps import.
func ProvisioningURI(issuer, account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", fmt.Sprintf("%d", totpDigits))
	v.Set("period", fmt.Sprintf("%d", int(totpStep/time.Second)))

	return fmt.Sprintf("otpauth://totp/%s:%s?%s",
		url.PathEscape(issuer), url.PathEscape(account), v.Encode())
}
