package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored hash is not an Argon2id PHC string.
var ErrMalformedHash = errors.New("malformed password hash")

// HashParams are the Argon2id cost parameters.
type HashParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultHashParams follow the OWASP Argon2id recommendation.
var DefaultHashParams = HashParams{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// HashPassword hashes password with DefaultHashParams.
func HashPassword(password string) (string, error) {
	return DefaultHashParams.Hash(password)
}

// Hash returns password in PHC form:
// $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
func (p HashParams) Hash(password string) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		enc.EncodeToString(salt), enc.EncodeToString(key),
	), nil
}

// VerifyPassword compares password with a PHC hash in constant time.
// The cost parameters are read from the hash itself.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(want))) //nolint:gosec // G115: key length fits uint32
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func parsePHC(encoded string) (params HashParams, salt, key []byte, err error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" { //nolint:mnd // PHC field count
		return params, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return params, nil, nil, fmt.Errorf("%w: parameters: %w", ErrMalformedHash, err)
	}

	enc := base64.RawStdEncoding
	if salt, err = enc.DecodeString(fields[4]); err != nil {
		return params, nil, nil, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	if key, err = enc.DecodeString(fields[5]); err != nil {
		return params, nil, nil, fmt.Errorf("%w: key: %w", ErrMalformedHash, err)
	}
	return params, salt, key, nil
}
