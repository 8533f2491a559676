package services

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// argonParams are read per call so config reloads and tests take effect.
type argonParams struct {
	time, memory, keyLength uint32
	threads                 uint8
	saltLength              int
}

func currentArgonParams() argonParams {
	p := argonParams{
		time:       uint32(viper.GetInt("argon2.time")),
		memory:     uint32(viper.GetInt("argon2.memory")),
		threads:    uint8(viper.GetInt("argon2.threads")),
		keyLength:  uint32(viper.GetInt("argon2.key_length")),
		saltLength: viper.GetInt("argon2.salt_length"),
	}
	if p.time == 0 {
		p.time = 1
	}
	if p.memory == 0 {
		p.memory = 64 * 1024
	}
	if p.threads == 0 {
		p.threads = 4
	}
	if p.keyLength == 0 {
		p.keyLength = 32
	}
	if p.saltLength <= 0 {
		p.saltLength = 16
	}
	return p
}

func (p argonParams) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLength)
}

// hashPassword produces the salt$hash form stored in users.password.
func hashPassword(password string) (string, error) {
	p := currentArgonParams()
	salt := make([]byte, p.saltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	enc := base64.StdEncoding
	return enc.EncodeToString(salt) + "$" + enc.EncodeToString(p.derive(password, salt)), nil
}

// verifyPassword reports whether password matches a salt$hash value. Malformed
// stored values never match.
func verifyPassword(password, stored string) bool {
	saltPart, hashPart, ok := strings.Cut(stored, "$")
	if !ok || strings.Contains(hashPart, "$") {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil || len(want) == 0 {
		return false
	}

	return subtle.ConstantTimeCompare(want, currentArgonParams().derive(password, salt)) == 1
}
