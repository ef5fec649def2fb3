package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log"
	"os"

	"github.com/gorilla/securecookie"
)

// TokenService issues and verifies agent registration tokens. A token is an
// HMAC over the agent uuid keyed by a server-held secret, so possession of a
// valid token proves the uuid was handed out by this server.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret []byte) *TokenService {
	return &TokenService{secret: secret}
}

func (ts *TokenService) TokenFor(uuid string) string {
	mac := hmac.New(sha256.New, ts.secret)
	mac.Write([]byte(uuid))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (ts *TokenService) Verify(uuid, token string) bool {
	presented, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, ts.secret)
	mac.Write([]byte(uuid))
	return hmac.Equal(presented, mac.Sum(nil))
}

// NewTokenSecret returns the configured token secret, generating one and
// persisting it to .env on first boot.
func NewTokenSecret() []byte {
	if secret, ok := os.LookupEnv("CONVEYOR_TOKEN_SECRET"); ok {
		return []byte(secret)
	}
	secret := hex.EncodeToString(securecookie.GenerateRandomKey(32))
	writeToDotenv("CONVEYOR_TOKEN_SECRET", secret)
	return []byte(secret)
}

// NewEncryptionKey returns the configured AES key for material credentials,
// generating one on first boot.
func NewEncryptionKey() []byte {
	if key, ok := os.LookupEnv("CONVEYOR_ENCRYPTION_KEY"); ok {
		return []byte(key)
	}
	key := hex.EncodeToString(securecookie.GenerateRandomKey(16))
	writeToDotenv("CONVEYOR_ENCRYPTION_KEY", key)
	return []byte(key)
}

func writeToDotenv(name, value string) {
	f, err := os.OpenFile(".env", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(name + "=" + value + "\n")); err != nil {
		log.Fatal(err)
	}
}
