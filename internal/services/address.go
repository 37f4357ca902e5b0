package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
)

// Word banks for random address generation, producing prefixes like
// "swift-otter-a41f".
var (
	adjectives = []string{
		"swift", "clever", "bright", "quick", "smart", "sharp", "witty", "bold",
		"brave", "calm", "cool", "eager", "fair", "fancy", "fine", "gentle",
	}
	nouns = []string{
		"panda", "tiger", "eagle", "wolf", "fox", "hawk", "bear", "lion",
		"otter", "raven", "shark", "whale", "falcon", "lynx", "cobra", "viper",
	}
)

var prefixPattern = regexp.MustCompile(`^[a-z0-9-]{3,20}$`)

// ValidPrefix reports whether a custom mailbox prefix is acceptable:
// lowercase letters, digits and hyphens, 3 to 20 characters.
func ValidPrefix(prefix string) bool {
	return prefixPattern.MatchString(prefix)
}

// GenerateRandomPrefix produces an adjective-noun-suffix local part
func GenerateRandomPrefix() string {
	adjective := adjectives[randomIndex(len(adjectives))]
	noun := nouns[randomIndex(len(nouns))]

	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing is unrecoverable for token generation too
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%s-%s-%s", adjective, noun, hex.EncodeToString(suffix))
}

// GenerateAccessToken returns a 64-character hex token
func GenerateAccessToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

func randomIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return int(i.Int64())
}
