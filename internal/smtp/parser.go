package smtp

import (
	"fmt"
	"strings"
)

// parseEmailAddress splits an address into local part and domain, both
// lowercased. Angle brackets from the SMTP envelope are stripped.
func parseEmailAddress(address string) (localPart, domain string, err error) {
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	address = strings.TrimSpace(address)

	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}

	localPart = strings.ToLower(parts[0])
	domain = strings.ToLower(parts[1])

	if localPart == "" || domain == "" {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}

	return localPart, domain, nil
}
