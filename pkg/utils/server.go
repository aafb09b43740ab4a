package utils

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

const serverIDFile = ".server_id"

// GetPersistentServerID resolves a stable tenancy identity. The name has to
// survive restarts because the god registry keys placements by it.
//
// Resolution order: explicit override, the identity file under storagePath,
// a sanitized hostname, and finally a generated ID persisted for next boot.
func GetPersistentServerID(override, storagePath string) string {
	if override != "" {
		return override
	}

	idFile := filepath.Join(storagePath, serverIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	if host := sanitizeHostname(); host != "" {
		return "srv-" + host
	}

	buf := make([]byte, 4)
	rand.Read(buf)
	id := "srv-" + hex.EncodeToString(buf)

	_ = os.MkdirAll(storagePath, 0o755)
	_ = os.WriteFile(idFile, []byte(id), 0o644)

	return id
}

func sanitizeHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" || hostname == "localhost" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, hostname)
}
