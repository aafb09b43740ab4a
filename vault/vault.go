package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
)

const (
	// MinCredentialBytes rejects blobs too small to be a credential file.
	MinCredentialBytes = 10

	credsFileName = "creds.json"
	maxScanDepth  = 5
)

var (
	jidPhoneRegex  = regexp.MustCompile(`^(\d+):`)
	scanPhoneRegex = regexp.MustCompile(`(\d{10,15}):`)
	digitsRegex    = regexp.MustCompile(`^\d{10,15}$`)
)

// ParsedCredentials is the result of a successful validation pass.
type ParsedCredentials struct {
	Phone      string
	Normalized string // canonical JSON, what gets persisted
	SizeBytes  int
}

// RegistrationLookup is the slice of the server repository the vault needs
// for the global uniqueness check.
type RegistrationLookup interface {
	GetRegistration(ctx context.Context, phone string) (*domainServer.GlobalRegistration, error)
}

// BotLookup resolves a bot on a given tenancy by phone, used for the
// same-bot rotation exception.
type BotLookup interface {
	GetBotOnServerByPhone(ctx context.Context, serverName, phone string) (*domainInstance.BotInstance, error)
}

// Vault validates, stores and mirrors WhatsApp credential blobs. Every
// credential accepted into the fleet goes through Validate first.
type Vault struct {
	bots          BotLookup
	registrations RegistrationLookup
	authDir       string
	maxBytes      int64
}

func NewVault(bots BotLookup, registrations RegistrationLookup, authDir string, maxBytes int64) *Vault {
	return &Vault{
		bots:          bots,
		registrations: registrations,
		authDir:       authDir,
		maxBytes:      maxBytes,
	}
}

// Validate checks a credential blob against the full acceptance contract.
// callerPhone, when non-empty, must match the phone embedded in the blob.
// callerBotID, when non-empty, exempts that bot from the global uniqueness
// check so a bot can rotate its own credentials.
func (v *Vault) Validate(ctx context.Context, input, callerPhone, callerBotID string) (*ParsedCredentials, error) {
	parsed, err := v.ParseOnly(ctx, input)
	if err != nil {
		return nil, err
	}

	if callerPhone != "" && utils.SanitizePhone(callerPhone) != parsed.Phone {
		return nil, pkgError.ValidationError("Credentials phone number mismatch")
	}

	if err := v.checkGlobalUniqueness(ctx, parsed.Phone, callerBotID); err != nil {
		return nil, err
	}
	return parsed, nil
}

// ParseOnly runs the structural checks and phone extraction without the
// global uniqueness check. The session proof flow uses it: there the phone
// being registered already is the expected case.
func (v *Vault) ParseOnly(ctx context.Context, input string) (*ParsedCredentials, error) {
	root, normalized, err := v.decode(input)
	if err != nil {
		return nil, err
	}

	creds, ok := root["creds"].(map[string]any)
	if !ok {
		return nil, pkgError.ValidationError("credentials missing required creds object")
	}
	for _, key := range []string{"noiseKey", "signedIdentityKey", "signedPreKey", "registrationId"} {
		if _, ok := creds[key]; !ok {
			return nil, pkgError.ValidationError(fmt.Sprintf("credentials missing required field creds.%s", key))
		}
	}

	phone := extractPhone(root)
	if phone == "" {
		return nil, pkgError.ValidationError("could not extract phone number from credentials")
	}

	return &ParsedCredentials{
		Phone:      phone,
		Normalized: string(normalized),
		SizeBytes:  len(normalized),
	}, nil
}

// decode accepts raw JSON or a base64-encoded JSON string and enforces the
// size caps before any expensive work.
func (v *Vault) decode(input string) (map[string]any, []byte, error) {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) < MinCredentialBytes {
		return nil, nil, pkgError.ValidationError("credentials too small to be valid")
	}

	raw := []byte(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		// Base64 path. Estimate the decoded size before decoding so an
		// oversized payload is rejected without allocating 5 MB+.
		estimated := int64(len(trimmed)) * 3 / 4
		if estimated > v.maxBytes {
			return nil, nil, pkgError.ValidationError(fmt.Sprintf(
				"credentials exceed maximum size of %s", humanize.Bytes(uint64(v.maxBytes))))
		}
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(trimmed)
			if err != nil {
				return nil, nil, pkgError.ValidationError("credentials are neither JSON nor base64-encoded JSON")
			}
		}
		raw = decoded
	}

	if int64(len(raw)) > v.maxBytes {
		return nil, nil, pkgError.ValidationError(fmt.Sprintf(
			"credentials exceed maximum size of %s", humanize.Bytes(uint64(v.maxBytes))))
	}
	if len(raw) < MinCredentialBytes {
		return nil, nil, pkgError.ValidationError("credentials too small to be valid")
	}

	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, nil, pkgError.ValidationError("credentials are not a valid JSON object")
	}
	if len(root) == 0 {
		return nil, nil, pkgError.ValidationError("credentials object is empty")
	}
	return root, raw, nil
}

// checkGlobalUniqueness rejects credentials whose phone is already
// registered anywhere in the fleet, unless the registration points at the
// caller's own bot.
func (v *Vault) checkGlobalUniqueness(ctx context.Context, phone, callerBotID string) error {
	reg, err := v.registrations.GetRegistration(ctx, phone)
	if err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to check phone registration: %v", err))
	}
	if reg == nil {
		return nil
	}
	if callerBotID != "" {
		existing, err := v.bots.GetBotOnServerByPhone(ctx, reg.ServerName, phone)
		if err == nil && existing != nil && existing.ID == callerBotID {
			return nil
		}
	}
	return pkgError.ConflictError{
		Message:      fmt.Sprintf("This phone number is registered to %s. Please use that server to manage your bot", reg.ServerName),
		RegisteredTo: reg.ServerName,
	}
}

// extractPhone pulls the phone number out of a parsed credential object.
// The happy path is creds.me.id / me.id shaped <digits>:<device>@...; old
// exports hide the phone deeper, hence the bounded deep scan fallback.
func extractPhone(root map[string]any) string {
	if creds, ok := root["creds"].(map[string]any); ok {
		if phone := phoneFromMeID(creds["me"]); phone != "" {
			return phone
		}
	}
	if phone := phoneFromMeID(root["me"]); phone != "" {
		return phone
	}
	return deepScanPhone(root, 0)
}

func phoneFromMeID(me any) string {
	meMap, ok := me.(map[string]any)
	if !ok {
		return ""
	}
	id, ok := meMap["id"].(string)
	if !ok {
		return ""
	}
	if m := jidPhoneRegex.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	return ""
}

func deepScanPhone(node any, depth int) string {
	if depth > maxScanDepth {
		return ""
	}
	switch val := node.(type) {
	case map[string]any:
		for key, child := range val {
			if s, ok := child.(string); ok {
				lower := strings.ToLower(key)
				if strings.Contains(lower, "phone") || strings.Contains(lower, "number") {
					digits := utils.SanitizePhone(s)
					if digitsRegex.MatchString(digits) {
						return digits
					}
				}
				if m := scanPhoneRegex.FindStringSubmatch(s); m != nil {
					return m[1]
				}
			}
		}
		for _, child := range val {
			if phone := deepScanPhone(child, depth+1); phone != "" {
				return phone
			}
		}
	case []any:
		for _, child := range val {
			if phone := deepScanPhone(child, depth+1); phone != "" {
				return phone
			}
		}
	}
	return ""
}

// BotDir returns the on-disk session directory for a bot.
func (v *Vault) BotDir(botID string) string {
	return filepath.Join(v.authDir, "bot_"+botID)
}

// Store mirrors validated credentials to the per-bot directory the session
// worker restores from.
func (v *Vault) Store(botID, normalized string) error {
	dir := v.BotDir(botID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to create credential dir: %v", err))
	}
	path := filepath.Join(dir, credsFileName)
	if err := os.WriteFile(path, []byte(normalized), 0o600); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to write credential file: %v", err))
	}
	logrus.Debugf("[VAULT] Stored credentials for bot %s (%s)", botID, humanize.Bytes(uint64(len(normalized))))
	return nil
}

// Purge removes a bot's on-disk session directory. Missing dir is fine.
func (v *Vault) Purge(botID string) error {
	if err := os.RemoveAll(v.BotDir(botID)); err != nil {
		logrus.Warnf("[VAULT] Failed to purge credentials for bot %s: %v", botID, err)
		return err
	}
	return nil
}
