package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".image-insight"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"

	// PassphraseEnv names a passphrase file that overrides the lookup next
	// to the executable and in the working directory.
	PassphraseEnv = "IMAGE_INSIGHT_GPG_PASSPHRASE_FILE"
)

// KeySource tells where an API key was found.
type KeySource string

const (
	SourceEnv KeySource = "env"
	SourceGPG KeySource = "gpg"
)

// decryptFunc runs gpg with args and returns its stdout.
type decryptFunc func(ctx context.Context, args []string) ([]byte, error)

// Keyring reads the Gemini API key from the environment or from a
// GPG-encrypted file in the user's home directory.
type Keyring struct {
	// Home overrides os.UserHomeDir.
	Home string
	// Passphrase is an owner-only file for non-interactive decryption. Empty
	// means $IMAGE_INSIGHT_GPG_PASSPHRASE_FILE, then .gpg-passphrase next to
	// the executable, then in the working directory.
	Passphrase string

	decrypt decryptFunc
}

// GetAPIKey retrieves the Gemini API key with the default Keyring.
func GetAPIKey() (string, error) {
	key, _, err := (&Keyring{}).Lookup(context.Background())
	return key, err
}

// Lookup returns the key and its source. GEMINI_API_KEY wins over the
// encrypted file. A *ValidationError of type ErrTypeNoKey is returned when
// neither yields a key.
func (k *Keyring) Lookup(ctx context.Context) (string, KeySource, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, SourceEnv, nil
	}

	key, err := k.fromGPG(ctx)
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, SourceGPG, nil
	}

	log.Debug().Err(err).Msg("No GPG credentials available")
	return "", "", &ValidationError{
		Type:    ErrTypeNoKey,
		Message: "API key not found. Set GEMINI_API_KEY or store it GPG-encrypted at ~/" + credentialDir + "/" + credentialFile,
		Err:     err,
	}
}

// CredentialPath returns the location of the encrypted key.
func (k *Keyring) CredentialPath() (string, error) {
	home := k.Home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

func (k *Keyring) fromGPG(ctx context.Context) (string, error) {
	credPath, err := k.CredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := append(k.passphraseArgs(), "--decrypt", "--quiet", credPath)
	decrypt := k.decrypt
	if decrypt == nil {
		decrypt = runGPG
	}
	output, err := decrypt(ctx, args)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// passphraseArgs returns the loopback pinentry flags when a usable
// passphrase file exists. Files readable by group or others are ignored.
func (k *Keyring) passphraseArgs() []string {
	path := k.passphrasePath()
	if path == "" {
		return nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().
			Str("passphrase_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		return nil
	}
	log.Debug().Str("passphrase_file", path).Msg("Using passphrase file for GPG decryption")
	return []string{"--batch", "--pinentry-mode", "loopback", "--passphrase-file", path}
}

func (k *Keyring) passphrasePath() string {
	if k.Passphrase != "" {
		return k.Passphrase
	}
	if env := os.Getenv(PassphraseEnv); env != "" {
		return env
	}
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), passphraseFile))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, passphraseFile))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func runGPG(ctx context.Context, args []string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("GPG decryption failed: %w", err)
	}
	return output, nil
}
