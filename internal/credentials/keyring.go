package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringServicePrefix is the prefix for all gosyncprogress keyring entries
	KeyringServicePrefix = "gosyncprogress"
)

// ErrNotInKeyring is returned when the keyring has no token for a remote and user
var ErrNotInKeyring = errors.New("no token found in keyring")

// getServiceName returns the keyring service name for a remote
func getServiceName(remoteName string) string {
	return fmt.Sprintf("%s-%s", KeyringServicePrefix, remoteName)
}

func checkArgs(remoteName, username string) error {
	if remoteName == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	return nil
}

// Set stores a token in the OS keyring
func Set(remoteName, username, token string) error {
	if err := checkArgs(remoteName, username); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := keyring.Set(getServiceName(remoteName), username, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// Get retrieves a token from the OS keyring
func Get(remoteName, username string) (string, error) {
	if err := checkArgs(remoteName, username); err != nil {
		return "", err
	}

	token, err := keyring.Get(getServiceName(remoteName), username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for remote %q and user %q", ErrNotInKeyring, remoteName, username)
		}
		return "", fmt.Errorf("failed to retrieve token from keyring: %w", err)
	}
	return token, nil
}

// Delete removes a token from the OS keyring
func Delete(remoteName, username string) error {
	if err := checkArgs(remoteName, username); err != nil {
		return err
	}

	if err := keyring.Delete(getServiceName(remoteName), username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w for remote %q and user %q", ErrNotInKeyring, remoteName, username)
		}
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible
func IsAvailable() bool {
	// A working keyring answers ErrNotFound for an entry that was never written
	_, err := keyring.Get("gosyncprogress-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
