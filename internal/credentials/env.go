package credentials

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix starts every environment variable the credentials package reads
const EnvPrefix = "GOSYNCPROGRESS_"

// normalizeRemoteName converts a remote name to the format used in environment variables
// Example: "school-server" becomes "SCHOOL_SERVER"
func normalizeRemoteName(remoteName string) string {
	normalized := strings.ToUpper(remoteName)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

// getEnvVarName returns the environment variable name for a remote field
func getEnvVarName(remoteName, field string) string {
	return EnvPrefix + normalizeRemoteName(remoteName) + "_" + strings.ToUpper(field)
}

// TokenEnvVar returns the environment variable holding a remote's token
func TokenEnvVar(remoteName string) string {
	return getEnvVarName(remoteName, "TOKEN")
}

// GetToken retrieves the token from environment variables
// Looks for: GOSYNCPROGRESS_{REMOTE_NAME}_TOKEN
func GetToken(remoteName string) string {
	if remoteName == "" {
		return ""
	}
	return os.Getenv(getEnvVarName(remoteName, "TOKEN"))
}

// GetUsername retrieves the username from environment variables
// Looks for: GOSYNCPROGRESS_{REMOTE_NAME}_USERNAME
func GetUsername(remoteName string) string {
	if remoteName == "" {
		return ""
	}
	return os.Getenv(getEnvVarName(remoteName, "USERNAME"))
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}
