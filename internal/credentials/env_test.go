package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeRemoteName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"default", "DEFAULT"},
		{"school-server", "SCHOOL_SERVER"},
		{"Work", "WORK"},
	}
	for _, tt := range tests {
		if got := normalizeRemoteName(tt.input); got != tt.want {
			t.Errorf("normalizeRemoteName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGetEnvVarName(t *testing.T) {
	if got := getEnvVarName("school-server", "token"); got != "GOSYNCPROGRESS_SCHOOL_SERVER_TOKEN" {
		t.Errorf("getEnvVarName() = %q", got)
	}
}

func TestGetTokenAndUsername(t *testing.T) {
	t.Setenv("GOSYNCPROGRESS_ENVTEST_TOKEN", "tok")
	t.Setenv("GOSYNCPROGRESS_ENVTEST_USERNAME", "learner")

	if got := GetToken("envtest"); got != "tok" {
		t.Errorf("GetToken() = %q, want %q", got, "tok")
	}
	if got := GetUsername("envtest"); got != "learner" {
		t.Errorf("GetUsername() = %q, want %q", got, "learner")
	}
	if got := GetToken(""); got != "" {
		t.Errorf("GetToken(\"\") = %q, want empty", got)
	}
	if got := GetToken("missing"); got != "" {
		t.Errorf("GetToken(missing) = %q, want empty", got)
	}
}

// TestLoadDotEnv tests that .env values fill unset variables only
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "GOSYNCPROGRESS_DOTENV_TOKEN=from-file\nGOSYNCPROGRESS_DOTENV_USERNAME=file-user\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GOSYNCPROGRESS_DOTENV_USERNAME", "shell-user")
	t.Setenv("GOSYNCPROGRESS_DOTENV_TOKEN", "")
	os.Unsetenv("GOSYNCPROGRESS_DOTENV_TOKEN")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	if got := GetToken("dotenv"); got != "from-file" {
		t.Errorf("GetToken() = %q, want %q", got, "from-file")
	}
	if got := GetUsername("dotenv"); got != "shell-user" {
		t.Errorf("GetUsername() = %q, existing variable should win", got)
	}
}
func TestTokenEnvVar(t *testing.T) {
	if got := TokenEnvVar("school-server"); got != "GOSYNCPROGRESS_SCHOOL_SERVER_TOKEN" {
		t.Errorf("TokenEnvVar() = %q", got)
	}
}
