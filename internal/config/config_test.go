package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Account = AccountConfig{UserID: "u1", ClientID: "c1", PersistentWebSocket: true}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Account != cfg.Account {
		t.Errorf("Account = %+v, want %+v", loaded.Account, cfg.Account)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"main\"\n[socket]\nbase_url = \"ws://localhost:8080/await?client=\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Socket.BaseURL != "ws://localhost:8080/await?client=" {
		t.Errorf("BaseURL = %q", cfg.Socket.BaseURL)
	}
	if cfg.Socket.HandshakeTimeout() != 15*time.Second {
		t.Errorf("HandshakeTimeout = %v, want default 15s", cfg.Socket.HandshakeTimeout())
	}
	if cfg.Health.UnhealthyAfter() != 12*time.Hour {
		t.Errorf("UnhealthyAfter = %v, want 12h", cfg.Health.UnhealthyAfter())
	}
	if cfg.Health.ObservationTimeout() != time.Second {
		t.Errorf("ObservationTimeout = %v, want 1s", cfg.Health.ObservationTimeout())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Socket.BaseURL != DefaultSocketBaseURL {
		t.Errorf("BaseURL = %q, want default", cfg.Socket.BaseURL)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WIRE_SOCKET_URL", "ws://127.0.0.1:9/await?client=")
	t.Setenv("WIRE_CLIENT_ID", "client-7")
	t.Setenv("WIRE_PERSISTENT_WEBSOCKET", "true")
	t.Setenv("WIRE_LOG_LEVEL", "debug")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Socket.BaseURL != "ws://127.0.0.1:9/await?client=" {
		t.Errorf("BaseURL = %q", cfg.Socket.BaseURL)
	}
	if cfg.Account.ClientID != "client-7" || !cfg.Account.PersistentWebSocket {
		t.Errorf("Account = %+v", cfg.Account)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestApplyEnvRejectsBadBool(t *testing.T) {
	t.Setenv("WIRE_PERSISTENT_WEBSOCKET", "sometimes")
	if err := ApplyEnv(Default()); err == nil {
		t.Error("ApplyEnv() should reject a non-boolean WIRE_PERSISTENT_WEBSOCKET")
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("WIRE_USER_ID=from-file\nWIRE_CLIENT_ID=file-client\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Already-set variables win over the file.
	t.Setenv("WIRE_CLIENT_ID", "from-env")
	t.Setenv("WIRE_USER_ID", "")
	_ = os.Unsetenv("WIRE_USER_ID")

	if err := LoadEnv(path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("WIRE_USER_ID") })

	if got := os.Getenv("WIRE_USER_ID"); got != "from-file" {
		t.Errorf("WIRE_USER_ID = %q, want from-file", got)
	}
	if got := os.Getenv("WIRE_CLIENT_ID"); got != "from-env" {
		t.Errorf("WIRE_CLIENT_ID = %q, want from-env", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadEnv() missing file error = %v, want nil", err)
	}
}
