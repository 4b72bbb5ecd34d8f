package cleaner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDeriveOrigin(t *testing.T) {
	cases := []struct {
		url, mode, want string
	}{
		{"https://News.Example/a/b?q=1", OriginModeOrigin, "https://news.example"},
		{"https://news.example:443/", OriginModeOrigin, "https://news.example"},
		{"http://news.example:80/x", OriginModeOrigin, "http://news.example"},
		{"http://news.example:8080/x", OriginModeOrigin, "http://news.example:8080"},
		{"news.example/path", OriginModeOrigin, "https://news.example"},
		{"http://[::1]:3000/", OriginModeOrigin, "http://[::1]:3000"},
		{"https://news.example:8443/a", OriginModeHostname, "news.example"},
	}
	for _, tc := range cases {
		got, err := DeriveOrigin(tc.url, tc.mode)
		if err != nil {
			t.Errorf("DeriveOrigin(%q): %v", tc.url, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DeriveOrigin(%q, %s) = %q, want %q", tc.url, tc.mode, got, tc.want)
		}
	}

	if _, err := DeriveOrigin("file:///etc/hosts", OriginModeOrigin); !errors.Is(err, ErrNoOrigin) {
		t.Errorf("file url: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webcleaner.yaml")
	data := `
db_path: /var/lib/webcleaner/rules.db
busy_timeout: 2s
origin_mode: hostname
debounce:
  window: 50ms
browser:
  resource_blocking: [image, font]
effects:
  enlarge_scale: 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/var/lib/webcleaner/rules.db" || cfg.OriginMode != OriginModeHostname {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.BusyTimeout != 2*time.Second {
		t.Errorf("busy_timeout = %v", cfg.BusyTimeout)
	}
	if cfg.Debounce.Window != 50*time.Millisecond {
		t.Errorf("window = %v", cfg.Debounce.Window)
	}
	if cfg.Effects.EnlargeScale != 2 || cfg.Effects.BlurRadius != "8px" {
		t.Errorf("effects = %+v", cfg.Effects)
	}
	if cfg.Browser.Viewport.Width != 1280 || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
}

func TestNewAppliesBusyTimeout(t *testing.T) {
	c, err := New(&Config{
		DBPath:      filepath.Join(t.TempDir(), "rules.db"),
		BusyTimeout: 1500 * time.Millisecond,
	}, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var ms int
	if err := c.Store().DB.QueryRow("PRAGMA busy_timeout").Scan(&ms); err != nil {
		t.Fatal(err)
	}
	if ms != 1500 {
		t.Fatalf("busy_timeout = %d, want 1500", ms)
	}
}

func TestLoadConfigFileRejectsOriginMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("origin_mode: path\n"), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error")
	}
}
