package cfg

import (
	"path/filepath"
	"testing"
	"time"
)

func validTestCfg(t *testing.T) *Cfg {
	t.Helper()
	return &Cfg{
		BindAddr:       "127.0.0.1",
		Port:           "12345",
		Environment:    "test",
		LogLevel:       "error",
		DatabasePath:   filepath.Join(".", "test.db"),
		Magic:          NewSecret("unit-test-magic"),
		MaxTitleLen:    200,
		MaxContentSize: 80 * 1024,
		MaxTTL:         7 * 24 * time.Hour,
		ReapInterval:   2 * time.Second,
		LRUCacheSize:   100,
		RateLimit:      RateLimitCfg{RPM: 60, Burst: 10, ConservativeLimit: 5},
		ContextTimeout: 5 * time.Second,
		RedisTimeout:   5 * time.Second,
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port == "" {
		t.Fatal("expected default port")
	}
	if c.MaxTTL <= 0 {
		t.Fatalf("unexpected MaxTTL %v", c.MaxTTL)
	}
	if c.MaxTitleLen <= 0 || c.MaxContentSize <= 0 {
		t.Fatal("expected positive size limits")
	}
	if c.ReapInterval <= 0 {
		t.Fatal("expected positive reap interval")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_TTL", "24h")
	t.Setenv("MAX_TITLE_LEN", "50")
	t.Setenv("REAP_INTERVAL", "500ms")
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.MaxTTL != 24*time.Hour {
		t.Fatalf("MaxTTL = %v", c.MaxTTL)
	}
	if c.MaxTitleLen != 50 {
		t.Fatalf("MaxTitleLen = %d", c.MaxTitleLen)
	}
	if c.ReapInterval != 500*time.Millisecond {
		t.Fatalf("ReapInterval = %v", c.ReapInterval)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validTestCfg(t)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"empty port", func(c *Cfg) { c.Port = "" }},
		{"non-numeric port", func(c *Cfg) { c.Port = "http" }},
		{"missing magic", func(c *Cfg) { c.Magic = NewSecret(""); c.MagicFromStore = false }},
		{"escaping db path", func(c *Cfg) { c.DatabasePath = "/etc/pastekv.db" }},
		{"zero title limit", func(c *Cfg) { c.MaxTitleLen = 0 }},
		{"huge content limit", func(c *Cfg) { c.MaxContentSize = 100 * 1024 * 1024 }},
		{"excessive ttl ceiling", func(c *Cfg) { c.MaxTTL = 365 * 24 * time.Hour }},
		{"tiny reap interval", func(c *Cfg) { c.ReapInterval = time.Millisecond }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://localhost:6379" }},
		{"bad trusted proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }},
		{"prod without metrics auth", func(c *Cfg) { c.Environment = "production" }},
	}
	for _, tc := range cases {
		c := validTestCfg(t)
		tc.mutate(c)
		if err := Validate(c); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestMagicFromStoreSkipsMagicCheck(t *testing.T) {
	c := validTestCfg(t)
	c.Magic = NewSecret("")
	c.MagicFromStore = true
	if err := Validate(c); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("super-secret")
	if s.String() == "super-secret" {
		t.Fatal("secret leaked through String")
	}
	if s.Value() != "super-secret" {
		t.Fatal("Value should return the raw secret")
	}
	s.Wipe()
	for _, b := range []byte(s.Value()) {
		if b != 0 {
			t.Fatal("wipe left data behind")
		}
	}
}
