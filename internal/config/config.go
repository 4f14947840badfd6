// Package config loads idgate's tuning file. Every key is optional; missing
// keys keep the values from Default.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/andresmejia3/idgate/internal/capture"
	"github.com/andresmejia3/idgate/internal/quality"
	"github.com/andresmejia3/idgate/internal/recognition"
)

// DefaultPath is looked up in the working directory when no path is given.
const DefaultPath = "idgate.toml"

// Duration is a time.Duration written as a Go duration string ("350ms").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Capture holds the quality gate and state machine tuning.
type Capture struct {
	SampleWidth     int      `toml:"sample_width"`
	SharpMin        float64  `toml:"sharp_min"`
	EdgeThreshold   float64  `toml:"edge_threshold"`
	EdgeMin         float64  `toml:"edge_min"`
	FillMin         float64  `toml:"fill_min"`
	FillMax         float64  `toml:"fill_max"`
	ViewportWidth   float64  `toml:"viewport_width"`
	GuideRatio      float64  `toml:"guide_ratio"`
	GuideMaxWidth   float64  `toml:"guide_max_width"`
	StableThreshold int      `toml:"stable_threshold"`
	StableSlack     int      `toml:"stable_slack"`
	MinSideDelay    Duration `toml:"min_side_delay"`
	Debounce        Duration `toml:"debounce"`
	ValidateFront   bool     `toml:"validate_front"`
}

// Engine configures the recognition engine process.
type Engine struct {
	Enabled           bool     `toml:"enabled"`
	Command           []string `toml:"command"`
	LicenseKey        string   `toml:"license_key"`
	AllowedDocuments  []string `toml:"allowed_documents"`
	AllowUnclassified bool     `toml:"allow_unclassified"`
	Timeout           Duration `toml:"timeout"`
}

// Security holds token and signed-URL secrets.
type Security struct {
	JWTIssuer    string   `toml:"jwt_issuer"`
	JWTAudience  string   `toml:"jwt_audience"`
	JWTKey       string   `toml:"jwt_key"`
	UploadSecret string   `toml:"upload_secret"`
	TokenTTL     Duration `toml:"token_ttl"`
	UploadURLTTL Duration `toml:"upload_url_ttl"`
}

// Retention controls how long captures are kept.
type Retention struct {
	Minutes         int      `toml:"minutes"`
	CleanupInterval Duration `toml:"cleanup_interval"`
}

// Server configures the HTTP surface.
type Server struct {
	Bind           string   `toml:"bind"`
	MaxUploadMB    int      `toml:"max_upload_mb"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Config is the whole tuning file.
type Config struct {
	Capture   Capture   `toml:"capture"`
	Engine    Engine    `toml:"engine"`
	Security  Security  `toml:"security"`
	Retention Retention `toml:"retention"`
	Server    Server    `toml:"server"`
}

// Default returns the built-in configuration.
func Default() Config {
	t := quality.DefaultThresholds()
	g := quality.DefaultGuide(640)
	cc := capture.DefaultConfig()
	return Config{
		Capture: Capture{
			SampleWidth:     640,
			SharpMin:        t.SharpMin,
			EdgeThreshold:   t.EdgeThreshold,
			EdgeMin:         t.EdgeMin,
			FillMin:         t.FillMin,
			FillMax:         t.FillMax,
			ViewportWidth:   g.ViewportWidth,
			GuideRatio:      g.Ratio,
			GuideMaxWidth:   g.MaxWidth,
			StableThreshold: 10,
			StableSlack:     5,
			MinSideDelay:    Duration(cc.MinSideDelay),
			Debounce:        Duration(cc.Debounce),
		},
		Engine: Engine{
			Command:          []string{"python3", "-u", "engine/worker.py"},
			AllowedDocuments: []string{"id", "passport"},
			Timeout:          Duration(30 * time.Second),
		},
		Security: Security{
			JWTIssuer:    "DemoIssuer",
			JWTAudience:  "DemoAudience",
			JWTKey:       "DemoJwtKey_ChangeMe1234567890",
			UploadSecret: "UploadSecret_ChangeMe",
			TokenTTL:     Duration(4 * time.Hour),
			UploadURLTTL: Duration(5 * time.Minute),
		},
		Retention: Retention{
			Minutes:         30,
			CleanupInterval: Duration(time.Minute),
		},
		Server: Server{
			Bind:           ":5000",
			MaxUploadMB:    50,
			AllowedOrigins: []string{"http://localhost:4200", "http://127.0.0.1:4200"},
		},
	}
}

// Load reads path (or DefaultPath when empty), applies environment
// overrides and validates. It reports the resolved path and whether the file
// existed; a missing file is not an error.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, "", false, fmt.Errorf("resolve config path: %w", err)
	}

	exists := true
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, "", false, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("IDGATE_LICENSE_KEY")); v != "" {
		c.Engine.LicenseKey = v
	}
	if v := strings.TrimSpace(os.Getenv("IDGATE_JWT_KEY")); v != "" {
		c.Security.JWTKey = v
	}
	if v := strings.TrimSpace(os.Getenv("IDGATE_UPLOAD_SECRET")); v != "" {
		c.Security.UploadSecret = v
	}
}

// Thresholds returns the scorer thresholds.
func (c Capture) Thresholds() quality.Thresholds {
	return quality.Thresholds{
		SharpMin:      c.SharpMin,
		EdgeThreshold: c.EdgeThreshold,
		EdgeMin:       c.EdgeMin,
		FillMin:       c.FillMin,
		FillMax:       c.FillMax,
	}
}

// Guide returns the on-screen guide geometry.
func (c Capture) Guide() quality.Guide {
	return quality.Guide{ViewportWidth: c.ViewportWidth, Ratio: c.GuideRatio, MaxWidth: c.GuideMaxWidth}
}

// Orchestrator returns the state machine timings.
func (c Capture) Orchestrator() capture.Config {
	return capture.Config{
		MinSideDelay:  c.MinSideDelay.D(),
		Debounce:      c.Debounce.D(),
		ValidateFront: c.ValidateFront,
	}
}

// Policy returns the document acceptance policy.
func (e Engine) Policy() (recognition.Policy, error) {
	p := recognition.Policy{AllowUnclassified: e.AllowUnclassified}
	for _, name := range e.AllowedDocuments {
		k, err := recognition.ParseKind(name)
		if err != nil {
			return p, fmt.Errorf("engine.allowed_documents: %w", err)
		}
		p.Allowed = append(p.Allowed, k)
	}
	return p, nil
}
