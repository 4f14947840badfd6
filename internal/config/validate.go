package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if c.Retention.Minutes <= 0 {
		return errors.New("retention.minutes must be positive")
	}
	if c.Retention.CleanupInterval <= 0 {
		return errors.New("retention.cleanup_interval must be positive")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	return nil
}

func (c *Config) validateCapture() error {
	cc := c.Capture
	if cc.SampleWidth <= 0 {
		return errors.New("capture.sample_width must be positive")
	}
	if cc.SharpMin < 0 || cc.EdgeThreshold < 0 {
		return errors.New("capture.sharp_min and capture.edge_threshold must not be negative")
	}
	if cc.EdgeMin < 0 || cc.EdgeMin > 1 {
		return errors.New("capture.edge_min must be between 0 and 1")
	}
	if cc.FillMin < 0 || cc.FillMax > 1 || cc.FillMin > cc.FillMax {
		return fmt.Errorf("capture.fill_min/fill_max must satisfy 0 <= min <= max <= 1 (got %v, %v)", cc.FillMin, cc.FillMax)
	}
	if cc.ViewportWidth <= 0 || cc.GuideRatio <= 0 {
		return errors.New("capture.viewport_width and capture.guide_ratio must be positive")
	}
	if cc.GuideMaxWidth < 0 {
		return errors.New("capture.guide_max_width must not be negative (0 disables the cap)")
	}
	if cc.StableThreshold <= 0 || cc.StableSlack < 0 {
		return errors.New("capture.stable_threshold must be positive and capture.stable_slack not negative")
	}
	if cc.MinSideDelay < 0 || cc.Debounce < 0 {
		return errors.New("capture.min_side_delay and capture.debounce must not be negative")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if _, err := c.Engine.Policy(); err != nil {
		return err
	}
	if !c.Engine.Enabled {
		return nil
	}
	if len(c.Engine.Command) == 0 {
		return errors.New("engine.command is required when the engine is enabled")
	}
	if c.Engine.LicenseKey == "" {
		return errors.New("engine.license_key is required when the engine is enabled. Set IDGATE_LICENSE_KEY or edit idgate.toml")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.JWTKey == "" {
		return errors.New("security.jwt_key must be set")
	}
	if len(c.Security.JWTKey) < 16 {
		return errors.New("security.jwt_key must be at least 16 bytes")
	}
	if c.Security.UploadSecret == "" {
		return errors.New("security.upload_secret must be set")
	}
	if c.Security.TokenTTL <= 0 || c.Security.UploadURLTTL <= 0 {
		return errors.New("security.token_ttl and security.upload_url_ttl must be positive")
	}
	return nil
}
