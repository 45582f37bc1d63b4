package config

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"strings"

	"github.com/redactai/redactai/internal/safety"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := validateServerConfig(cfg.Server); err != nil {
		return err
	}
	if err := validateUsers(cfg.Users); err != nil {
		return err
	}
	if err := validateDetectionConfig(cfg.Detection); err != nil {
		return err
	}
	if err := validateClassifierConfig(cfg.Classifier); err != nil {
		return err
	}
	if err := validateScoringConfig(cfg.Scoring); err != nil {
		return err
	}
	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}
	if err := validateNotifyConfig(cfg.Notify); err != nil {
		return err
	}
	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}
	return nil
}

func validateServerConfig(s ServerConfig) error {
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if s.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	if s.MaxInFlight < 0 {
		return errors.New("server.max_in_flight must be positive")
	}
	return nil
}

func validateUsers(users []UserConfig) error {
	ids := make(map[string]bool, len(users))
	keys := make(map[string]string)
	for i, u := range users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return fmt.Errorf("user %d missing id", i)
		}
		if ids[id] {
			return fmt.Errorf("duplicate user id %q", id)
		}
		ids[id] = true
		if len(u.APIKeys) == 0 && strings.TrimSpace(u.APIKeyEnv) == "" {
			return fmt.Errorf("user %q must define api_keys or api_key_env", id)
		}
		for _, k := range u.APIKeys {
			k = strings.TrimSpace(k)
			if k == "" {
				return fmt.Errorf("user %q has an empty api key", id)
			}
			if owner, ok := keys[k]; ok {
				return fmt.Errorf("api key of user %q is already assigned to user %q", id, owner)
			}
			keys[k] = id
		}
		for field, addr := range map[string]string{"email": u.Email, "notification_email": u.NotificationEmail} {
			if strings.TrimSpace(addr) == "" {
				continue
			}
			if _, err := mail.ParseAddress(addr); err != nil {
				return fmt.Errorf("user %q has invalid %s: %w", id, field, err)
			}
		}
	}
	return nil
}

func validateDetectionConfig(d DetectionConfig) error {
	if d.MaxTextBytes <= 0 {
		return errors.New("detection.max_text_bytes must be positive")
	}
	if d.EntropyThreshold < 0 || d.EntropyThreshold > 8 {
		return fmt.Errorf("detection.entropy_threshold must be within 0..8, got %v", d.EntropyThreshold)
	}
	for i, p := range d.ExtraPatterns {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("detection.extra_patterns[%d] missing name", i)
		}
		if strings.TrimSpace(p.Pattern) == "" {
			return fmt.Errorf("detection.extra_patterns[%d] (%s) missing pattern", i, p.Name)
		}
		if _, err := safety.ParseSecretCategory(p.Category); err != nil {
			return fmt.Errorf("detection.extra_patterns[%d] (%s): %w", i, p.Name, err)
		}
	}
	return nil
}

func validateClassifierConfig(c ClassifierConfig) error {
	if c.Required && strings.TrimSpace(c.ModelDir) == "" {
		return errors.New("classifier.required is set but classifier.model_dir is empty")
	}
	if c.Timeout < 0 {
		return errors.New("classifier.timeout must be positive")
	}
	if c.Workers < 0 || c.IntraThreads < 0 || c.InterThreads < 0 {
		return errors.New("classifier worker and thread counts must not be negative")
	}
	return nil
}

func validateScoringConfig(s ScoringConfig) error {
	t := s.Thresholds()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	w, err := s.Weights()
	if err != nil {
		return fmt.Errorf("scoring.category_weights: %w", err)
	}
	if err := w.Validate(t); err != nil {
		return fmt.Errorf("scoring.category_weights: %w", err)
	}
	return nil
}

func validateAuditConfig(a AuditConfig) error {
	if strings.TrimSpace(a.Path) == "" {
		return errors.New("audit.path must be set")
	}
	if a.ExcerptLength < 0 {
		return errors.New("audit.excerpt_length must be positive")
	}
	if a.HistoryLimit < 0 || a.HistoryLimit > 200 {
		return fmt.Errorf("audit.history_limit must be within 1..200, got %d", a.HistoryLimit)
	}
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "", "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("audit.log_level must be silent, error, warn or info, got %q", a.LogLevel)
	}
	return nil
}

func validateNotifyConfig(n NotifyConfig) error {
	if n.QueueSize < 0 || n.Workers < 0 {
		return errors.New("notify.queue_size and notify.workers must not be negative")
	}
	for i, s := range n.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "log":
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("notify sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("notify sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("notify sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("notify sink %d (webhook) url must be http or https", i)
			}
			if err := blockPrivateHost(u.Host, s.AllowPrivateNetworks); err != nil {
				return fmt.Errorf("notify sink %d (webhook) url blocked: %w", i, err)
			}
		case "smtp":
			if strings.TrimSpace(s.SMTP.Host) == "" {
				return fmt.Errorf("notify sink %d (smtp) missing host", i)
			}
			if s.SMTP.Port <= 0 || s.SMTP.Port > 65535 {
				return fmt.Errorf("notify sink %d (smtp) has invalid port %d", i, s.SMTP.Port)
			}
			if _, err := mail.ParseAddress(s.SMTP.From); err != nil {
				return fmt.Errorf("notify sink %d (smtp) has invalid from address", i)
			}
			if s.SMTP.Username != "" && strings.TrimSpace(s.SMTP.PasswordEnv) == "" {
				return fmt.Errorf("notify sink %d (smtp) sets username without password_env", i)
			}
		default:
			return fmt.Errorf("notify sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}

func blockPrivateHost(hostport string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(strings.TrimSpace(host), "localhost") {
		return errors.New("private network host localhost blocked for SSRF safety")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("private network IP %s blocked for SSRF safety", ip.String())
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
