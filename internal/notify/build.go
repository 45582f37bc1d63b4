package notify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redactai/redactai/internal/config"
)

// BuildSinks instantiates the configured sinks. SMTP passwords are read from
// the named environment variable so they never live in the YAML file.
func BuildSinks(cfg config.NotifyConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfg.Sinks))
	fail := func(err error) ([]Sink, error) {
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
		return nil, err
	}
	for i, sc := range cfg.Sinks {
		switch strings.ToLower(strings.TrimSpace(sc.Type)) {
		case "log":
			sinks = append(sinks, LogSink{})
		case "file_jsonl":
			s, err := NewFileSink(sc.Path)
			if err != nil {
				return fail(fmt.Errorf("notify sink %d: %w", i, err))
			}
			sinks = append(sinks, s)
		case "webhook":
			s, err := NewWebhookSink(sc.URL, sc.Headers, sc.Timeout)
			if err != nil {
				return fail(fmt.Errorf("notify sink %d: %w", i, err))
			}
			sinks = append(sinks, s)
		case "smtp":
			password := ""
			if env := strings.TrimSpace(sc.SMTP.PasswordEnv); env != "" {
				password = os.Getenv(env)
				if password == "" {
					return fail(fmt.Errorf("notify sink %d: env %s is empty", i, env))
				}
			}
			s, err := NewSMTPSink(SMTPConfig{
				Host:       sc.SMTP.Host,
				Port:       sc.SMTP.Port,
				Username:   sc.SMTP.Username,
				Password:   password,
				From:       sc.SMTP.From,
				To:         sc.SMTP.To,
				Timeout:    sc.Timeout,
				RequireTLS: sc.SMTP.RequireTLS,
			})
			if err != nil {
				return fail(fmt.Errorf("notify sink %d: %w", i, err))
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("notify sink %d has unknown type %q", i, sc.Type))
		}
	}
	return sinks, nil
}
