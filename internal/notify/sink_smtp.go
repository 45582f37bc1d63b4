package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig describes the mail relay used for incident emails.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To is used when the incident carries no recipient of its own.
	To      []string
	Timeout time.Duration
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS bool
}

// SMTPSink emails incidents, preferring the user's notification address.
type SMTPSink struct {
	cfg SMTPConfig
}

func NewSMTPSink(cfg SMTPConfig) (*SMTPSink, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is empty")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is empty")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSink{cfg: cfg}, nil
}

func (s *SMTPSink) Name() string { return "smtp:" + s.cfg.Host }

func (s *SMTPSink) recipients(inc *Incident) []string {
	if r := strings.TrimSpace(inc.Recipient); r != "" {
		return []string{r}
	}
	return s.cfg.To
}

func (s *SMTPSink) Deliver(ctx context.Context, inc *Incident) error {
	if inc == nil {
		return nil
	}
	to := s.recipients(inc)
	if len(to) == 0 {
		return errors.New("no recipient for incident email")
	}
	msg := buildMessage(s.cfg.From, to, inc)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else if s.cfg.RequireTLS {
		return errors.New("smtp server does not support STARTTLS")
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSink) Close(context.Context) error { return nil }

func buildMessage(from string, to []string, inc *Incident) []byte {
	var b bytes.Buffer
	subject := fmt.Sprintf("[redactai] %s scan sent to %s", inc.Decision, inc.Platform)
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&b, "X-Incident-ID: %s\r\n", inc.IncidentID)
	b.WriteString("\r\n")

	who := inc.UserID
	if inc.UserEmail != "" {
		who = inc.UserEmail
	}
	fmt.Fprintf(&b, "%s proceeded past a %s decision.\r\n\r\n", who, inc.Decision)
	fmt.Fprintf(&b, "Platform:    %s\r\n", inc.Platform)
	fmt.Fprintf(&b, "Time:        %s\r\n", inc.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Risk score:  %d/100\r\n", inc.OverallScore)
	if inc.AIAvailable {
		fmt.Fprintf(&b, "Category:    %s (%.0f%%)\r\n", inc.AICategory, inc.AIConfidence*100)
	} else {
		b.WriteString("Category:    unavailable (pattern detection only)\r\n")
	}
	if len(inc.DetectionTags) > 0 {
		fmt.Fprintf(&b, "Detected:    %s\r\n", strings.Join(inc.DetectionTags, ", "))
	}
	fmt.Fprintf(&b, "Excerpt:     %s\r\n", inc.Excerpt)
	fmt.Fprintf(&b, "Record:      %s\r\n", inc.RecordID)
	return b.Bytes()
}
