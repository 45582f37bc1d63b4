package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/redactai/redactai/internal/safety"
)

// CatalogError reports a malformed pattern definition. It is fatal at startup.
type CatalogError struct {
	Rule string
	Err  error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("pattern catalog: rule %q: %v", e.Rule, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// PatternSpec is an extra rule supplied through configuration.
type PatternSpec struct {
	Name     string
	Category string
	Pattern  string
}

// categoryInfo is the fixed weight and severity of one category.
type categoryInfo struct {
	weight   int
	severity safety.Severity
	// credential-like categories earn the high-severity bonus.
	credential bool
}

var categoryTable = map[safety.SecretCategory]categoryInfo{
	safety.SecretAPIKey:          {weight: 35, severity: safety.SeverityHigh, credential: true},
	safety.SecretAWSKey:          {weight: 40, severity: safety.SeverityHigh, credential: true},
	safety.SecretPrivateKey:      {weight: 45, severity: safety.SeverityHigh, credential: true},
	safety.SecretJWT:             {weight: 35, severity: safety.SeverityMedium, credential: true},
	safety.SecretPasswordLiteral: {weight: 35, severity: safety.SeverityHigh, credential: true},
	safety.SecretGeneric:         {weight: 30, severity: safety.SeverityMedium, credential: true},
	safety.SecretEmail:           {weight: 15, severity: safety.SeverityLow},
	safety.SecretPhone:           {weight: 15, severity: safety.SeverityLow},
	safety.SecretSSN:             {weight: 30, severity: safety.SeverityMedium},
	safety.SecretCreditCard:      {weight: 30, severity: safety.SeverityMedium},
	safety.SecretInternalIP:      {weight: 15, severity: safety.SeverityLow},
}

// Weight returns the fixed catalog weight of a category.
func Weight(c safety.SecretCategory) int {
	return categoryTable[c].weight
}

// IsHighSeverity reports whether a category earns the credential bonus.
func IsHighSeverity(c safety.SecretCategory) bool {
	return categoryTable[c].credential
}

type rule struct {
	name  string
	kind  safety.SecretCategory
	re    *regexp.Regexp
	check func(string) bool
}

type ruleDef struct {
	name    string
	kind    safety.SecretCategory
	pattern string
	check   func(string) bool
}

var builtinRules = []ruleDef{
	{name: "stripe_style_key", kind: safety.SecretAPIKey, pattern: `\b(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{8,}`},
	{name: "openai_style_key", kind: safety.SecretAPIKey, pattern: `\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`},
	{name: "github_token", kind: safety.SecretAPIKey, pattern: `\b(?:gh[pousr]_[A-Za-z0-9_]{8,}|github_pat_[A-Za-z0-9_]{20,})`},
	{name: "slack_token", kind: safety.SecretAPIKey, pattern: `\bxox[baprs]-[A-Za-z0-9-]{10,}`},
	{name: "google_api_key", kind: safety.SecretAPIKey, pattern: `\bAIza[0-9A-Za-z_\-]{35}`},
	{name: "api_key_assignment", kind: safety.SecretAPIKey, pattern: `(?i)\bapi[_\-\s]?key\b\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`},

	{name: "aws_access_key", kind: safety.SecretAWSKey, pattern: `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[0-9A-Z]{16}\b`},
	{name: "aws_secret_key", kind: safety.SecretAWSKey, pattern: `(?i)aws.{0,20}?['"][0-9a-zA-Z/+]{40}['"]`},

	{name: "pem_private_key", kind: safety.SecretPrivateKey, pattern: `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`},

	{name: "jwt", kind: safety.SecretJWT, pattern: `\beyJ[A-Za-z0-9_\-]{8,}\.eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-+/=]*`},

	{name: "password_assignment", kind: safety.SecretPasswordLiteral, pattern: `(?i)\b(?:password|passwd|passphrase|pwd|pass)\b\s*(?:[:=]|\bis\b)\s*['"]?[^\s'"]{3,}`},

	{name: "url_credentials", kind: safety.SecretGeneric, pattern: `(?i)\b[a-z][a-z0-9+.\-]{1,15}://[^\s:/@]+:[^\s:/@]+@`},
	{name: "secret_assignment", kind: safety.SecretGeneric, pattern: `(?i)\b(?:client_secret|secret|access_token|auth_token|token)\b\s*[:=]\s*['"]?[A-Za-z0-9_\-./+=]{8,}`},

	{name: "email", kind: safety.SecretEmail, pattern: `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`},
	{name: "phone", kind: safety.SecretPhone, pattern: `(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{3}\)\s?|\b\d{3}[\s.\-])\d{3}[\s.\-]\d{4}\b`},
	{name: "ssn", kind: safety.SecretSSN, pattern: `\b\d{3}-\d{2}-\d{4}\b`},
	{name: "credit_card", kind: safety.SecretCreditCard, pattern: `\b(?:\d[ \-]?){12,18}\d\b`, check: luhnValid},
	{name: "rfc1918_ip", kind: safety.SecretInternalIP, pattern: `\b(?:10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3})\b`},
}

func compileRules(extra []PatternSpec) ([]rule, error) {
	out := make([]rule, 0, len(builtinRules)+len(extra))
	for _, def := range builtinRules {
		re, err := regexp.Compile(def.pattern)
		if err != nil {
			return nil, &CatalogError{Rule: def.name, Err: err}
		}
		out = append(out, rule{name: def.name, kind: def.kind, re: re, check: def.check})
	}
	for i, spec := range extra {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			name = fmt.Sprintf("extra_%d", i)
		}
		kind, err := safety.ParseSecretCategory(spec.Category)
		if err != nil {
			return nil, &CatalogError{Rule: name, Err: err}
		}
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, &CatalogError{Rule: name, Err: fmt.Errorf("pattern is empty")}
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, &CatalogError{Rule: name, Err: err}
		}
		out = append(out, rule{name: name, kind: kind, re: re})
	}
	return out, nil
}

func luhnValid(s string) bool {
	sum := 0
	n := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && n <= 19 && sum%10 == 0
}
