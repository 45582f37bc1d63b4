package safety

import (
	"fmt"
	"strings"
)

// SecretCategory is the closed set of pattern categories the detector can emit.
type SecretCategory string

const (
	SecretAPIKey          SecretCategory = "api_key"
	SecretAWSKey          SecretCategory = "aws_key"
	SecretPrivateKey      SecretCategory = "private_key"
	SecretJWT             SecretCategory = "jwt_token"
	SecretPasswordLiteral SecretCategory = "password_literal"
	SecretGeneric         SecretCategory = "generic_secret"
	SecretEmail           SecretCategory = "email"
	SecretPhone           SecretCategory = "phone"
	SecretSSN             SecretCategory = "ssn"
	SecretCreditCard      SecretCategory = "credit_card"
	SecretInternalIP      SecretCategory = "internal_ip"
)

// SecretCategories lists every SecretCategory in catalog order.
var SecretCategories = []SecretCategory{
	SecretAPIKey,
	SecretAWSKey,
	SecretPrivateKey,
	SecretJWT,
	SecretPasswordLiteral,
	SecretGeneric,
	SecretEmail,
	SecretPhone,
	SecretSSN,
	SecretCreditCard,
	SecretInternalIP,
}

// ParseSecretCategory maps a config or storage string onto the closed set.
func ParseSecretCategory(s string) (SecretCategory, error) {
	v := SecretCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range SecretCategories {
		if c == v {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown secret category %q", s)
}

// Tag is the masked placeholder used in excerpts, e.g. [API_KEY].
func (c SecretCategory) Tag() string {
	return "[" + strings.ToUpper(string(c)) + "]"
}

// Title is the human label used in explanations.
func (c SecretCategory) Title() string {
	switch c {
	case SecretAPIKey:
		return "API Key"
	case SecretAWSKey:
		return "AWS Key"
	case SecretJWT:
		return "JWT Token"
	case SecretSSN:
		return "SSN"
	case SecretInternalIP:
		return "Internal IP"
	}
	parts := strings.Split(string(c), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Severity grades a category for display and notification.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// DetectionMatch is one category hit. It never carries the matched text.
type DetectionMatch struct {
	Kind     SecretCategory `json:"type"`
	Severity Severity       `json:"severity"`
	Weight   int            `json:"weight"`
	Start    int            `json:"start"`
	End      int            `json:"end"`
}
