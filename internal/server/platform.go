package server

import "strings"

const (
	unknownPlatform  = "Unknown Platform"
	maxPlatformRunes = 64
)

var platformHosts = []struct {
	needle string
	name   string
}{
	{"chatgpt.com", "ChatGPT"},
	{"chat.openai.com", "ChatGPT"},
	{"claude.ai", "Claude.ai"},
	{"deepseek.com", "DeepSeek"},
	{"gemini.google.com", "Gemini"},
}

// detectPlatform names the AI service a request came from, preferring the
// caller's explicit value over the Referer header.
func detectPlatform(explicit, referer string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		if r := []rune(p); len(r) > maxPlatformRunes {
			p = string(r[:maxPlatformRunes])
		}
		return p
	}
	ref := strings.ToLower(referer)
	for _, h := range platformHosts {
		if strings.Contains(ref, h.needle) {
			return h.name
		}
	}
	return unknownPlatform
}
