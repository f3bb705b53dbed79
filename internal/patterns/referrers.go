package patterns

import "strings"

// aiReferrers are lowercase domain/path fragments of AI platforms whose users
// click through to the site.
var aiReferrers = []string{
	"chat.openai.com",
	"chatgpt.com",
	"claude.ai",
	"anthropic.com",
	"perplexity.ai",
	"bard.google.com",
	"gemini.google.com",
	"copilot.microsoft.com",
	"bing.com/chat",
	"you.com",
	"phind.com",
	"character.ai",
	"poe.com",
	"huggingface.co/chat",
	"pi.ai",
	"meta.ai",
	"chat.mistral.ai",
	"chat.deepseek.com",
}

// AIReferrers returns the known AI platform referrer fragments.
func AIReferrers() []string {
	return append([]string(nil), aiReferrers...)
}

// MatchReferrer returns the first AI platform fragment contained in ref.
func MatchReferrer(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	lower := strings.ToLower(ref)
	for _, d := range aiReferrers {
		if strings.Contains(lower, d) {
			return d, true
		}
	}
	return "", false
}
