package digest

import "strings"

// OtherTopic is used when no keyword matches.
const OtherTopic = "기타"

type Topic struct {
	Name     string
	Keywords []string
}

// DefaultTopics are checked in order; the first match wins.
var DefaultTopics = []Topic{
	{Name: "Moltbot/ClaudeBot", Keywords: []string{"moltbot", "몰트봇", "clawdbot", "클로드봇", "claude bot", "claudebot"}},
	{Name: "AI 에이전트", Keywords: []string{"agent", "에이전트", "agentic", "do anything", "autonomous"}},
	{Name: "LLM/GPT", Keywords: []string{"llm", "gpt", "claude", "gemini", "chatgpt", "language model"}},
	{Name: "노코드/자동화", Keywords: []string{"노코드", "no code", "nocode", "자동화", "automation"}},
	{Name: "헬스케어", Keywords: []string{"healthcare", "헬스케어", "의료", "medical", "health"}},
}

// Classify returns the first topic with a keyword contained in text,
// ignoring case.
func Classify(text string, topics []Topic) string {
	lower := strings.ToLower(text)
	for _, t := range topics {
		for _, k := range t.Keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				return t.Name
			}
		}
	}
	return OtherTopic
}
