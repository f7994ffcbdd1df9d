package services

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"careline/internal/llm"
)

// QueryCleaner rewrites noisy colloquial input into a concise retrieval
// phrase. The LLM path produces at most five words; when it fails, a
// rule-based extractor takes over so retrieval never blocks on the model.
type QueryCleaner struct {
	chat     ChatClient
	model    string
	timeout  time.Duration
	keywords *Keywords

	institutionPattern *regexp.Regexp
}

const cleanerSystemPrompt = `把使用者的口語訊息改寫成一個乾淨的檢索詞。
去掉語助詞、贅字、重複。只輸出檢索詞本身，最多 5 個詞，不要加任何說明。`

// NewQueryCleaner creates the cleaner stage.
func NewQueryCleaner(chat ChatClient, model string, timeout time.Duration, keywords *Keywords) *QueryCleaner {
	return &QueryCleaner{
		chat:               chat,
		model:              model,
		timeout:            timeout,
		keywords:           keywords,
		institutionPattern: regexp.MustCompile(`[\p{Han}A-Za-z0-9]{1,10}(?:醫院|診所|中心|協會|基金會|衛生局)`),
	}
}

// Clean returns the retrieval phrase for a raw message. It never fails:
// the rule-based extractor is the terminal fallback.
func (c *QueryCleaner) Clean(ctx context.Context, message string) string {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.chat.Complete(callCtx, llm.CompletionRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "system", Content: cleanerSystemPrompt},
			{Role: "user", Content: message},
		},
		MaxTokens:   32,
		Temperature: 0,
	})
	if err == nil {
		cleaned := capWords(strings.TrimSpace(content), 5)
		if cleaned != "" {
			return cleaned
		}
	} else {
		log.Printf("⚠️ [CLEANER] LLM rewrite failed, using rule-based extractor: %v", err)
	}

	return c.ruleBasedExtract(message)
}

// ruleBasedExtract scans for institution names, intent words and locality
// names and joins the first matches. With no matches it falls back to the
// first three whitespace-separated tokens.
func (c *QueryCleaner) ruleBasedExtract(message string) string {
	var parts []string

	if m := c.institutionPattern.FindString(message); m != "" {
		if name := stripFiller(m); name != "" {
			parts = append(parts, name)
		}
	}
	for _, word := range c.keywords.IntentWords {
		if len(parts) >= 3 {
			break
		}
		if strings.Contains(message, word) {
			parts = appendUnique(parts, word)
		}
	}
	for _, locality := range c.keywords.Localities {
		if len(parts) >= 3 {
			break
		}
		if strings.Contains(message, locality) {
			parts = appendUnique(parts, locality)
		}
	}

	if len(parts) > 0 {
		if len(parts) > 3 {
			parts = parts[:3]
		}
		return strings.Join(parts, " ")
	}

	tokens := strings.Fields(message)
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	return strings.Join(tokens, " ")
}

// fillerPrefixes are conversational particles that the loose institution
// match tends to drag along ("我想問一下那個凱旋醫院" -> "凱旋醫院").
// Longer fillers come first so they win over their own substrings.
var fillerPrefixes = []string{
	"我想問一下", "請問一下", "我想問", "問一下", "請問", "我想", "我要", "想問",
	"那個", "這個", "一下", "就是", "然後",
	"嗯", "喔", "欸", "啊", "我", "你", "的", "是", "找", "去", "在",
}

func stripFiller(name string) string {
	for {
		trimmed := name
		for _, filler := range fillerPrefixes {
			if strings.HasPrefix(trimmed, filler) {
				trimmed = strings.TrimPrefix(trimmed, filler)
				break
			}
		}
		if trimmed == name {
			return name
		}
		name = trimmed
	}
}

func capWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) > max {
		words = words[:max]
	}
	return strings.Join(words, " ")
}
