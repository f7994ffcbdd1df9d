package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"careline/internal/llm"
	"careline/internal/models"
)

// PersonaShaper rewrites the draft into the program's social-worker voice.
// It never gets the last word on digits: if the rewrite loses any phone
// number or email present in the draft, the draft wins.
type PersonaShaper struct {
	chat    ChatClient
	model   string
	timeout time.Duration
	enabled bool
}

const shaperSystemPrompt = `你是口吻修飾員。把草稿改寫成社工姊姊的語氣：親切、不說教、台灣口語。

規則：
- 電話、地址、信箱等數字與細節必須原封不動保留
- 最多兩句話，最多一個問句
- 只輸出改寫後的文字，不要任何說明`

const shaperNoBulletsRule = `
- 不要用條列式清單，改寫成連貫的句子`

// ShapeInput carries the draft and the turn facts the rewrite adapts to.
type ShapeInput struct {
	Draft        string
	CareStage    int
	RiskLevel    string
	Intent       string
	SnippetCount int
}

// bulletMarker matches a leading list marker on a line.
var bulletMarker = regexp.MustCompile(`^\s*(?:[-*•‧]|\d+[.、)])\s*`)

// NewPersonaShaper creates the shaper stage. When enabled is false Shape
// returns the draft unchanged.
func NewPersonaShaper(chat ChatClient, model string, timeout time.Duration, enabled bool) *PersonaShaper {
	return &PersonaShaper{chat: chat, model: model, timeout: timeout, enabled: enabled}
}

// Enabled reports whether the shaping stage runs.
func (p *PersonaShaper) Enabled() bool { return p.enabled }

// Shape renders the draft in persona. Any failure falls back to the draft
// itself so a shaping outage never drops a turn. Bullet lists are only
// allowed for information queries backed by retrieved snippets; everything
// else is flattened into running text.
func (p *PersonaShaper) Shape(ctx context.Context, in ShapeInput) string {
	allowBullets := in.Intent == models.IntentInformationQuery && in.SnippetCount > 0

	draft := in.Draft
	if !p.enabled || strings.TrimSpace(draft) == "" {
		if !allowBullets {
			return flattenBullets(draft)
		}
		return draft
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	system := shaperSystemPrompt
	if !allowBullets {
		system += shaperNoBulletsRule
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "關懷階段 %d：%s\n", in.CareStage, StageIntent(in.CareStage))
	fmt.Fprintf(&sb, "風險等級：%s\n", in.RiskLevel)
	fmt.Fprintf(&sb, "草稿：\n%s", draft)

	shaped, err := p.chat.Complete(callCtx, llm.CompletionRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.5,
	})
	if err != nil {
		log.Printf("⚠️ [SHAPER] rewrite failed, keeping draft: %v", err)
		shaped = draft
	} else if shaped = strings.TrimSpace(shaped); shaped == "" {
		shaped = draft
	} else if !preservesFacts(draft, shaped) {
		log.Printf("⚠️ [SHAPER] rewrite dropped contact details, keeping draft")
		shaped = draft
	}

	if !allowBullets {
		shaped = flattenBullets(shaped)
	}
	return shaped
}

// preservesFacts checks that every phone number and email in the original
// still appears verbatim in the rewrite.
func preservesFacts(original, rewritten string) bool {
	for _, phone := range phonePattern.FindAllString(original, -1) {
		if !strings.Contains(rewritten, phone) {
			return false
		}
	}
	for _, email := range emailPattern.FindAllString(original, -1) {
		if !strings.Contains(rewritten, email) {
			return false
		}
	}
	return true
}

// flattenBullets joins list items into running text. Text without list
// markers passes through untouched.
func flattenBullets(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) == 1 && !bulletMarker.MatchString(text) {
		return text
	}

	changed := false
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := bulletMarker.ReplaceAllString(line, "")
		if stripped != line {
			changed = true
		}
		stripped = strings.TrimSpace(stripped)
		if stripped != "" {
			parts = append(parts, stripped)
		}
	}
	if !changed {
		return text
	}

	var b strings.Builder
	for i, part := range parts {
		if i > 0 && !strings.HasSuffix(parts[i-1], "。") {
			b.WriteString("；")
		}
		b.WriteString(part)
	}
	return b.String()
}
