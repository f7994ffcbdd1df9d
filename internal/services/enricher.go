package services

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"careline/internal/models"
)

// MemoryEnricher turns a raw message window into the structured context
// bundle consumed by the analyzer and drafter. It is deterministic text
// analysis only — no LLM calls — so it stays fast and stable.
type MemoryEnricher struct {
	keywords *Keywords

	namePattern        *regexp.Regexp
	agePattern         *regexp.Regexp
	homePattern        *regexp.Regexp
	institutionPattern *regexp.Regexp
}

// memoryCardLimit bounds the card embedded in the drafter prompt.
const memoryCardLimit = 500

// Assistant-turn tags for the emotional-state trajectory
const (
	assistantToneSupportive  = "supportive"
	assistantToneInformative = "informative"
	assistantToneEscalating  = "escalating"
)

var (
	empathyPhrases  = []string{"辛苦了", "我懂", "陪你", "別擔心", "不孤單", "聽起來"}
	resourcePhrases = []string{"電話", "地址", "專線", "門診", "機構", "資源"}
	referralPhrases = []string{"1995", "建議你聯絡", "就醫", "轉介", "撥打"}

	improvementPhrases = []string{"謝謝", "感謝", "好多了", "放心", "安心", "舒服多了", "有幫助", "輕鬆多了"}
)

// NewMemoryEnricher creates an enricher over the loaded dictionaries.
func NewMemoryEnricher(keywords *Keywords) *MemoryEnricher {
	return &MemoryEnricher{
		keywords:           keywords,
		namePattern:        regexp.MustCompile(`(?:我叫|叫我|我的名字是)([\p{Han}A-Za-z0-9]{1,10})`),
		agePattern:         regexp.MustCompile(`(?:今年)?(\d{1,3})\s*歲`),
		homePattern:        regexp.MustCompile(`我住(?:在)?([\p{Han}]{1,10})`),
		institutionPattern: regexp.MustCompile(`([\p{Han}A-Za-z0-9]{1,10}(?:醫院|診所|中心|協會|基金會|衛生局))`),
	}
}

// Enrich derives the per-turn context from the memory window and the
// current message. An empty window yields an empty but valid context.
func (e *MemoryEnricher) Enrich(window []models.Message, currentMessage string) models.EnrichedContext {
	ctx := models.EnrichedContext{
		Improvement: e.detectImprovement(currentMessage),
	}

	// Scan user turns (window plus the current message) for facts
	userTexts := []string{currentMessage}
	for _, msg := range window {
		if msg.Role == models.RoleUser {
			userTexts = append(userTexts, msg.Content)
		}
	}
	for _, text := range userTexts {
		e.collectUserMentions(text, &ctx.Facts)
		e.collectTopics(text, &ctx.Facts)
		e.collectInstitutions(text, &ctx.Facts)
	}

	// Tag the assistant trajectory
	for _, msg := range window {
		if msg.Role == models.RoleAssistant {
			ctx.Facts.EmotionalStates = append(ctx.Facts.EmotionalStates, classifyAssistantTone(msg.Content))
		}
	}

	ctx.Flow = e.buildFlow(window)
	ctx.Markers = e.buildMarkers(ctx.Facts)
	ctx.MemoryCard = e.buildMemoryCard(ctx)

	return ctx
}

// DetectImprovement reports whether the current message signals relief or
// gratitude. The care tracker uses this as its improvement indicator.
func (e *MemoryEnricher) DetectImprovement(message string) bool {
	return e.detectImprovement(message)
}

func (e *MemoryEnricher) detectImprovement(message string) bool {
	for _, phrase := range improvementPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

func (e *MemoryEnricher) collectUserMentions(text string, facts *models.KeyFacts) {
	if m := e.namePattern.FindStringSubmatch(text); m != nil {
		facts.UserMentions = appendUnique(facts.UserMentions, "名字："+m[1])
	}
	if m := e.agePattern.FindStringSubmatch(text); m != nil {
		facts.UserMentions = appendUnique(facts.UserMentions, "年齡："+m[1]+"歲")
	}
	if m := e.homePattern.FindStringSubmatch(text); m != nil {
		facts.UserMentions = appendUnique(facts.UserMentions, "住在："+m[1])
	}
}

func (e *MemoryEnricher) collectTopics(text string, facts *models.KeyFacts) {
	for topic, words := range e.keywords.Topics {
		for _, word := range words {
			if strings.Contains(text, word) {
				facts.Topics = appendUnique(facts.Topics, topic)
				break
			}
		}
	}
}

func (e *MemoryEnricher) collectInstitutions(text string, facts *models.KeyFacts) {
	for _, m := range e.institutionPattern.FindAllStringSubmatch(text, -1) {
		if name := stripFiller(m[1]); name != "" {
			facts.MentionedInstitutions = appendUnique(facts.MentionedInstitutions, name)
		}
	}
}

func classifyAssistantTone(content string) string {
	for _, phrase := range referralPhrases {
		if strings.Contains(content, phrase) {
			return assistantToneEscalating
		}
	}
	for _, phrase := range resourcePhrases {
		if strings.Contains(content, phrase) {
			return assistantToneInformative
		}
	}
	for _, phrase := range empathyPhrases {
		if strings.Contains(content, phrase) {
			return assistantToneSupportive
		}
	}
	return assistantToneSupportive
}

// buildFlow pairs user messages with the following assistant action.
func (e *MemoryEnricher) buildFlow(window []models.Message) []models.FlowTurn {
	var flow []models.FlowTurn
	var pendingUser string

	for _, msg := range window {
		switch msg.Role {
		case models.RoleUser:
			pendingUser = summarize(msg.Content, 20)
		case models.RoleAssistant:
			if pendingUser == "" {
				continue
			}
			flow = append(flow, models.FlowTurn{
				UserIntentSummary:      pendingUser,
				AssistantActionSummary: classifyAssistantTone(msg.Content),
			})
			pendingUser = ""
		}
	}
	return flow
}

func (e *MemoryEnricher) buildMarkers(facts models.KeyFacts) []string {
	var markers []string
	for _, mention := range facts.UserMentions {
		markers = append(markers, "使用者"+mention)
	}
	for _, topic := range facts.Topics {
		markers = append(markers, "先前話題："+topic)
	}
	for _, inst := range facts.MentionedInstitutions {
		markers = append(markers, "提過的機構："+inst)
	}
	return markers
}

// buildMemoryCard renders a compact prompt section, capped at 500 chars.
func (e *MemoryEnricher) buildMemoryCard(ctx models.EnrichedContext) string {
	var sb strings.Builder

	if len(ctx.Markers) > 0 {
		sb.WriteString("已知背景：")
		sb.WriteString(strings.Join(ctx.Markers, "；"))
		sb.WriteString("。")
	}
	if len(ctx.Flow) > 0 {
		sb.WriteString("先前對話：")
		for i, turn := range ctx.Flow {
			if i > 0 {
				sb.WriteString("；")
			}
			sb.WriteString(fmt.Sprintf("使用者說「%s」，助理回應屬於%s", turn.UserIntentSummary, turn.AssistantActionSummary))
		}
		sb.WriteString("。")
	}

	card := sb.String()
	if utf8.RuneCountInString(card) > memoryCardLimit {
		runes := []rune(card)
		card = string(runes[:memoryCardLimit-1]) + "…"
	}
	return card
}

func summarize(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
