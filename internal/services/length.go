package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"careline/internal/models"
)

// Reply content classes, each with a fixed character budget.
const (
	ClassGreeting    = "greeting"
	ClassGeneral     = "general"
	ClassEmotion     = "emotion"
	ClassCrisis      = "crisis"
	ClassContact     = "contact"
	ClassService     = "service"
	ClassInstitution = "institution"
	ClassComplex     = "complex"
)

var classBudgets = map[string]int{
	ClassGreeting:    30,
	ClassGeneral:     40,
	ClassEmotion:     45,
	ClassCrisis:      50,
	ClassContact:     60,
	ClassService:     80,
	ClassInstitution: 100,
	ClassComplex:     120,
}

var (
	phonePattern = regexp.MustCompile(`0800\d{6}|\d{2,4}-?\d{6,8}`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

	crisisPhrases      = []string{"不想活", "自殺", "想死", "活不下去", "結束生命", "永遠睡"}
	greetingWords      = []string{"你好", "妳好", "嗨", "哈囉", "早安", "午安", "晚安", "hi", "hello"}
	emotionWords       = []string{"難過", "傷心", "焦慮", "害怕", "壓力", "心情", "煩", "累", "孤單", "痛苦"}
	serviceVerbs       = []string{"申請", "提供", "服務", "協助", "治療", "戒癮", "轉介", "補助", "諮詢"}
	institutionSuffixe = regexp.MustCompile(`[\p{Han}A-Za-z0-9]{1,10}(醫院|診所|中心|協會|基金會|衛生局)`)
)

// LengthManager classifies replies and enforces per-class character budgets
// with a truncator that never drops phone digits or addresses. Pure — no
// LLM calls.
type LengthManager struct{}

// NewLengthManager creates the length policy.
func NewLengthManager() *LengthManager {
	return &LengthManager{}
}

// Budget returns the character budget for a class.
func (m *LengthManager) Budget(class string) int {
	if b, ok := classBudgets[class]; ok {
		return b
	}
	return classBudgets[ClassGeneral]
}

// Classify maps a reply to a content class, honoring the analyzer's risk
// level and intent. The priority order is fixed so that a truncated reply
// classifies the same as its source.
func (m *LengthManager) Classify(text string, analysis models.AnalysisBundle) string {
	if analysis.RiskLevel == models.RiskHigh || analysis.Intent == models.IntentCrisis || containsAny(text, crisisPhrases) {
		return ClassCrisis
	}
	if phonePattern.MatchString(text) || emailPattern.MatchString(text) || strings.Contains(text, "地址") {
		return ClassContact
	}
	if institutionSuffixe.MatchString(text) {
		return ClassInstitution
	}
	if containsAny(text, serviceVerbs) {
		return ClassService
	}
	if analysis.Intent == models.IntentGreeting || (containsAny(strings.ToLower(text), greetingWords) && utf8.RuneCountInString(text) <= 20) {
		return ClassGreeting
	}
	if containsAny(text, emotionWords) {
		return ClassEmotion
	}
	if utf8.RuneCountInString(text) > 80 {
		return ClassComplex
	}
	return ClassGeneral
}

// Format classifies the text and enforces its budget, returning the final
// reply and the class it was billed against. Format is idempotent:
// Format(Format(x)) == Format(x).
func (m *LengthManager) Format(text string, analysis models.AnalysisBundle) (string, string) {
	text = strings.TrimSpace(text)

	// Truncation can move the text into a smaller class (for example a
	// complex reply that shrinks to general length), so run to a fixed
	// point. Budgets only shrink, so this terminates quickly.
	class := m.Classify(text, analysis)
	for i := 0; i < len(classBudgets); i++ {
		budget := m.Budget(class)
		if utf8.RuneCountInString(text) <= budget {
			next := m.Classify(text, analysis)
			if next == class {
				return text, class
			}
			class = next
			continue
		}
		text = m.truncate(text, budget)
		class = m.Classify(text, analysis)
	}
	return text, class
}

// truncate shortens text to the budget while preserving phone numbers and
// e-mail addresses.
func (m *LengthManager) truncate(text string, budget int) string {
	phones := dedupeStrings(phonePattern.FindAllString(text, -1))
	emails := dedupeStrings(emailPattern.FindAllString(text, -1))

	if len(phones) > 0 || len(emails) > 0 {
		if rebuilt, ok := m.rebuildWithFacts(text, budget, phones, emails); ok {
			return rebuilt
		}
	}

	runes := []rune(text)
	head := string(runes[:budget])

	// Prefer a clean cut at the last full stop inside the budget
	if idx := strings.LastIndex(head, "。"); idx > 0 {
		return head[:idx+len("。")]
	}
	// Then the last comma, closing the sentence ourselves
	if idx := lastIndexAny(head, "，,"); idx >= 0 {
		return head[:idx] + "。"
	}
	// Hard cut
	return string(runes[:budget-3]) + "..."
}

// rebuildWithFacts keeps the leading sentence and appends the extracted
// contact facts so digits survive the cut.
func (m *LengthManager) rebuildWithFacts(text string, budget int, phones, emails []string) (string, bool) {
	var facts strings.Builder
	for i, p := range phones {
		if i == 0 {
			facts.WriteString("電話：")
		} else {
			facts.WriteString("、")
		}
		facts.WriteString(p)
	}
	for i, e := range emails {
		if i == 0 {
			if facts.Len() > 0 {
				facts.WriteString(" ")
			}
			facts.WriteString("信箱：")
		} else {
			facts.WriteString("、")
		}
		facts.WriteString(e)
	}
	factsStr := facts.String()
	factsLen := utf8.RuneCountInString(factsStr)
	if factsLen >= budget {
		return "", false
	}

	sentence := firstSentence(text)
	// Strip any contact facts already inside the prefix to avoid repeating them
	sentence = phonePattern.ReplaceAllString(sentence, "")
	sentence = emailPattern.ReplaceAllString(sentence, "")
	sentence = strings.TrimRight(sentence, "：: ，,")

	maxPrefix := budget - factsLen - 1 // room for the separator
	if maxPrefix > 20 {
		maxPrefix = budget - 20
	}
	prefixRunes := []rune(sentence)
	if len(prefixRunes) > maxPrefix {
		if maxPrefix <= 0 {
			return factsStr, true
		}
		prefixRunes = prefixRunes[:maxPrefix]
	}
	prefix := strings.TrimRight(string(prefixRunes), "。")

	result := prefix + "。" + factsStr
	if prefix == "" {
		result = factsStr
	}
	if utf8.RuneCountInString(result) > budget {
		return factsStr, true
	}
	return result, true
}

func firstSentence(text string) string {
	if idx := strings.Index(text, "。"); idx >= 0 {
		return text[:idx]
	}
	return text
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func lastIndexAny(s, chars string) int {
	best := -1
	for _, c := range chars {
		if idx := strings.LastIndex(s, string(c)); idx > best {
			best = idx
		}
	}
	return best
}

func dedupeStrings(in []string) []string {
	var out []string
	for _, v := range in {
		out = appendUnique(out, v)
	}
	return out
}
