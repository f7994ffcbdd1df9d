package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"careline/internal/llm"
	"careline/internal/models"
)

// IntentAnalyzer performs the single structured LLM call that produces the
// per-turn analysis bundle. Malformed output or any call failure collapses
// to the safe default — the pipeline never stalls on analysis.
type IntentAnalyzer struct {
	chat    ChatClient
	model   string
	timeout time.Duration
}

const analyzerSystemPrompt = `你是毒品防制關懷服務的對話分析器。分析使用者的訊息，輸出 JSON。

規則：
- intent 只能是：greeting, chitchat, information_query, help_seeking, emotional_support, crisis, place_query, other
- risk_level 只能是：none, low, medium, high。high 只保留給明示或強烈暗示自傷意圖的訊息，包括比喻說法（例如「想永遠睡著」「今晚之後就不用擔心我了」）
- care_stage_needed 是 1 到 4 的整數：1 同理傾聽、2 溫和探問、3 具體建議、4 明確轉介
- need_rag 只有在使用者詢問特定機構、電話、地址、服務或明確要求協助資源時才是 true；單純抒發情緒一律是 false
- retrieval_hint 是最能代表事實需求的簡短檢索詞（可省略）
- place_query 只在詢問特定地點時填寫，type 只能是 address, phone, hours, general`

var analyzerSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"intent": map[string]interface{}{
			"type": "string",
			"enum": []string{"greeting", "chitchat", "information_query", "help_seeking", "emotional_support", "crisis", "place_query", "other"},
		},
		"emotional_state": map[string]interface{}{
			"type":        "string",
			"description": "short phrase, e.g. anxious, neutral, hopeless",
		},
		"risk_level": map[string]interface{}{
			"type": "string",
			"enum": []string{"none", "low", "medium", "high"},
		},
		"care_stage_needed": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": 4,
		},
		"need_rag": map[string]interface{}{
			"type": "boolean",
		},
		"retrieval_hint": map[string]interface{}{
			"type": []string{"string", "null"},
		},
		"place_query": map[string]interface{}{
			"type": []string{"object", "null"},
			"properties": map[string]interface{}{
				"type":       map[string]interface{}{"type": "string", "enum": []string{"address", "phone", "hours", "general"}},
				"name":       map[string]interface{}{"type": "string"},
				"confidence": map[string]interface{}{"type": "number"},
			},
			"required":             []string{"type", "name", "confidence"},
			"additionalProperties": false,
		},
	},
	// strict structured output: every property listed, optionals are nullable
	"required":             []string{"intent", "emotional_state", "risk_level", "care_stage_needed", "need_rag", "retrieval_hint", "place_query"},
	"additionalProperties": false,
}

// NewIntentAnalyzer creates the analyzer stage.
func NewIntentAnalyzer(chat ChatClient, model string, timeout time.Duration) *IntentAnalyzer {
	return &IntentAnalyzer{chat: chat, model: model, timeout: timeout}
}

// Analyze runs the analysis call for one turn. It always returns a valid
// bundle; failures are logged and mapped to the safe default.
func (a *IntentAnalyzer) Analyze(ctx context.Context, message, memoryCard string, currentStage int, substances []string) models.AnalysisBundle {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var sb strings.Builder
	if memoryCard != "" {
		sb.WriteString("對話背景：")
		sb.WriteString(memoryCard)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "目前關懷階段：%d\n", currentStage)
	if len(substances) > 0 {
		fmt.Fprintf(&sb, "規則掃描偵測到的物質：%s\n", strings.Join(substances, "、"))
	}
	sb.WriteString("使用者訊息：")
	sb.WriteString(message)

	content, err := a.chat.Complete(callCtx, llm.CompletionRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: analyzerSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		JSONSchema:  analyzerSchema,
		SchemaName:  "turn_analysis",
		Temperature: 0.1,
	})
	if err != nil {
		log.Printf("⚠️ [ANALYZER] Call failed, using safe default: %v", err)
		return models.DefaultAnalysis()
	}

	var bundle models.AnalysisBundle
	if err := json.Unmarshal([]byte(content), &bundle); err != nil {
		log.Printf("⚠️ [ANALYZER] Malformed JSON (%d bytes), using safe default: %v", len(content), err)
		return models.DefaultAnalysis()
	}

	bundle.Normalize()
	return bundle
}
