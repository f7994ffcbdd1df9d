package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"careline/internal/llm"
	"careline/internal/models"
)

// ResponseDrafter composes the full, unbounded draft reply grounded in the
// analysis and retrieved snippets. Length shaping happens downstream.
type ResponseDrafter struct {
	chat           ChatClient
	model          string
	timeout        time.Duration
	primaryHotline string
}

const drafterSystemPrompt = `你是毒品防制關懷服務的回覆撰寫者，用溫暖自然的台灣口語中文回覆。

原則：
- 先回應使用者的主要需求
- 有提供資料片段時，電話與地址必須逐字引用，一個數字都不能改
- 沒有資料片段時，不可以編造電話、地址或機構細節，改為建議洽詢官方窗口
- 依照指定的關懷階段調整語氣與做法`

// NewResponseDrafter creates the drafter stage.
func NewResponseDrafter(chat ChatClient, model string, timeout time.Duration, primaryHotline string) *ResponseDrafter {
	return &ResponseDrafter{chat: chat, model: model, timeout: timeout, primaryHotline: primaryHotline}
}

// DraftInput bundles everything the drafter conditions on.
type DraftInput struct {
	Message    string
	MemoryCard string
	Analysis   models.AnalysisBundle
	Snippets   []models.SearchResult
	CareStage  int
	Nickname   string // from the case record, may be empty
}

// Draft produces the unbounded Mandarin draft. The error surfaces to the
// orchestrator, which substitutes the stage fallback.
func (d *ResponseDrafter) Draft(ctx context.Context, in DraftInput) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var sb strings.Builder
	if in.Nickname != "" {
		fmt.Fprintf(&sb, "使用者的暱稱：%s\n", in.Nickname)
	}
	if in.MemoryCard != "" {
		fmt.Fprintf(&sb, "記憶卡：%s\n", in.MemoryCard)
	}
	fmt.Fprintf(&sb, "分析：意圖=%s，情緒=%s，風險=%s\n", in.Analysis.Intent, in.Analysis.EmotionalState, in.Analysis.RiskLevel)
	fmt.Fprintf(&sb, "關懷階段 %d：%s\n", in.CareStage, StageIntent(in.CareStage))

	if in.Analysis.RiskLevel == models.RiskHigh {
		fmt.Fprintf(&sb, "這一則屬於高風險：必須先表達同理，再提供任何資訊，且回覆中一定要包含安心專線 %s\n", d.primaryHotline)
	}

	if len(in.Snippets) > 0 {
		sb.WriteString("可引用的資料片段：\n")
		for i, snippet := range in.Snippets {
			fmt.Fprintf(&sb, "%d. 【%s】%s\n", i+1, snippet.DocumentTitle, snippet.ChunkText)
		}
	} else if in.Analysis.NeedRAG {
		sb.WriteString("沒有找到相關資料：不要給出具體機構細節，建議洽詢官方窗口\n")
	}

	sb.WriteString("使用者訊息：")
	sb.WriteString(in.Message)

	reply, err := d.chat.Complete(callCtx, llm.CompletionRequest{
		Model: d.model,
		Messages: []llm.Message{
			{Role: "system", Content: drafterSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("draft failed: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("draft returned empty text")
	}
	return reply, nil
}
