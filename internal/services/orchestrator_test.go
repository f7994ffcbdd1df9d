package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"careline/internal/database"
	"careline/internal/llm"
	"careline/internal/models"
	"careline/internal/store"
)

const testHotline = "1995"

// scenarioRespond scripts the LLM for end-to-end pipeline tests. The
// cleaner model is always down so the rule-based extractor path runs.
func scenarioRespond(req llm.CompletionRequest) (string, error) {
	system := ""
	if len(req.Messages) > 0 {
		system = req.Messages[0].Content
	}
	user := userContent(req)

	if isAnalyzerCall(req) {
		switch {
		case strings.Contains(user, "不想活"):
			return analysisJSON("crisis", "high", 4, false, ""), nil
		case strings.Contains(user, "凱旋醫院"):
			return analysisJSON("place_query", "none", 1, true, ""), nil
		case strings.Contains(user, "幾歲"), strings.Contains(user, "我叫阿明"):
			return analysisJSON("chitchat", "none", 1, false, ""), nil
		case strings.Contains(user, "心情不好"), strings.Contains(user, "難過"), strings.Contains(user, "幫不了"):
			return analysisJSON("emotional_support", "low", 1, false, ""), nil
		case strings.Contains(user, "你好"):
			return analysisJSON("greeting", "none", 1, false, ""), nil
		default:
			return analysisJSON("chitchat", "none", 1, false, ""), nil
		}
	}

	if strings.Contains(system, "檢索詞") {
		return "", fmt.Errorf("cleaner model unavailable")
	}
	if strings.Contains(system, "口吻修飾員") {
		// Identity shaping keeps the draft verbatim
		return shaperDraft(user), nil
	}

	// Drafter
	switch {
	case strings.Contains(user, "07-7513171"):
		return "凱旋醫院的電話是07-7513171。", nil
	case strings.Contains(user, "幾歲") && strings.Contains(user, "35"):
		return "你說過你今年35歲呀。", nil
	case strings.Contains(user, "不想活"):
		return "聽到你這樣說，我真的很擔心你，我在這裡陪你。", nil
	case strings.Contains(user, "你好"):
		return "你好呀，很高興認識你。", nil
	default:
		return "我在，慢慢說沒關係。", nil
	}
}

func newTestOrchestrator(t *testing.T, chat *fakeChat) (*Orchestrator, *store.ConversationStore, *store.KnowledgeStore) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	convs := store.NewConversationStore(db)
	knowledge := store.NewKnowledgeStore(db, 4)
	keywords := DefaultKeywords()
	embedder := &fakeEmbedder{Vector: []float32{1, 0, 0, 0}}

	orch := NewOrchestrator(
		OrchestratorConfig{
			Strategy:        StrategyFull,
			MaxMemoryTurns:  10,
			DefaultLanguage: "zh-TW",
			PrimaryHotline:  testHotline,
		},
		convs,
		knowledge,
		NewRiskScanner(keywords),
		NewMemoryEnricher(keywords),
		NewIntentAnalyzer(chat, "analysis-model", time.Second),
		NewQueryCleaner(chat, "analysis-model", time.Second, keywords),
		NewRetriever(embedder, knowledge, time.Second),
		NewResponseDrafter(chat, "draft-model", time.Second, testHotline),
		NewPersonaShaper(chat, "draft-model", time.Second, true),
		NewLengthManager(),
		NewCareTracker(2),
		NewQualityLogger(""),
		nil,
		nil,
	)
	return orch, convs, knowledge
}

func seedHospitalDocument(t *testing.T, knowledge *store.KnowledgeStore) {
	t.Helper()
	doc := &models.Document{
		Title:    "凱旋醫院",
		Content:  "高雄市立凱旋醫院成癮防治服務",
		Source:   "衛生局",
		Category: "institution",
		Language: "zh-TW",
	}
	chunks := []models.Chunk{{
		ChunkIndex: 0,
		Content:    "凱旋醫院成癮治療門診，電話：07-7513171，地址：高雄市苓雅區凱旋二路130號",
		Vector:     []float32{1, 0, 0, 0},
	}}
	if err := knowledge.UpsertDocument(context.Background(), doc, chunks); err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
}

func TestTurnColdGreeting(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, convs, _ := newTestOrchestrator(t, chat)

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{UserID: "user-1", Message: "你好"})
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	if resp.ConversationID == "" {
		t.Error("expected a new conversation id")
	}
	if resp.Reply == "" {
		t.Fatal("reply is empty")
	}
	if n := utf8.RuneCountInString(resp.Reply); n > 30 {
		t.Errorf("greeting reply has %d runes, budget is 30", n)
	}

	got, err := convs.GetWithMessages(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("GetWithMessages() error: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", len(got.Messages))
	}
	if got.Messages[1].Metadata[models.MetaRiskLevel] != models.RiskNone {
		t.Errorf("risk metadata = %q, want none", got.Messages[1].Metadata[models.MetaRiskLevel])
	}
}

func TestTurnContactLookup(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, _, knowledge := newTestOrchestrator(t, chat)
	seedHospitalDocument(t, knowledge)

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{UserID: "user-1", Message: "凱旋醫院的電話"})
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	if !strings.Contains(resp.Reply, "07-7513171") {
		t.Errorf("reply should quote the phone number verbatim, got %q", resp.Reply)
	}
	if n := utf8.RuneCountInString(resp.Reply); n > 60 {
		t.Errorf("contact reply has %d runes, budget is 60", n)
	}
}

func TestTurnHighRisk(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, convs, _ := newTestOrchestrator(t, chat)

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{UserID: "user-1", Message: "不想活了"})
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	if !strings.Contains(resp.Reply, testHotline) {
		t.Errorf("high-risk reply must carry the hotline, got %q", resp.Reply)
	}
	if n := utf8.RuneCountInString(resp.Reply); n > 50 {
		t.Errorf("crisis reply has %d runes, budget is 50", n)
	}

	got, _ := convs.GetWithMessages(context.Background(), resp.ConversationID)
	meta := got.Messages[1].Metadata
	if meta[models.MetaCareStage] != "4" {
		t.Errorf("care stage = %q, want 4", meta[models.MetaCareStage])
	}
	if meta[models.MetaRiskLevel] != models.RiskHigh {
		t.Errorf("risk metadata = %q, want high", meta[models.MetaRiskLevel])
	}
}

func TestEnsureHotlinePreservesSnippetPhone(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, _, _ := newTestOrchestrator(t, chat)

	reply := "聽到你這樣說我很擔心你，我會一直在這裡陪你，需要時可以聯絡凱旋醫院，電話07-7513171"
	got := orch.ensureHotline(reply, ClassCrisis)

	if !strings.Contains(got, "07-7513171") {
		t.Errorf("hotline append destroyed the clinic phone: %q", got)
	}
	if !strings.Contains(got, testHotline) {
		t.Errorf("hotline missing from %q", got)
	}
	if n := utf8.RuneCountInString(got); n > orch.length.Budget(ClassCrisis) {
		t.Errorf("result has %d runes, crisis budget is %d", n, orch.length.Budget(ClassCrisis))
	}
}

// windowFailStore breaks the memory-window query while persistence and
// conversation lookup keep working.
type windowFailStore struct {
	*store.ConversationStore
}

func (s *windowFailStore) RecentWindow(context.Context, string, int) ([]models.Message, error) {
	return nil, fmt.Errorf("window query failed")
}

func TestTurnSurvivesWindowLoadFailure(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, convs, _ := newTestOrchestrator(t, chat)
	orch.convs = &windowFailStore{convs}

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{UserID: "user-1", Message: "你好"})
	if err != nil {
		t.Fatalf("a failed window load must not fail the turn: %v", err)
	}
	if resp.Reply == "" {
		t.Error("expected a reply despite the missing history")
	}

	got, err := convs.GetWithMessages(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Errorf("expected both messages persisted, got %d", len(got.Messages))
	}
}

func TestTurnMemoryRecall(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, _, _ := newTestOrchestrator(t, chat)
	ctx := context.Background()

	first, err := orch.HandleTurn(ctx, models.ChatRequest{UserID: "user-1", Message: "我叫阿明，今年35歲"})
	if err != nil {
		t.Fatalf("turn 1 error: %v", err)
	}

	second, err := orch.HandleTurn(ctx, models.ChatRequest{
		UserID:         "user-1",
		Message:        "你記得我幾歲嗎？",
		ConversationID: first.ConversationID,
	})
	if err != nil {
		t.Fatalf("turn 2 error: %v", err)
	}

	if !strings.Contains(second.Reply, "35") {
		t.Errorf("recall reply should carry the remembered age, got %q", second.Reply)
	}
}

func TestTurnColloquialCleaning(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, _, knowledge := newTestOrchestrator(t, chat)
	seedHospitalDocument(t, knowledge)

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{
		UserID:  "user-1",
		Message: "嗯...我想問一下那個凱旋醫院的電話是多少啦",
	})
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	if !strings.Contains(resp.Reply, "07-7513171") {
		t.Errorf("noisy phrasing should still reach the document, got %q", resp.Reply)
	}
}

func TestTurnCareEscalation(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, convs, _ := newTestOrchestrator(t, chat)
	ctx := context.Background()

	messages := []string{"心情不好", "還是很難過", "幫不了我"}
	var convID string
	for i, msg := range messages {
		resp, err := orch.HandleTurn(ctx, models.ChatRequest{UserID: "user-1", Message: msg, ConversationID: convID})
		if err != nil {
			t.Fatalf("turn %d error: %v", i+1, err)
		}
		convID = resp.ConversationID
	}

	got, err := convs.GetWithMessages(ctx, convID)
	if err != nil {
		t.Fatalf("GetWithMessages() error: %v", err)
	}

	var stages []string
	for _, msg := range got.Messages {
		if msg.Role == models.RoleAssistant {
			stages = append(stages, msg.Metadata[models.MetaCareStage])
		}
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 assistant messages, got %d", len(stages))
	}
	if stages[0] != "1" {
		t.Errorf("turn 1 stage = %q, want 1", stages[0])
	}
	if stages[2] < stages[0] || stages[2] == stages[0] {
		t.Errorf("no escalation across non-improving turns: stages %v", stages)
	}
}

func TestTurnSingleRuneInput(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, _, _ := newTestOrchestrator(t, chat)

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{UserID: "user-1", Message: "嗯"})
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}
	if resp.Reply == "" {
		t.Error("single-rune input should still produce a reply")
	}
}

func TestTurnDraftFailureFallback(t *testing.T) {
	chat := &fakeChat{Respond: func(req llm.CompletionRequest) (string, error) {
		if isAnalyzerCall(req) {
			return analysisJSON("crisis", "high", 4, false, ""), nil
		}
		return "", fmt.Errorf("provider outage")
	}}
	orch, _, _ := newTestOrchestrator(t, chat)

	resp, err := orch.HandleTurn(context.Background(), models.ChatRequest{UserID: "user-1", Message: "不想活了"})
	if err != nil {
		t.Fatalf("HandleTurn() should degrade, not fail: %v", err)
	}
	if resp.Reply == "" {
		t.Fatal("fallback reply is empty")
	}
	if !strings.Contains(resp.Reply, testHotline) {
		t.Errorf("high-risk fallback must carry the hotline, got %q", resp.Reply)
	}
}

func TestTurnUnknownConversation(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, _, _ := newTestOrchestrator(t, chat)

	_, err := orch.HandleTurn(context.Background(), models.ChatRequest{
		UserID:         "user-1",
		Message:        "你好",
		ConversationID: "3c0b1a84-0000-0000-0000-000000000000",
	})
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestTurnConversationOwnership(t *testing.T) {
	chat := &fakeChat{Respond: scenarioRespond}
	orch, convs, _ := newTestOrchestrator(t, chat)
	ctx := context.Background()

	conv, err := convs.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err = orch.HandleTurn(ctx, models.ChatRequest{
		UserID:         "user-2",
		Message:        "你好",
		ConversationID: conv.ID,
	})
	if err == nil {
		t.Fatal("another user's conversation should read as not found")
	}
}

func TestTurnReplyCache(t *testing.T) {
	drafterCalls := 0
	chat := &fakeChat{Respond: func(req llm.CompletionRequest) (string, error) {
		if isAnalyzerCall(req) {
			return analysisJSON("greeting", "none", 1, false, ""), nil
		}
		system := req.Messages[0].Content
		if strings.Contains(system, "口吻修飾員") {
			return shaperDraft(userContent(req)), nil
		}
		drafterCalls++
		return "你好呀。", nil
	}}
	orch, _, _ := newTestOrchestrator(t, chat)
	ctx := context.Background()

	if _, err := orch.HandleTurn(ctx, models.ChatRequest{UserID: "user-1", Message: "你好"}); err != nil {
		t.Fatalf("turn 1 error: %v", err)
	}
	second, err := orch.HandleTurn(ctx, models.ChatRequest{UserID: "user-2", Message: "你好"})
	if err != nil {
		t.Fatalf("turn 2 error: %v", err)
	}

	if drafterCalls != 1 {
		t.Errorf("second identical greeting should come from cache, drafter called %d times", drafterCalls)
	}
	if second.Reply == "" {
		t.Error("cached turn still needs a reply")
	}
	if second.ConversationID == "" {
		t.Error("cached turn still persists a conversation")
	}
}
