package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"

	"careline/internal/logging"
	"careline/internal/models"
	"careline/internal/store"
)

// Pipeline strategies. Fast skips persona shaping, ultimate additionally
// skips memory enrichment. Both keep the risk path intact.
const (
	StrategyFull     = "full"
	StrategyFast     = "fast"
	StrategyUltimate = "ultimate"
)

// replyCacheTTL bounds how long a short reply may be served again.
// The cache is in-memory only, so a restart always starts cold.
const replyCacheTTL = 5 * time.Minute

// cacheableRuneLimit caps the input length eligible for reply caching.
const cacheableRuneLimit = 20

// PersistQueue receives assistant messages whose first write failed so a
// background job can retry them.
type PersistQueue interface {
	Enqueue(msg models.Message)
}

// TurnStore is the conversation persistence surface the pipeline needs.
// *store.ConversationStore satisfies it.
type TurnStore interface {
	Create(ctx context.Context, userID string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	RecentWindow(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
}

// OrchestratorConfig is the tuning surface of the pipeline.
type OrchestratorConfig struct {
	Strategy        string
	MaxMemoryTurns  int
	DefaultLanguage string
	PrimaryHotline  string
}

// Orchestrator runs the fixed dialogue pipeline for one turn:
// memory window, risk scan, enrichment, analysis, retrieval, drafting,
// shaping, length management, persistence.
type Orchestrator struct {
	cfg       OrchestratorConfig
	convs     TurnStore
	knowledge *store.KnowledgeStore

	scanner   *RiskScanner
	enricher  *MemoryEnricher
	analyzer  *IntentAnalyzer
	cleaner   *QueryCleaner
	retriever *Retriever
	drafter   *ResponseDrafter
	shaper    *PersonaShaper
	length    *LengthManager
	care      *CareTracker

	quality *QualityLogger
	metrics *Metrics
	cache   *gocache.Cache
	retry   PersistQueue
}

// NewOrchestrator wires the pipeline. quality, metrics and retry may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	convs TurnStore,
	knowledge *store.KnowledgeStore,
	scanner *RiskScanner,
	enricher *MemoryEnricher,
	analyzer *IntentAnalyzer,
	cleaner *QueryCleaner,
	retriever *Retriever,
	drafter *ResponseDrafter,
	shaper *PersonaShaper,
	length *LengthManager,
	care *CareTracker,
	quality *QualityLogger,
	metrics *Metrics,
	retry PersistQueue,
) *Orchestrator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFull
	}
	if cfg.MaxMemoryTurns <= 0 {
		cfg.MaxMemoryTurns = 10
	}
	return &Orchestrator{
		cfg:       cfg,
		convs:     convs,
		knowledge: knowledge,
		scanner:   scanner,
		enricher:  enricher,
		analyzer:  analyzer,
		cleaner:   cleaner,
		retriever: retriever,
		drafter:   drafter,
		shaper:    shaper,
		length:    length,
		care:      care,
		quality:   quality,
		metrics:   metrics,
		cache:     gocache.New(replyCacheTTL, 10*time.Minute),
		retry:     retry,
	}
}

// HandleTurn runs one full user turn and returns the persisted exchange.
func (o *Orchestrator) HandleTurn(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	conv, err := o.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := logging.WithTurn(conv.ID, req.UserID)
	stageMillis := make(map[string]int)

	// Memory window
	start := time.Now()
	window, err := o.convs.RecentWindow(ctx, conv.ID, o.cfg.MaxMemoryTurns*2)
	if err != nil {
		logger.Warn("memory window load failed, continuing without history", "error", err)
		o.metrics.CountFallback("memory")
		window = nil
	}
	o.observe("memory", start, stageMillis)

	careState := RestoreState(window)

	// Risk keyword scan
	start = time.Now()
	hits := o.scanner.Scan(req.Message)
	o.observe("scan", start, stageMillis)

	// Memory enrichment
	start = time.Now()
	var enriched models.EnrichedContext
	if o.cfg.Strategy == StrategyUltimate {
		enriched.Improvement = o.enricher.DetectImprovement(req.Message)
	} else {
		enriched = o.enricher.Enrich(window, req.Message)
	}
	o.observe("enrich", start, stageMillis)

	// Intent analysis
	start = time.Now()
	analysis := o.analyzer.Analyze(ctx, req.Message, enriched.MemoryCard, careState.CurrentStage, SubstanceNames(hits))
	o.observe("analyze", start, stageMillis)

	stage := o.care.Next(&careState, analysis, enriched.Improvement)

	// Short-reply cache, never for anything risk-bearing
	if reply, class, ok := o.cachedReply(req.Message, analysis); ok {
		o.metrics.CountCacheHit()
		logger.Info("turn served from cache", "intent", analysis.Intent)
		return o.persistTurn(ctx, conv, req, reply, class, analysis, stage, careState, stageMillis, false, 0)
	}

	// Knowledge retrieval
	var snippets []models.SearchResult
	fallback := false
	if analysis.NeedRAG {
		start = time.Now()
		query := o.cleaner.Clean(ctx, req.Message)
		snippets, err = o.retriever.RetrieveWithFallback(ctx, query, analysis, RetrieveOptions{
			Filters:        models.SearchFilters{Language: o.cfg.DefaultLanguage},
			PreferContacts: analysis.Intent == models.IntentPlaceQuery || analysis.PlaceQuery != nil,
		})
		if err != nil {
			logger.Warn("retrieval failed, drafting without snippets", "error", err)
			o.metrics.CountFallback("retrieve")
			snippets = nil
		}
		o.observe("retrieve", start, stageMillis)
	}

	nickname := o.caseNickname(ctx, req.UserID)

	// Drafting
	start = time.Now()
	draft, err := o.drafter.Draft(ctx, DraftInput{
		Message:    req.Message,
		MemoryCard: enriched.MemoryCard,
		Analysis:   analysis,
		Snippets:   snippets,
		CareStage:  stage,
		Nickname:   nickname,
	})
	if err != nil {
		logger.Error("draft failed, using generic fallback", "error", err)
		o.metrics.CountFallback("draft")
		draft = o.fallbackReply(analysis)
		fallback = true
	}
	o.observe("draft", start, stageMillis)

	// Persona shaping
	shaped := draft
	if o.cfg.Strategy == StrategyFull && !fallback {
		start = time.Now()
		shaped = o.shaper.Shape(ctx, ShapeInput{
			Draft:        draft,
			CareStage:    stage,
			RiskLevel:    analysis.RiskLevel,
			Intent:       analysis.Intent,
			SnippetCount: len(snippets),
		})
		o.observe("shape", start, stageMillis)
	}

	// Length management
	start = time.Now()
	final, class := o.length.Format(shaped, analysis)
	if analysis.RiskLevel == models.RiskHigh {
		final = o.ensureHotline(final, class)
	}
	o.observe("format", start, stageMillis)

	if o.cacheable(req.Message, analysis, fallback) {
		o.cache.Set(cacheKey(analysis.Intent, req.Message), cachedEntry{Reply: final, Class: class}, gocache.DefaultExpiration)
	}

	return o.persistTurn(ctx, conv, req, final, class, analysis, stage, careState, stageMillis, fallback, len(snippets))
}

// resolveConversation loads the requested conversation or starts a new one.
// A conversation owned by a different user reads as not found.
func (o *Orchestrator) resolveConversation(ctx context.Context, req models.ChatRequest) (*models.Conversation, error) {
	if req.ConversationID == "" {
		return o.convs.Create(ctx, req.UserID)
	}
	conv, err := o.convs.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != req.UserID {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

// persistTurn writes user then assistant messages and finishes the turn.
// A failed assistant write is queued for retry instead of dropping the reply.
func (o *Orchestrator) persistTurn(
	ctx context.Context,
	conv *models.Conversation,
	req models.ChatRequest,
	reply, class string,
	analysis models.AnalysisBundle,
	stage int,
	careState models.CareState,
	stageMillis map[string]int,
	fallback bool,
	snippetCount int,
) (*models.ChatResponse, error) {
	logger := logging.WithTurn(conv.ID, req.UserID)

	userMsg := models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
	}
	if err := o.convs.AppendMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	assistantMsg := models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        reply,
		Metadata: map[string]string{
			models.MetaCareStage:      fmt.Sprintf("%d", stage),
			models.MetaRiskLevel:      analysis.RiskLevel,
			models.MetaIntent:         analysis.Intent,
			models.MetaReplyClass:     class,
			models.MetaNonImprovement: fmt.Sprintf("%d", careState.NonImprovementCount),
		},
	}
	if err := o.convs.AppendMessage(ctx, &assistantMsg); err != nil {
		logger.Error("persist assistant message failed, queued for retry", "error", err)
		o.metrics.CountFallback("persist")
		if o.retry != nil {
			o.retry.Enqueue(assistantMsg)
		}
	}

	o.metrics.CountTurn(analysis.Intent, class, analysis.RiskLevel)
	if o.quality != nil {
		rec := TurnRecord{
			Timestamp:      time.Now().UTC(),
			ConversationID: conv.ID,
			UserID:         req.UserID,
			Intent:         analysis.Intent,
			RiskLevel:      analysis.RiskLevel,
			CareStage:      stage,
			ReplyClass:     class,
			Strategy:       o.cfg.Strategy,
			SnippetCount:   snippetCount,
			ReplyLength:    utf8.RuneCountInString(reply),
			Fallback:       fallback,
			StageMillis:    stageMillis,
		}
		if err := o.quality.Record(rec); err != nil {
			logger.Warn("quality log write failed", "error", err)
		}
	}

	logger.Info("turn completed",
		"intent", analysis.Intent,
		"risk", analysis.RiskLevel,
		"care_stage", stage,
		"reply_class", class,
		"fallback", fallback,
	)

	return &models.ChatResponse{
		ConversationID:     conv.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Reply:              reply,
		Timestamp:          assistantMsg.CreatedAt,
	}, nil
}

// fallbackReply is the bounded apology used when drafting is unavailable.
// High-risk turns still carry the hotline.
func (o *Orchestrator) fallbackReply(analysis models.AnalysisBundle) string {
	if analysis.RiskLevel == models.RiskHigh {
		return fmt.Sprintf("我在這裡陪你。現在就撥安心專線%s，好嗎？", o.cfg.PrimaryHotline)
	}
	return "不好意思，我這邊暫時忙不過來，等一下再跟我說一次好嗎？"
}

// ensureHotline guarantees a high-risk reply carries the primary hotline,
// trimming the reply if needed to stay inside the class budget.
func (o *Orchestrator) ensureHotline(reply, class string) string {
	hotline := o.cfg.PrimaryHotline
	if hotline == "" || strings.Contains(reply, hotline) {
		return reply
	}
	suffix := fmt.Sprintf("安心專線%s全天都在。", hotline)
	allowed := o.length.Budget(class) - utf8.RuneCountInString(suffix)
	if allowed <= 0 {
		return suffix
	}
	if utf8.RuneCountInString(reply) > allowed {
		// fact-preserving truncation so phone numbers in the reply survive
		reply = o.length.truncate(reply, allowed)
	}
	return reply + suffix
}

type cachedEntry struct {
	Reply string
	Class string
}

func cacheKey(intent, message string) string {
	return intent + "|" + message
}

// cacheable limits the reply cache to short, risk-free small talk.
func (o *Orchestrator) cacheable(message string, analysis models.AnalysisBundle, fallback bool) bool {
	if fallback {
		return false
	}
	if analysis.RiskLevel != models.RiskNone {
		return false
	}
	if analysis.Intent != models.IntentGreeting && analysis.Intent != models.IntentChitchat {
		return false
	}
	return utf8.RuneCountInString(message) <= cacheableRuneLimit
}

func (o *Orchestrator) cachedReply(message string, analysis models.AnalysisBundle) (string, string, bool) {
	if !o.cacheable(message, analysis, false) {
		return "", "", false
	}
	v, ok := o.cache.Get(cacheKey(analysis.Intent, message))
	if !ok {
		return "", "", false
	}
	entry, ok := v.(cachedEntry)
	if !ok {
		return "", "", false
	}
	return entry.Reply, entry.Class, true
}

func (o *Orchestrator) observe(stage string, start time.Time, stageMillis map[string]int) {
	elapsed := time.Since(start)
	o.metrics.ObserveStage(stage, elapsed)
	stageMillis[stage] = int(elapsed.Milliseconds())
}

// caseNickname looks up the optional case record. Missing cases are normal.
func (o *Orchestrator) caseNickname(ctx context.Context, userID string) string {
	if o.knowledge == nil {
		return ""
	}
	c, err := o.knowledge.GetCase(ctx, userID)
	if err != nil {
		return ""
	}
	return c.Nickname
}
