package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"careline/internal/models"
)

// KnowledgeSearcher is the vector-search surface the retriever depends on.
// *store.KnowledgeStore satisfies it.
type KnowledgeSearcher interface {
	Search(ctx context.Context, vector []float32, k int, filters models.SearchFilters) ([]models.SearchResult, error)
}

// Retriever embeds a query, searches the knowledge store and post-processes
// the hits. It holds no mutable state and is safe to call concurrently.
type Retriever struct {
	embedder EmbedClient
	searcher KnowledgeSearcher
	timeout  time.Duration

	// defaults, overridable per call via RetrieveOptions
	topK       int
	threshold  float64
	minResults int
}

// RetrieveOptions tunes one retrieval call. Zero values take the
// retriever's defaults.
type RetrieveOptions struct {
	TopK      int
	Threshold float64
	Filters   models.SearchFilters

	// PreferContacts ranks hits carrying structured contact metadata first,
	// used for contact-seeking turns.
	PreferContacts bool
}

// NewRetriever creates a retriever with the given defaults.
func NewRetriever(embedder EmbedClient, searcher KnowledgeSearcher, timeout time.Duration) *Retriever {
	return &Retriever{
		embedder:   embedder,
		searcher:   searcher,
		timeout:    timeout,
		topK:       5,
		threshold:  0.35,
		minResults: 1,
	}
}

// Retrieve runs a single query: embed, search, drop low scores, dedupe by
// document title keeping the best chunk, return in descending score order.
// k <= 0 yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]models.SearchResult, error) {
	k := opts.TopK
	if k == 0 {
		k = r.topK
	}
	if k <= 0 {
		return []models.SearchResult{}, nil
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = r.threshold
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedder.Embed(callCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch so threshold and dedupe still leave k candidates
	hits, err := r.searcher.Search(callCtx, vector, k*3, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	bestByTitle := make(map[string]models.SearchResult)
	var order []string
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		if prev, ok := bestByTitle[hit.DocumentTitle]; !ok {
			bestByTitle[hit.DocumentTitle] = hit
			order = append(order, hit.DocumentTitle)
		} else if hit.Score > prev.Score {
			bestByTitle[hit.DocumentTitle] = hit
		}
	}

	// hits arrive score-descending, so first-seen order is already ranked
	results := make([]models.SearchResult, 0, len(order))
	for _, title := range order {
		results = append(results, bestByTitle[title])
		if len(results) == k {
			break
		}
	}
	if opts.PreferContacts {
		results = promoteContacts(results)
	}
	return results, nil
}

// promoteContacts moves hits with structured contact metadata ahead of the
// rest, keeping score order within each group.
func promoteContacts(results []models.SearchResult) []models.SearchResult {
	contacts := make([]models.SearchResult, 0, len(results))
	others := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Contact() != nil {
			contacts = append(contacts, r)
		} else {
			others = append(others, r)
		}
	}
	return append(contacts, others...)
}

// RetrieveWithFallback tries the primary query and, when it returns fewer
// than the minimum, walks a ladder of up to three alternatives derived from
// the analysis. It stops at the first non-empty result.
func (r *Retriever) RetrieveWithFallback(ctx context.Context, query string, analysis models.AnalysisBundle, opts RetrieveOptions) ([]models.SearchResult, error) {
	results, err := r.Retrieve(ctx, query, opts)
	if err == nil && len(results) >= r.minResults {
		return results, nil
	}
	if err != nil {
		log.Printf("⚠️ [RETRIEVER] Primary query %q failed: %v", query, err)
	}

	for _, alt := range fallbackQueries(query, analysis) {
		altResults, altErr := r.Retrieve(ctx, alt, opts)
		if altErr != nil {
			log.Printf("⚠️ [RETRIEVER] Fallback query %q failed: %v", alt, altErr)
			continue
		}
		if len(altResults) > 0 {
			log.Printf("🔁 [RETRIEVER] Fallback query %q hit after %q missed", alt, query)
			return altResults, nil
		}
	}

	if err != nil {
		return nil, err
	}
	return results, nil
}

// fallbackQueries derives up to three alternative queries: the analyzer's
// hint, the main named entity, and the entity joined with the intent
// keyword.
func fallbackQueries(primary string, analysis models.AnalysisBundle) []string {
	var ladder []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || q == primary {
			return
		}
		for _, existing := range ladder {
			if existing == q {
				return
			}
		}
		if len(ladder) < 3 {
			ladder = append(ladder, q)
		}
	}

	add(analysis.RetrievalHint)
	if analysis.PlaceQuery != nil {
		add(analysis.PlaceQuery.Name)
		if analysis.PlaceQuery.Type != "" && analysis.PlaceQuery.Type != "general" {
			add(analysis.PlaceQuery.Name + " " + placeTypeKeyword(analysis.PlaceQuery.Type))
		}
	}
	return ladder
}

func placeTypeKeyword(placeType string) string {
	switch placeType {
	case "address":
		return "地址"
	case "phone":
		return "電話"
	case "hours":
		return "時間"
	default:
		return ""
	}
}
