package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultLimit = 8
	MaxLimit     = 25
	previewChars = 400
)

// Rewriter optionally expands a query before it is embedded.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) string
}

// Service stores one vector per source record and ranks them by cosine
// similarity against a query.
type Service struct {
	db       *gorm.DB
	embedder Embedder
	rewriter Rewriter
	stores   map[string]SourceStore
}

func NewService(db *gorm.DB, embedder Embedder, rewriter Rewriter, stores map[string]SourceStore) *Service {
	return &Service{db: db, embedder: embedder, rewriter: rewriter, stores: stores}
}

// Refresh embeds content and upserts the vector for ref. Blank content is a no-op.
func (s *Service) Refresh(ctx context.Context, ref SourceRef, content string, metadata map[string]interface{}) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if _, ok := s.stores[ref.Kind]; !ok {
		return fmt.Errorf("unknown embedding source kind %q", ref.Kind)
	}

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	record := models.Embedding{
		SourceKind: ref.Kind,
		SourceID:   ref.ID,
		Model:      s.embedder.Model(),
		Content:    content,
		Vector:     datatypes.NewJSONType(vector),
		Metadata:   datatypes.NewJSONType(metadata),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_kind"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"model", "content", "vector", "metadata", "updated_at"}),
	}).Create(&record).Error
}

type SearchRequest struct {
	Query   string   `json:"query" binding:"required"`
	Limit   int      `json:"limit"`
	Sources []string `json:"sources"`
	Rewrite *bool    `json:"rewrite"`
}

type SearchResult struct {
	EmbeddingID uint                   `json:"embedding_id"`
	SourceType  string                 `json:"source_type"`
	SourceID    uint                   `json:"source_id"`
	ResourceURI string                 `json:"resource_uri"`
	Similarity  float64                `json:"similarity"`
	Title       string                 `json:"title"`
	URL         string                 `json:"external_url,omitempty"`
	Preview     string                 `json:"preview,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type SearchResponse struct {
	OriginalQuery  string         `json:"original_query"`
	EffectiveQuery string         `json:"effective_query"`
	Limit          int            `json:"limit"`
	TotalResults   int            `json:"total_results"`
	SourcesFilter  []string       `json:"sources_filter"`
	Results        []SearchResult `json:"results"`
}

type scored struct {
	record models.Embedding
	score  float64
}

func (s *Service) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	effective := query
	if s.rewriter != nil && (req.Rewrite == nil || *req.Rewrite) {
		effective = s.rewriter.Rewrite(ctx, query)
	}

	kinds := NormalizeKinds(req.Sources)
	resp := &SearchResponse{
		OriginalQuery:  query,
		EffectiveQuery: effective,
		Limit:          limit,
		SourcesFilter:  kinds,
		Results:        []SearchResult{},
	}

	vector, err := s.embedder.Embed(ctx, effective)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return resp, nil
	}

	ranked, err := s.rank(vector, kinds, limit)
	if err != nil {
		return nil, err
	}

	resp.Results, err = s.present(ranked)
	if err != nil {
		return nil, err
	}
	resp.TotalResults = len(resp.Results)
	return resp, nil
}

func (s *Service) rank(vector []float64, kinds []string, limit int) ([]scored, error) {
	query := s.db.Model(&models.Embedding{})
	if len(kinds) > 0 {
		query = query.Where("source_kind IN ?", kinds)
	}

	var candidates []scored
	var batch []models.Embedding
	err := query.FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, record := range batch {
			score := Cosine(vector, record.Vector.Data())
			candidates = append(candidates, scored{record: record, score: score})
		}
		return nil
	}).Error
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *Service) present(ranked []scored) ([]SearchResult, error) {
	idsByKind := map[string][]uint{}
	for _, r := range ranked {
		idsByKind[r.record.SourceKind] = append(idsByKind[r.record.SourceKind], r.record.SourceID)
	}

	docsByKind := map[string]map[uint]SourceDocument{}
	for kind, ids := range idsByKind {
		store, ok := s.stores[kind]
		if !ok {
			continue
		}
		docs, err := store(s.db, ids)
		if err != nil {
			return nil, err
		}
		docsByKind[kind] = docs
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		doc, ok := docsByKind[r.record.SourceKind][r.record.SourceID]
		if !ok {
			logger.Debug().Str("kind", r.record.SourceKind).Uint("id", r.record.SourceID).Msg("[Search] embedding source missing")
			continue
		}

		metadata := map[string]interface{}{}
		for k, v := range r.record.Metadata.Data() {
			metadata[k] = v
		}
		if doc.UpdatedAt != "" {
			metadata["updated_at"] = doc.UpdatedAt
		}

		results = append(results, SearchResult{
			EmbeddingID: r.record.ID,
			SourceType:  r.record.SourceKind,
			SourceID:    r.record.SourceID,
			ResourceURI: fmt.Sprintf("embedding-search:///%s/%d", r.record.SourceKind, r.record.SourceID),
			Similarity:  clampScore(r.score),
			Title:       doc.Title,
			URL:         doc.URL,
			Preview:     preview(r.record.Content),
			Details:     doc.Details,
			Metadata:    metadata,
		})
	}
	return results, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clampScore(score float64) float64 {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return math.Round(score*10000) / 10000
}

func preview(content string) string {
	snippet := strings.TrimSpace(content)
	runes := []rune(snippet)
	if len(runes) <= previewChars {
		return snippet
	}
	return string(runes[:previewChars-3]) + "..."
}
