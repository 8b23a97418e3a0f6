package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/services/embedding"
)

type fakeSearcher struct {
	req *embedding.SearchRequest
	err error
}

func (f *fakeSearcher) Search(ctx context.Context, req *embedding.SearchRequest) (*embedding.SearchResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &embedding.SearchResponse{
		OriginalQuery:  req.Query,
		EffectiveQuery: req.Query,
		Limit:          8,
		TotalResults:   1,
		Results:        []embedding.SearchResult{{SourceType: "issue", SourceID: 4, Title: "Login broken", Similarity: 0.91}},
	}, nil
}

func searchRouter(searcher Searcher) *gin.Engine {
	router := gin.New()
	router.POST("/api/search", NewSearchHandler(searcher).Search)
	return router
}

func TestSearchHandler_Search(t *testing.T) {
	searcher := &fakeSearcher{}
	w, env := perform(t, searchRouter(searcher), "POST", "/api/search", map[string]interface{}{
		"query":   "login fails",
		"sources": []string{"issues"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if searcher.req == nil || len(searcher.req.Sources) != 1 {
		t.Errorf("request = %+v", searcher.req)
	}
	var resp embedding.SearchResponse
	json.Unmarshal(env.Data, &resp)
	if resp.TotalResults != 1 || resp.Results[0].Title != "Login broken" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSearchHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		body     interface{}
		expected int
	}{
		{"not configured", nil, map[string]string{"query": "login"}, http.StatusUnprocessableEntity},
		{"missing query", &fakeSearcher{}, map[string]string{}, http.StatusBadRequest},
		{"short query", &fakeSearcher{}, map[string]string{"query": "x"}, http.StatusBadRequest},
		{"backend down", &fakeSearcher{err: errors.New("connection refused")}, map[string]string{"query": "login"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, _ := perform(t, searchRouter(tt.searcher), "POST", "/api/search", tt.body); w.Code != tt.expected {
				t.Errorf("status = %d, expected %d", w.Code, tt.expected)
			}
		})
	}
}
