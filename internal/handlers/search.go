package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/pkg/response"
)

// Searcher ranks cached embeddings against a query.
type Searcher interface {
	Search(ctx context.Context, req *embedding.SearchRequest) (*embedding.SearchResponse, error)
}

type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler accepts a nil searcher when no embedding backend is configured.
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// Search runs a semantic search over issues, commits and wiki pages.
// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	if h.searcher == nil {
		response.Error(c, response.NewUnprocessable("semantic search is not configured"))
		return
	}

	var req embedding.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(req.Query) < 2 {
		response.BadRequest(c, "search query must be at least 2 characters")
		return
	}

	resp, err := h.searcher.Search(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, response.NewBadGateway(err.Error()))
		return
	}
	response.Success(c, resp)
}
