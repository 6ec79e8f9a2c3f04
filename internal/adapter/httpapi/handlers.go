package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kbrag/internal/domain"
	"kbrag/internal/usecase"
)

const defaultTopK = 5

type retrieveRequest struct {
	Query          string `json:"query" validate:"required"`
	TopK           *int   `json:"top_k" validate:"omitempty,min=1,max=100"`
	FilterCategory string `json:"filter_category"`
}

type chunkResponse struct {
	Text     string          `json:"text"`
	Score    float64         `json:"score"`
	Metadata domain.Metadata `json:"metadata"`
}

type retrieveResponse struct {
	Chunks  []chunkResponse `json:"chunks"`
	Context string          `json:"context"`
	Sources []string        `json:"sources"`
	Mode    string          `json:"mode"`
}

type reindexResponse struct {
	Files       int      `json:"files"`
	FAQ         int      `json:"faq"`
	Regulations int      `json:"regulations"`
	Dialogs     int      `json:"dialogs"`
	Documents   int      `json:"documents"`
	Chunks      int      `json:"chunks"`
	Warnings    []string `json:"warnings"`
	TookMS      int64    `json:"took_ms"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	stats := s.retrieve.Stats()
	vectors := 0
	if stats.Index != nil {
		vectors = stats.Index.TotalVectors
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"version": Version,
		"status":  "operational",
		"mode":    stats.Mode,
		"vectors": vectors,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"mode":   s.retrieve.Mode(),
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	resp, err := s.retrieve.Query(r.Context(), usecase.QueryRequest{
		Query:          req.Query,
		TopK:           topK,
		FilterCategory: req.FilterCategory,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("retrieval failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Retrieval error: %v", err))
		return
	}

	chunks := make([]chunkResponse, len(resp.Chunks))
	for i, c := range resp.Chunks {
		chunks[i] = chunkResponse{Text: c.Chunk.Text, Score: c.Score, Metadata: c.Chunk.Metadata}
	}
	sources := resp.Sources
	if sources == nil {
		sources = []string{}
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		Chunks:  chunks,
		Context: resp.Context,
		Sources: sources,
		Mode:    string(resp.Mode),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.retrieve.Stats()
	if stats.Index == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"total_vectors": 0,
			"total_chunks":  stats.FallbackEntries,
			"mode":          usecase.ModeFallback,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_vectors":  stats.Index.TotalVectors,
		"total_chunks":   stats.Index.TotalChunks,
		"embedding_dim":  stats.Index.Dimension,
		"metric":         stats.Index.Metric,
		"model":          stats.Index.Model,
		"built_at":       stats.Index.BuiltAt,
		"cached_queries": stats.CachedQueries,
		"cache_hits":     stats.CacheHits,
		"cache_misses":   stats.CacheMisses,
		"mode":           stats.Mode,
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	result, err := s.index.Index(r.Context(), s.dataDir)
	if err != nil {
		s.logger.Error("reindex failed", zap.String("data_dir", s.dataDir), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrEmptyCorpus) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, fmt.Sprintf("Reindex error: %v", err))
		return
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, reindexResponse{
		Files:       result.Files,
		FAQ:         result.FAQ,
		Regulations: result.Regulations,
		Dialogs:     result.Dialogs,
		Documents:   result.Documents,
		Chunks:      result.Chunks,
		Warnings:    warnings,
		TookMS:      result.Took.Milliseconds(),
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Query":
		return "query is required"
	case "TopK":
		return "top_k must be between 1 and 100"
	}
	return fmt.Sprintf("invalid field %s", fe.Field())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
