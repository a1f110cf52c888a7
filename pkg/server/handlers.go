package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/oceanbase/memstore/pkg/core"
	"github.com/oceanbase/memstore/pkg/lifecycle"
	"github.com/oceanbase/memstore/pkg/model"
)

type addRequest struct {
	Content  string                 `json:"content"`
	Scope    model.Scope            `json:"scope"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type addResponse struct {
	ID int64 `json:"id"`
}

type updateRequest struct {
	Content  *string                `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type searchRequest struct {
	Query           string      `json:"query"`
	Scope           model.Scope `json:"scope"`
	TopK            int         `json:"top_k,omitempty"`
	MinScore        float64     `json:"min_score,omitempty"`
	IncludeArchived bool        `json:"include_archived,omitempty"`
	Rerank          *bool       `json:"rerank,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) addMemory(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := s.client.Add(r.Context(), req.Content,
		core.WithScope(req.Scope),
		core.WithMetadata(req.Metadata),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addResponse{ID: m.ID})
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := s.client.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, present(m))
}

func (s *Server) updateMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}

	var opts []core.UpdateOption
	if req.Content != nil {
		opts = append(opts, core.WithContent(*req.Content))
	}
	if req.Metadata != nil {
		opts = append(opts, core.WithMetadataPatch(req.Metadata))
	}

	if _, err := s.client.Update(r.Context(), id, opts...); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.client.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := s.client.Restore(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, present(m))
}

func (s *Server) searchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}

	opts := []core.SearchOption{
		core.WithScopeForSearch(req.Scope),
		core.WithLimit(req.TopK),
		core.WithMinScore(req.MinScore),
		core.WithIncludeArchived(req.IncludeArchived),
	}
	if req.Rerank != nil {
		opts = append(opts, core.WithRerank(*req.Rerank))
	}

	results, err := s.client.Search(r.Context(), req.Query, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(results, func(m *core.Memory, _ int) searchResult {
		return searchResult{Memory: present(m), Score: m.Score}
	}))
}

// searchResult always carries score, including a score of zero.
type searchResult struct {
	*core.Memory
	Score float64 `json:"score"`
}

func (s *Server) listMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts []core.GetAllOption

	if raw := q.Get("scope"); raw != "" {
		scope, err := model.ParseScope(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		opts = append(opts, core.WithScopeForGetAll(scope))
	}
	if raw := q.Get("stage"); raw != "" {
		var stages []core.Stage
		for _, name := range strings.Split(raw, ",") {
			st, err := model.ParseStage(strings.TrimSpace(name))
			if err != nil {
				writeError(w, err)
				return
			}
			stages = append(stages, st)
		}
		opts = append(opts, core.WithStages(stages...))
	}
	for key, apply := range map[string]func(int) core.GetAllOption{
		"limit":  core.WithLimitForGetAll,
		"offset": core.WithOffset,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, model.Validationf("%s must be a non-negative integer", key))
			return
		}
		opts = append(opts, apply(n))
	}

	memories, err := s.client.GetAll(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(memories, func(m *core.Memory, _ int) *core.Memory { return present(m) }))
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeErrorKind(w, http.StatusNotImplemented, model.KindInternal, "lifecycle sweeps are not enabled")
		return
	}

	report, err := s.sweeper.Sweep(r.Context())
	if errors.Is(err, lifecycle.ErrSweepInProgress) {
		writeErrorKind(w, http.StatusConflict, model.KindInternal, err.Error())
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) consistency(w http.ResponseWriter, r *http.Request) {
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	report, err := s.client.CheckConsistency(r.Context(), repair)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// present strips the embedding, which callers never need.
func present(m *core.Memory) *core.Memory {
	out := m.Clone()
	out.Embedding = nil
	return out
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, model.Validationf("malformed memory id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, model.ErrValidation) {
			writeError(w, err)
		} else {
			writeError(w, model.Validationf("malformed request body: %v", err))
		}
		return false
	}
	return true
}
