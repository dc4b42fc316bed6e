package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/memory"
)

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string    `json:"text"`
		At   time.Time `json:"at"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		badRequest(w, "text required")
		return
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	m, err := s.eng.ProcessUtteranceAt(req.Text, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, ok, err := s.eng.HandleCommand(req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"handled": ok,
		"result":  res,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users := s.eng.ListUsers()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(users),
		"users": users,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.eng.CreateUser(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	p, ok := s.eng.CurrentUser()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no current user"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSwitchUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User string `json:"user"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.eng.SwitchUser(req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	p, rep, err := s.eng.ForgetCurrent()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": p,
		"report":  rep,
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := s.eng.DeleteUser(chi.URLParam(r, "id"), engine.DeleteOptions{
		Replacement: q.Get("replacement"),
		ReassignTo:  q.Get("reassign_to"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "current" {
		id = ""
	}
	ps, err := s.eng.Patterns(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(ps),
		"patterns": ps,
	})
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string            `json:"content"`
		Type       string            `json:"type"`
		Importance memory.Importance `json:"importance"`
		Tags       []string          `json:"tags"`
		Owner      string            `json:"owner"`
	}
	if !decode(w, r, &req) {
		return
	}
	typ, err := memory.ParseType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.eng.Remember(memory.Input{
		Content:    req.Content,
		Type:       typ,
		Importance: req.Importance,
		Tags:       req.Tags,
		Owner:      req.Owner,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleRecall ranks memories when q is given and lists them otherwise.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		mems := s.eng.Memories(q.Get("owner"))
		writeJSON(w, http.StatusOK, map[string]any{
			"count":    len(mems),
			"memories": mems,
		})
		return
	}

	f := memory.Filter{
		Owner:         q.Get("owner"),
		IncludeGlobal: q.Get("include_global") == "true",
		Tag:           q.Get("tag"),
	}
	if t := q.Get("type"); t != "" {
		typ, err := memory.ParseType(t)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Type = typ
	}
	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		badRequest(w, "since must be RFC 3339")
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		badRequest(w, "until must be RFC 3339")
		return
	}
	if v := q.Get("min_relevance"); v != "" {
		if f.MinRelevance, err = strconv.ParseFloat(v, 64); err != nil {
			badRequest(w, "min_relevance must be a number")
			return
		}
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil {
			badRequest(w, "limit must be an integer")
			return
		}
	}

	res, err := s.eng.Recall(query, f, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(res),
		"results": res,
	})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	sum, err := s.eng.MemorySummary(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DeleteMemory(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Associate(req.A, req.B); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "associated"})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold float64 `json:"threshold"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	rep, err := s.eng.Consolidate(req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner  string    `json:"owner"`
		Action string    `json:"action"`
		At     time.Time `json:"at"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.RecordAction(req.Owner, req.Action, req.At); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}
