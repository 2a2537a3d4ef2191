package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abramin/flowseq/internal/sequence"
	"github.com/abramin/flowseq/internal/session"
)

type createRequest struct {
	Handle string `json:"handle"`
}

// excludeRequest hides a participant when Method is empty, otherwise a
// method. Omitting Params hides every overload of the method.
type excludeRequest struct {
	Type   string   `json:"type"`
	Method string   `json:"method,omitempty"`
	Params []string `json:"params,omitempty"`
}

type sessionInfo struct {
	ID         string   `json:"id"`
	Handle     string   `json:"handle"`
	Title      string   `json:"title"`
	Generation uint64   `json:"generation"`
	Filters    []string `json:"filters"`
}

type objectJSON struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

type activationJSON struct {
	Method string `json:"method"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	sequence.Activation
}

type linkJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
	sequence.Link
}

type diagramResponse struct {
	Session     sessionInfo      `json:"session"`
	Root        string           `json:"root"`
	BuiltAt     time.Time        `json:"built_at"`
	Changed     bool             `json:"changed"`
	Diff        string           `json:"diff,omitempty"`
	Objects     []objectJSON     `json:"objects"`
	Activations []activationJSON `json:"activations"`
	Links       []linkJSON       `json:"links"`
}

type locationJSON struct {
	Caller    string             `json:"caller"`
	Callee    string             `json:"callee"`
	TopLevel  int                `json:"top_level"`
	Numbering sequence.Numbering `json:"numbering"`
	Ordinal   int                `json:"ordinal"`
	File      string             `json:"file,omitempty"`
	Line      int                `json:"line,omitempty"`
}

// handleSessions handles
// GET /api/sessions - list open sessions
// POST /api/sessions - open a session and build its first diagram
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.sessions.List()
		out := make([]sessionInfo, 0, len(list))
		for _, sess := range list {
			out = append(out, describeSession(sess, sess.Current()))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Handle == "" {
			writeError(w, http.StatusBadRequest, "handle required")
			return
		}

		sess, err := s.sessions.Create(sequence.Handle(req.Handle))
		if err != nil {
			writeFailure(w, err)
			return
		}
		res, err := s.regenerate(r.Context(), sess)
		if err != nil {
			if delErr := s.sessions.Delete(sess.ID()); delErr != nil {
				log.Printf("Error discarding session %s: %v", sess.ID(), delErr)
			}
			writeFailure(w, err)
			return
		}
		openSessions.Set(float64(s.sessions.Len()))
		writeJSON(w, http.StatusCreated, diagram(sess, res))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSession handles session endpoints
// GET    /api/sessions/:id            - current diagram
// DELETE /api/sessions/:id            - close the session
// GET    /api/sessions/:id/text       - canonical text of the current diagram
// POST   /api/sessions/:id/regenerate - rebuild with the current filters
// POST   /api/sessions/:id/exclude    - add a filter and rebuild
// GET    /api/sessions/:id/navigate   - locate a call for an editor
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session ID required")
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		res := sess.Current()
		if res == nil {
			writeError(w, http.StatusNotFound, "no diagram has been built")
			return
		}
		writeJSON(w, http.StatusOK, diagram(sess, res))

	case action == "" && r.Method == http.MethodDelete:
		if err := s.sessions.Delete(id); err != nil {
			writeFailure(w, err)
			return
		}
		openSessions.Set(float64(s.sessions.Len()))
		w.WriteHeader(http.StatusNoContent)

	case action == "text" && r.Method == http.MethodGet:
		res := sess.Current()
		if res == nil {
			writeError(w, http.StatusNotFound, "no diagram has been built")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(res.Text))

	case action == "regenerate" && r.Method == http.MethodPost:
		res, err := s.regenerate(r.Context(), sess)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, diagram(sess, res))

	case action == "exclude" && r.Method == http.MethodPost:
		s.handleExclude(w, r, sess)

	case action == "navigate" && r.Method == http.MethodGet:
		s.handleNavigate(w, r, sess)

	case action == "" || action == "text" || action == "regenerate" || action == "exclude" || action == "navigate":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")

	default:
		writeError(w, http.StatusNotFound, "unknown session endpoint")
	}
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req excludeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if req.Method == "" {
		err = sess.ExcludeType(sequence.NewObjectDescriptor(req.Type))
	} else {
		err = sess.AddFilter(sequence.ExcludeMethod(req.Type, req.Method, req.Params))
	}
	if err != nil {
		writeFailure(w, err)
		return
	}

	res, err := s.regenerate(r.Context(), sess)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diagram(sess, res))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	res := sess.Current()
	if res == nil {
		writeError(w, http.StatusNotFound, "no diagram has been built")
		return
	}

	q := r.URL.Query()
	topLevel, err := strconv.Atoi(q.Get("top_level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid top_level")
		return
	}
	caller, ok := methodByKey(res.Model, q.Get("caller"))
	if !ok {
		writeError(w, http.StatusNotFound, "caller is not part of the diagram")
		return
	}
	callee, ok := methodByKey(res.Model, q.Get("callee"))
	if !ok {
		writeError(w, http.StatusNotFound, "callee is not part of the diagram")
		return
	}

	loc, err := sequence.Navigate(res.Model, caller, callee, topLevel)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locationJSON{
		Caller:    loc.Caller.Key(),
		Callee:    loc.Callee.Key(),
		TopLevel:  loc.TopLevel,
		Numbering: loc.Numbering,
		Ordinal:   loc.Ordinal,
		File:      loc.File,
		Line:      loc.Line,
	})
}

// regenerate rebuilds the diagram of sess and counts the outcome.
func (s *Server) regenerate(ctx context.Context, sess *session.Session) (*session.Result, error) {
	res, err := sess.Regenerate(ctx)
	regenerations.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sequence.ErrInvalidHandle):
		return "invalid_handle"
	case errors.Is(err, sequence.ErrStaleTarget):
		return "stale"
	case errors.Is(err, sequence.ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// writeFailure maps session and build errors to HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, sequence.ErrInvalidHandle),
		errors.Is(err, sequence.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sequence.ErrMalformedFilterRule):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	case errors.Is(err, sequence.ErrStaleTarget),
		errors.Is(err, sequence.ErrCancelled),
		errors.Is(err, context.Canceled):
		status = http.StatusConflict
	default:
		log.Printf("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

// methodByKey finds a participant method of m by descriptor key.
func methodByKey(m *sequence.DiagramModel, key string) (sequence.MethodDescriptor, bool) {
	for _, a := range m.Activations {
		if a.Method.Key() == key {
			return a.Method, true
		}
	}
	return sequence.MethodDescriptor{}, false
}

func describeSession(sess *session.Session, res *session.Result) sessionInfo {
	info := sessionInfo{
		ID:      sess.ID(),
		Handle:  string(sess.Handle()),
		Title:   sess.Title(),
		Filters: []string{},
	}
	if res != nil {
		info.Generation = res.Generation
	}
	for _, rule := range sess.Filters() {
		info.Filters = append(info.Filters, rule.String())
	}
	return info
}

func diagram(sess *session.Session, res *session.Result) diagramResponse {
	m := res.Model
	out := diagramResponse{
		Session:     describeSession(sess, res),
		Root:        m.Root.Key(),
		BuiltAt:     res.BuiltAt,
		Changed:     res.Changed,
		Diff:        res.Diff,
		Objects:     make([]objectJSON, len(m.Objects)),
		Activations: make([]activationJSON, len(m.Activations)),
		Links:       make([]linkJSON, len(m.Links)),
	}
	out.Session.Title = m.Title
	for i, o := range m.Objects {
		out.Objects[i] = objectJSON{Name: o.Name(), FullName: o.FullName()}
	}
	for i, a := range m.Activations {
		out.Activations[i] = activationJSON{
			Method:     a.Method.Key(),
			File:       a.Site.File,
			Line:       a.Site.Line,
			Activation: a,
		}
	}
	for i, l := range m.Links {
		out.Links[i] = linkJSON{From: l.From.Key(), To: l.To.Key(), Link: l}
	}
	return out
}
