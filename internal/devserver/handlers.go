package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/connectivity"
	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
)

// CodeUnavailable is returned while the server is switched offline.
const CodeUnavailable = "UNAVAILABLE"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// urlParam returns a decoded path parameter.
func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) requireOnline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Online() {
			writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "server is offline")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.token {
				writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.Online() {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "server is offline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleGetFields(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, form.Fields)
}

func (s *Server) loadForm(w http.ResponseWriter, r *http.Request) (*schema.Form, bool) {
	form, err := s.db.formByID(r.Context(), urlParam(r, "formID"))
	if err != nil {
		s.storageError(w, err)
		return nil, false
	}
	return form, true
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeValidation, "invalid JSON body: "+err.Error())
		return
	}

	key := r.Header.Get(api.IdempotencyHeader)
	switch {
	case req.SubmissionID == "":
		req.SubmissionID = key
	case key != "" && key != req.SubmissionID:
		writeError(w, http.StatusBadRequest, api.CodeValidation, "submission_id does not match "+api.IdempotencyHeader)
		return
	}
	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}

	form, err := s.db.formByID(r.Context(), req.FormID)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}
	if errs := schema.ValidateData(form, req.Data); len(errs) > 0 {
		writeError(w, http.StatusUnprocessableEntity, api.CodeValidation, errs[0].Error())
		return
	}

	id, dup, err := s.db.insertSubmission(r.Context(), form, req.SubmissionID, req.Data)
	if err != nil {
		s.storageError(w, err)
		return
	}

	status := http.StatusCreated
	if dup {
		status = http.StatusOK
		s.logDebug("duplicate submission %s -> %s", req.SubmissionID, id)
	} else {
		s.logDebug("stored submission %s -> %s", req.SubmissionID, id)
	}
	writeJSON(w, status, api.SubmitResponse{ID: id, SubmissionID: req.SubmissionID, Duplicate: dup})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	form, ok := s.loadForm(w, r)
	if !ok {
		return
	}
	recs, err := s.db.records(r.Context(), form.ID)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	form, err := s.db.formByName(r.Context(), urlParam(r, "formName"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	values, err := s.db.primaryKeyValues(r.Context(), form.ID)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.record(r.Context(), urlParam(r, "recordID"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleConnectivity streams connectivity.StatusMessage values: the current
// state on connect, then every change.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logDebug("websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	_, updates, cancel := s.watch()
	defer cancel()

	// Clients never send; CloseRead ends ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	if err := wsjson.Write(ctx, conn, connectivity.StatusMessage{Online: s.Online(), At: time.Now().UTC()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server closing")
				return
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				s.logDebug("websocket write: %v", err)
				return
			}
		}
	}
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrFormNotFound):
		writeError(w, http.StatusNotFound, api.CodeFormNotFound, err.Error())
	case errors.Is(err, model.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, api.CodeRecordNotFound, err.Error())
	default:
		s.logDebug("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, api.CodeInternal, fmt.Sprintf("internal error: %v", err))
	}
}
