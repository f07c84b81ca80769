package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/logging"
)

// DiffResponse is a reconciled diff with its counts.
type DiffResponse struct {
	Summary core.DiffSummary `json:"summary"`
	Entries []core.DiffEntry `json:"entries"`
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ColumnMap())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	info := s.service.NewSession()
	logging.FromContext(logging.WithSession(r.Context(), info.ID)).Info("session created")
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Session(sessionID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(sessionID(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := s.service.ResetSession(id); err != nil {
		respondError(w, r, err)
		return
	}
	s.handleGetSession(w, r)
}

// handleValidate checks a file without staging it. An invalid sheet is a
// normal answer here, so the report comes back with 200.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := s.service.Session(id); err != nil {
		respondError(w, r, err)
		return
	}

	sheet, _, err := s.readSheet(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	report, err := s.service.ValidateForSession(id, sheet)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleStage validates the file and starts loading it into staging.
// Progress is streamed from /progress and the outcome read from /result.
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := s.service.Session(id); err != nil {
		respondError(w, r, err)
		return
	}

	sheet, name, err := s.readSheet(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := logging.WithSession(r.Context(), id)
	if err := s.service.StartStage(ctx, id, name, sheet, parseBoolParam(r, "clear")); err != nil {
		respondError(w, r, err)
		return
	}

	info, err := s.service.Session(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// handleProgress streams staging progress as server-sent events. The event
// ID is the number of rows processed, so a reconnecting client can send
// lastEventId and skip what it has seen.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	lastEventID := -1
	v := r.URL.Query().Get("lastEventId")
	if v == "" {
		v = r.Header.Get("Last-Event-ID")
	}
	if n, err := strconv.Atoi(v); err == nil {
		lastEventID = n
	}

	progressCh, err := s.service.SubscribeProgress(sessionID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	streamProgress(w, flusher.Flush, progressCh, lastEventID, r.Context().Done())
}

// streamProgress writes one event per progress update until ch closes or
// done fires. Updates at or below lastEventID rows are skipped.
func streamProgress(w io.Writer, flush func(), ch <-chan core.Progress, lastEventID int, done <-chan struct{}) {
	for {
		select {
		case progress, ok := <-ch:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flush()
				return
			}

			if progress.Current <= lastEventID {
				continue
			}
			lastEventID = progress.Current

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Current, data)
			flush()

		case <-done:
			return
		}
	}
}

func (s *Server) handleCancelStage(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelStage(sessionID(r)); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleStageResult waits for the running stage and returns its LoadResult.
func (s *Server) handleStageResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.StageResult(r.Context(), sessionID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := s.service.ReconcileSession(r.Context(), sessionID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DiffResponse{Summary: core.Summarize(diff), Entries: diff})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	req, err := decodeApply(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.ApplySession(r.Context(), sessionID(r), req.IDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStagingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.StagingStatus(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleClearStaging(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearStaging(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshIdentifiers(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.RefreshIdentifierIndex(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) handleListIdentifiers(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", core.DefaultIdentifierLimit)
	ids, err := s.service.ListIdentifiers(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}
