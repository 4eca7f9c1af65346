package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notifyreplay/internal/archive"
	"notifyreplay/internal/replay"
	"notifyreplay/internal/types"
)

// replayResponse is returned by POST /v1/replays.
type replayResponse struct {
	Summary types.RunSummary `json:"summary"`
}

// HandleCreateReplay replays the archive in the request body.
//
// Query: destination (optional) overrides the URL recovered from each record.
// The body may be gzip or zstd encoded (Content-Encoding). The run uses the
// request context, so a client disconnect stops it between records.
func (s *Server) HandleCreateReplay(w http.ResponseWriter, r *http.Request) {
	destination := r.URL.Query().Get("destination")
	if destination != "" {
		if err := types.ValidateDestinationURL(destination); err != nil {
			Error(w, r, err)
			return
		}
	}

	enc, err := archive.ParseEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		Error(w, r, err)
		return
	}

	if !s.gate.TryAcquire(1) {
		Error(w, r, types.NewAppError(types.ErrCodeConflictReplayRunning, "another replay is in progress", nil))
		return
	}
	defer s.gate.Release(1)

	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	a, err := archive.Read(body, enc, s.maxBodyBytes)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			err = types.NewAppError(types.ErrCodeValidationArchiveSize, "request body is too large", err)
		}
		Error(w, r, err)
		return
	}

	logger := s.loggerFor(r)
	if destination == "" {
		logger.Warn("no destination given: notifications are posted to the URLs recovered from the archive")
	}
	logger.Info("replay accepted", "hits", len(a.Hits))

	summary, err := s.replayer.Replay(r.Context(), destination, a.Hits)
	if err != nil {
		s.writeRunError(w, r, summary, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: replayResponse{Summary: summary}})
}

// writeRunError reports a run that stopped early. The partial summary is
// attached so callers can see what was already sent.
func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, summary types.RunSummary, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		Error(w, r, err)
		return
	}

	details := map[string]any{"summary": summary}
	if appErr.Code.IsRecordError() {
		var recErr *replay.RecordError
		if errors.As(err, &recErr) {
			details["record"] = recErr.Index
		}
		s.loggerFor(r).Warn("replay stopped at a malformed record",
			"run_id", summary.RunID,
			"record", details["record"],
			"code", string(appErr.Code),
		)
	}
	Error(w, r, appErr.WithDetails(details))
}

// HandleListAttempts returns the ledger entries of a run.
func (s *Server) HandleListAttempts(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		JSON(w, r, http.StatusNotFound, APIErrorResponse{
			Error: ErrorDetail{
				Code:      "not_found",
				Message:   "delivery ledger is not configured",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	runID := chi.URLParam(r, "runID")
	attempts, err := s.attempts.ListByRun(r.Context(), runID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []types.DeliveryAttempt{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: attempts})
}
