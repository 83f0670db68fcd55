package web

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/delimload/internal/ingest"
	"github.com/JonMunkholm/delimload/internal/logging"
	"github.com/JonMunkholm/delimload/internal/web/templates"
)

// formOverhead is the room left above INGEST_MAX_FILE_SIZE for multipart
// boundaries and the job fields.
const formOverhead = 1 << 20

// eventInterval is how often the event stream polls ingest progress.
const eventInterval = 500 * time.Millisecond

const healthTimeout = 2 * time.Second

// handleHealth reports database reachability and ingest slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code, dbStatus := "ok", http.StatusOK, "ok"
	if err := s.docs.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health check: database unreachable", "error", err)
		status, code, dbStatus = "unavailable", http.StatusServiceUnavailable, "unreachable"
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"ingests":  s.service.Limiter().Status(),
	})
}

// handleStartIngest accepts a multipart upload with the file in "file" and
// optional job overrides in delimiter, id_column, encoding, uri_prefix and
// uri_suffix. The ingest runs in the background; the response carries its
// ID.
func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	// Parts up to maxSize stay in memory so the file outlives the request.
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, errFileTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile)
		return
	}
	if header.Size > maxSize {
		file.Close()
		s.respondError(w, r, errFileTooLarge)
		return
	}

	job := ingest.Job{
		Delimiter: r.FormValue("delimiter"),
		IDColumn:  r.FormValue("id_column"),
		Encoding:  r.FormValue("encoding"),
		URIPrefix: r.FormValue("uri_prefix"),
		URISuffix: r.FormValue("uri_suffix"),
	}

	// Start closes file.
	id, err := s.service.Start(r.Context(), ingest.Request{
		FileName: header.Filename,
		Body:     file,
		Size:     header.Size,
		Job:      job,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"ingest_id": id.String()})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.Status(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleIngestResult returns the Result of a finished ingest, or 202 with
// the current progress while it runs.
func (s *Server) handleIngestResult(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Result(id)
	if errors.Is(err, ingest.ErrIngestRunning) {
		p, serr := s.service.Status(id)
		if serr != nil {
			s.respondError(w, r, serr)
			return
		}
		writeJSON(w, http.StatusAccepted, p)
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleIngestEvents streams progress as server-sent events until the
// ingest finishes. Each "progress" event carries the percentage as its
// ID; the last event is "complete".
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.Status(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	// The stream outlives SERVER_WRITE_TIMEOUT.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	var last ingest.Progress
	first := true
	for {
		if first || p != last {
			event := "progress"
			if p.Phase.Done() {
				event = "complete"
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", p.Percent(), event, data)
			flusher.Flush()
			if p.Phase.Done() {
				return
			}
			last, first = p, false
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		p, err = s.service.Status(id)
		if err != nil {
			msg := ingest.MapError(err)
			data, _ := json.Marshal(ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			flusher.Flush()
			return
		}
	}
}

func (s *Server) handleCancelIngest(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.Cancel(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"ingest_id": id.String(), "status": "cancelling"})
}

func (s *Server) handleRollbackIngest(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	n, err := s.service.Rollback(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingest_id": id.String(), "deleted": n})
}

// handleFailedRows exports the rejected rows of a finished ingest as CSV.
func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Result(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="failed-rows-%s.csv"`, id))

	cw := csv.NewWriter(w)
	cw.Write([]string{"line", "reason", "text"})
	for _, fr := range res.FailedRows {
		cw.Write([]string{strconv.Itoa(fr.Line), fr.Reason, fr.Text})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.FromContext(r.Context()).Warn("failed rows export", "ingest_id", id, "error", err)
	}
}

// handleListIngests returns recent ingest summaries. ?limit= caps the
// count.
func (s *Server) handleListIngests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.docs.ListIngests(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleGetDocument returns the XML envelope stored under ?uri=.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.respondError(w, r, errMissingURI)
		return
	}

	doc, err := s.docs.Get(r.Context(), uri)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if doc.IngestID != uuid.Nil {
		w.Header().Set("X-Ingest-ID", doc.IngestID.String())
	}
	if !doc.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", doc.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	w.Write([]byte(doc.Content))
}

// handleIngestPage renders the HTML status page of an ingest.
func (s *Server) handleIngestPage(w http.ResponseWriter, r *http.Request) {
	id, err := ingestID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.service.Status(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// Nil while running.
	res, _ := s.service.Result(id)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.IngestStatus(p, res).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Warn("render ingest page", "ingest_id", id, "error", err)
	}
}

func ingestID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "ingestID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ingest.ErrInvalidID, raw)
	}
	return id, nil
}
