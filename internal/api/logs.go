package api

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/store"
)

// logPollInterval is how often the SSE tailer re-reads the log file and the
// job status while waiting for new output.
const logPollInterval = 200 * time.Millisecond

func (s *Server) handleGetJobLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job for log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	f, err := s.engine.Logs().Open(id)
	if err != nil {
		s.logger.Error("open log", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open log")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("stream log", "job_id", id, "error", err)
	}
}

func (s *Server) handleStreamJobLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for log stream", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	f, err := s.engine.Logs().Open(id)
	if err != nil {
		s.logger.Error("open log", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open log")
		return
	}
	defer f.Close()

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	// Tail the file from the beginning. The worker is the only writer and
	// only appends, so a plain read loop over the same fd sees every byte;
	// on EOF we wait for more unless the job has already resolved. The
	// terminal check happens after the EOF, never before, so output written
	// right before the job finished is always delivered.
	terminal := model.TerminalStatus(job.Status)
	reader := bufio.NewReader(f)
	var partial strings.Builder

	for {
		line, err := reader.ReadString('\n')
		partial.WriteString(line)

		if err == nil {
			if werr := writeSSEData(w, strings.TrimSuffix(partial.String(), "\n")); werr != nil {
				return // Write failed (e.g. client gone).
			}
			partial.Reset()
			if canFlush {
				flusher.Flush()
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			s.logger.Error("read log", "job_id", id, "error", err)
			return
		}

		if terminal {
			if partial.Len() > 0 {
				if werr := writeSSEData(w, partial.String()); werr != nil {
					return
				}
			}
			_ = writeSSEEvent(w, "done", "stream complete")
			if canFlush {
				flusher.Flush()
			}
			return
		}

		select {
		case <-r.Context().Done():
			return // Client disconnected.
		case <-time.After(logPollInterval):
		}

		job, err := s.store.GetJob(r.Context(), id)
		if err != nil {
			s.logger.Error("poll job status", "job_id", id, "error", err)
			return
		}
		// One more read pass after the terminal status lands, to drain the
		// tail the process wrote before it exited.
		terminal = model.TerminalStatus(job.Status)
	}
}

// writeSSEData writes a log line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, per the SSE spec.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
