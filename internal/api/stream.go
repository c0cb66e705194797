package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/dunamismax/slideflow/internal/domain"
)

// writeStreamCORS attaches the cross-origin headers that range-capable
// playback from a separate origin needs. They go on every streaming-path
// response, success or failure.
func writeStreamCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Content-Type, Authorization")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
}

func (s *Server) handleStreamPreflight(w http.ResponseWriter, _ *http.Request) {
	writeStreamCORS(w)
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

// handleStream serves a completed job's artifact with byte-range semantics.
// Auth is the URL-embedded playback token, not the Authorization header.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	writeStreamCORS(w)

	jobID := r.PathValue("id")
	tok := r.URL.Query().Get("token")
	if tok == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "playback token required"})
		return
	}

	tokenJobID, userID, err := s.tokens.Verify(tok)
	if err != nil || tokenJobID != jobID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		return
	}

	job, found, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "slideshow not found"})
		return
	}

	owned, err := s.albums.AlbumOwned(r.Context(), job.AlbumID, userID)
	if err != nil {
		s.logger.Printf("album ownership check failed album_id=%s err=%v", job.AlbumID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load album"})
		return
	}
	if !owned {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "slideshow not found"})
		return
	}

	if job.Status != domain.JobStatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "slideshow is not ready for playback"})
		return
	}

	reader, size, err := s.storage.Open(r.Context(), job.Artifact.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "video file not found"})
			return
		}
		s.logger.Printf("open artifact failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to open video"})
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-cache")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, reader); err != nil {
			s.logger.Printf("stream copy failed job_id=%s err=%v", jobID, err)
		}
		s.metrics.streamedBytes.Add(float64(size))
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeJSON(w, http.StatusRequestedRangeNotSatisfiable, map[string]string{"error": err.Error()})
		return
	}

	if _, err := reader.Seek(start, io.SeekStart); err != nil {
		s.logger.Printf("seek failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read video"})
		return
	}

	chunk := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(chunk, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, reader, chunk); err != nil {
		s.logger.Printf("range copy failed job_id=%s err=%v", jobID, err)
	}
	s.metrics.streamedBytes.Add(float64(chunk))
}

// parseRange understands the single-span form bytes=start-end. start is
// required; end defaults to the last byte.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges are not supported")
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || strings.TrimSpace(startStr) == "" {
		return 0, 0, fmt.Errorf("malformed range")
	}

	start, err = strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start")
	}

	end = size - 1
	if trimmed := strings.TrimSpace(endStr); trimmed != "" {
		end, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range end")
		}
	}

	if start >= size || end >= size || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}
	return start, end, nil
}
