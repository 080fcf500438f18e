// Package collector is the remote end of the upload: it accepts finished
// recordings over HTTP, checks they decode as WAV, stores them on disk and
// indexes them in sqlite for listing and download.
package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/pocketmic/internal/buildinfo"
)

// UploadPath is where devices post recordings.
const UploadPath = "/audio/upload"

// Server handles uploads into Dir and indexes them in Store.
type Server struct {
	Dir      string
	Store    *Store
	MaxBytes int64
	Log      logrus.FieldLogger

	now func() time.Time
}

// NewServer stores uploads of at most maxBytes under dir.
func NewServer(dir string, store *Store, maxBytes int64, logger logrus.FieldLogger) *Server {
	return &Server{
		Dir:      dir,
		Store:    store,
		MaxBytes: maxBytes,
		Log:      logger.WithField("component", "collector"),
		now:      time.Now,
	}
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Info     *Info  `json:"info,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler returns the collector's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+UploadPath, s.handleUpload)
	mux.HandleFunc("GET /recordings", s.handleRecordings)
	mux.HandleFunc("GET /download/{filename}", s.handleDownload)
	mux.HandleFunc("GET /{$}", s.handleInfo)
	return mux
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	bi := buildinfo.Get()
	resp := map[string]any{
		"message":    "pocketmic collector",
		"status":     "active",
		"version":    bi.Version,
		"go_version": bi.GoVersion,
		"built_at":   bi.BuiltAt,
		"endpoints": map[string]string{
			"upload":     "POST " + UploadPath,
			"recordings": "GET /recordings",
			"download":   "GET /download/{filename}",
		},
	}
	if st, err := s.Store.Stats(); err == nil {
		resp["stats"] = st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := s.Log.WithField("remote", r.RemoteAddr)

	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "audio/wav" {
		writeJSON(w, http.StatusUnsupportedMediaType, uploadResponse{
			Message: "expected Content-Type audio/wav",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.WithField("limit", s.MaxBytes).Warn("upload rejected: too large")
			writeJSON(w, http.StatusRequestEntityTooLarge, uploadResponse{
				Message: fmt.Sprintf("upload exceeds %d bytes", s.MaxBytes),
			})
			return
		}
		log.WithError(err).Warn("upload read failed")
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: "read body", Error: err.Error()})
		return
	}

	info, err := Inspect(bytes.NewReader(body))
	if err != nil {
		log.WithError(err).WithField("size", len(body)).Warn("upload rejected")
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: "upload is not a valid wav file", Error: err.Error()})
		return
	}

	name, err := s.save(body)
	if err != nil {
		log.WithError(err).Error("save upload")
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Message: "failed to save the recording", Error: err.Error()})
		return
	}

	rec := &Recording{
		Filename:   name,
		Size:       int64(len(body)),
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		BitDepth:   info.BitDepth,
		DurationMS: info.DurationMS,
		Peak:       info.Peak,
		RMS:        info.RMS,
		RemoteAddr: r.RemoteAddr,
		CreatedAt:  s.now(),
	}
	if err := s.Store.Add(rec); err != nil {
		// The file is kept; Reindex picks it up on the next start.
		log.WithError(err).WithField("file", name).Error("index upload")
	}

	log.WithFields(logrus.Fields{
		"file":     name,
		"size":     len(body),
		"duration": info.Duration.String(),
		"rate":     info.SampleRate,
	}).Info("recording received")

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		Message:  "recording received",
		Filename: name,
		Size:     int64(len(body)),
		Info:     &info,
	})
}

// save writes body under a timestamped name, adding a counter on collision.
func (s *Server) save(body []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	stamp := s.now().UTC().Format("2006-01-02T15-04-05-000Z")
	for i := 0; i < 100; i++ {
		name := "recording-" + stamp + ".wav"
		if i > 0 {
			name = "recording-" + stamp + "-" + strconv.Itoa(i) + ".wav"
		}
		f, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(body); err != nil {
			f.Close()
			_ = os.Remove(f.Name())
			return "", err
		}
		return name, f.Close()
	}
	return "", fmt.Errorf("no free file name for %s", stamp)
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	recs, err := s.Store.List(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	type listed struct {
		Recording
		DownloadURL string `json:"download_url"`
	}
	out := make([]listed, len(recs))
	for i, rec := range recs {
		out[i] = listed{Recording: rec, DownloadURL: "/download/" + rec.Filename}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": out})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !validName(name) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid filename"})
		return
	}
	if _, err := s.Store.Get(name); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "recording not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "recording file missing"})
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// Reindex adds WAV files found in Dir that the index does not know yet and
// returns how many were added. Files that fail to decode are skipped.
func (s *Server) Reindex() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.wav"))
	if err != nil {
		return 0, err
	}

	added := 0
	for _, path := range matches {
		name := filepath.Base(path)
		if _, err := s.Store.Get(name); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return added, err
		}

		rec, err := s.inspectFile(path)
		if err != nil {
			s.Log.WithError(err).WithField("file", name).Warn("skipping unreadable recording")
			continue
		}
		if err := s.Store.Add(rec); err != nil {
			return added, fmt.Errorf("index %s: %w", name, err)
		}
		added++
	}
	return added, nil
}

func (s *Server) inspectFile(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	info, err := Inspect(f)
	if err != nil {
		return nil, err
	}
	return &Recording{
		Filename:   filepath.Base(path),
		Size:       st.Size(),
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		BitDepth:   info.BitDepth,
		DurationMS: info.DurationMS,
		Peak:       info.Peak,
		RMS:        info.RMS,
		CreatedAt:  st.ModTime(),
	}, nil
}

// validName accepts a bare .wav file name.
func validName(name string) bool {
	return name != "" &&
		filepath.Base(name) == name &&
		!strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`) &&
		strings.HasSuffix(name, ".wav")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
