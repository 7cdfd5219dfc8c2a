package http

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/flurbudurbur/Gramsight/internal/config"
	"github.com/flurbudurbur/Gramsight/internal/logstream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

const streamWriteTimeout = 5 * time.Second

var (
	redactKeyValue = regexp.MustCompile(`(?i)\b(apikey|api_key|passkey|password|access_token|token|session_id)=([^\s&"]+)`)
	redactJSON     = regexp.MustCompile(`(?i)"(apikey|api_key|passkey|password|access_token|token|session_id|session_data)":"[^"]*"`)
)

type logFile struct {
	Name      string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Size      string    `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LogfilesResponse struct {
	Files []logFile `json:"files"`
	Count int       `json:"count"`
}

type logsHandler struct {
	cfg *config.AppConfig

	log  zerolog.Logger
	logs *logstream.Broadcaster
}

func newLogsHandler(cfg *config.AppConfig) *logsHandler {
	return &logsHandler{cfg: cfg, log: zerolog.Nop()}
}

// withStream enables the live websocket stream fed by b.
func (h *logsHandler) withStream(log zerolog.Logger, b *logstream.Broadcaster) *logsHandler {
	h.log = log
	h.logs = b
	return h
}

func (h *logsHandler) Routes(r chi.Router) {
	r.Get("/files", h.files)
	r.Get("/files/{logFile}", h.downloadFile)

	if h.logs != nil {
		r.Get("/stream", h.stream)
	}
}

func (h *logsHandler) logDir() string {
	return h.cfg.Snapshot().Logging.Path
}

func (h *logsHandler) files(w http.ResponseWriter, r *http.Request) {
	resp := LogfilesResponse{Files: []logFile{}}

	dir := h.logDir()
	if dir == "" {
		render.JSON(w, r, resp)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		render.JSON(w, r, resp)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		resp.Files = append(resp.Files, logFile{
			Name:      entry.Name(),
			SizeBytes: info.Size(),
			Size:      humanize.Bytes(uint64(info.Size())),
			UpdatedAt: info.ModTime(),
		})
	}
	resp.Count = len(resp.Files)

	render.JSON(w, r, resp)
}

func (h *logsHandler) downloadFile(w http.ResponseWriter, r *http.Request) {
	dir := h.logDir()
	if dir == "" {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{Message: "log file not found", Status: http.StatusNotFound})
		return
	}

	name := chi.URLParam(r, "logFile")
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".log") {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Message: "invalid file", Status: http.StatusBadRequest})
		return
	}

	sanitized, err := SanitizeLogFile(filepath.Join(dir, name))
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Message: err.Error(), Status: http.StatusInternalServerError})
		return
	}
	defer os.Remove(sanitized)

	f, err := os.Open(sanitized)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Message: err.Error(), Status: http.StatusInternalServerError})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// SanitizeLogFile writes a copy of the log at path with credentials and
// tokens replaced by REDACTED and returns the copy's path. The caller
// removes it.
func SanitizeLogFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	out := redactKeyValue.ReplaceAll(data, []byte("${1}=REDACTED"))
	out = redactJSON.ReplaceAll(out, []byte(`"${1}":"REDACTED"`))

	tmp, err := os.CreateTemp("", "sanitized-*.log")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := tmp.Write(out); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	return tmp.Name(), nil
}

// stream sends one websocket text frame per published log line until either
// side goes away. A client too slow to keep up is disconnected.
func (h *logsHandler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("log stream upgrade failed")
		return
	}
	defer conn.CloseNow()

	sub := h.logs.Subscribe()
	defer h.logs.Unsubscribe(sub)

	h.log.Debug().Int("observers", h.logs.Count()).Msg("log stream observer connected")

	// incoming frames are ignored, ctx ends when the client closes
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return

		case line, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "log stream fell behind")
				return
			}

			if err := writeLine(ctx, conn, line); err != nil {
				return
			}
		}
	}
}

func writeLine(ctx context.Context, conn *websocket.Conn, line logstream.Line) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(line.Text))
}
