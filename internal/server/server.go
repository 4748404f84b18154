// Package server exposes the diagnostic over HTTP: an HTML report
// endpoint, a websocket that streams the transcript while the run
// executes, and a health check.
package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/pipeline"
	"github.com/hakim/connprobe/internal/probe"
	"github.com/hakim/connprobe/internal/report"
	"github.com/hakim/connprobe/internal/transcript"
)

// Server serves diagnostics for targets named in the query string.
type Server struct {
	defaults models.ProbeTarget
	opts     pipeline.Options
	notify   *pipeline.NotifyConfig
	upgrader websocket.Upgrader

	// writeTimeout bounds each websocket frame so a client that stops
	// reading cannot hold up the run.
	writeTimeout time.Duration
}

// DefaultWriteTimeout bounds each websocket frame of the stream endpoint.
const DefaultWriteTimeout = 5 * time.Second

// New returns a Server. defaults supplies the target when the query omits
// it; opts is copied for every run and must not carry a Transcript.
func New(defaults models.ProbeTarget, opts pipeline.Options, notify *pipeline.NotifyConfig) *Server {
	opts.Transcript = nil
	return &Server{
		defaults: defaults,
		opts:     opts,
		notify:   notify,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: DefaultWriteTimeout,
	}
}

// Handler returns the routed, access-logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/connectivity", s.handleConnectivity)
	mux.HandleFunc("GET /api/connectivity/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return accessLog(mux)
}

// targetFromQuery reads server and port from the query, falling back to
// the defaults. A port that is not a number falls back to 993.
func (s *Server) targetFromQuery(r *http.Request) models.ProbeTarget {
	t := s.defaults
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("server")); v != "" {
		t.Host = v
	}
	if v := strings.TrimSpace(q.Get("port")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			port = models.DefaultPort
		}
		t.Port = port
	}
	return t
}

func (s *Server) run(r *http.Request, rec *transcript.Transcript) (*pipeline.Result, error) {
	opts := s.opts
	opts.Transcript = rec

	res, err := pipeline.RunDiagnostic(r.Context(), s.targetFromQuery(r), opts)
	if notifyErr := s.notify.SendCompletion(res); notifyErr != nil {
		log.Warn().Err(notifyErr).Str("run_id", res.RunID).Msg("webhook notification failed")
	}
	return res, err
}

// handleConnectivity runs one diagnostic and renders the HTML report:
// 200 on success, 403 for an out-of-scope target, 500 for any other
// failure.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	res, err := s.run(r, nil)

	status := http.StatusOK
	switch {
	case err == nil:
	case probe.KindOf(err) == probe.ScopeViolation:
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := report.WriteHTML(w, res.Record()); err != nil {
		log.Error().Err(err).Str("run_id", res.RunID).Msg("rendering report")
	}
}

// StreamMessage is one websocket frame of /api/connectivity/stream.
type StreamMessage struct {
	Type      string    `json:"type"` // "line" or "result"
	At        time.Time `json:"at,omitempty"`
	Line      string    `json:"line,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Success   bool      `json:"success,omitempty"`
	State     string    `json:"state,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// handleStream upgrades to a websocket and sends every transcript line as
// it is recorded, then a final result message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer c.Close()

	// Lines are delivered synchronously from the run goroutine, so this is
	// the only writer until the run returns.
	out := &frameWriter{conn: c, timeout: s.writeTimeout}
	send := out.send

	rec := transcript.New()
	rec.Subscribe(func(e transcript.Entry) {
		send(StreamMessage{Type: "line", At: e.At, Line: e.Text})
	})

	res, runErr := s.run(r, rec)

	final := StreamMessage{
		Type:    "result",
		RunID:   res.RunID,
		Success: res.Success(),
		State:   string(res.State),
	}
	if runErr != nil {
		final.ErrorKind = string(probe.KindOf(runErr))
		final.Error = runErr.Error()
	}
	send(final)

	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// jsonConn is the part of *websocket.Conn the stream writes through.
type jsonConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
}

// frameWriter sends stream messages, each under its own write deadline.
// After the first failed write every later message is dropped.
type frameWriter struct {
	conn    jsonConn
	timeout time.Duration
	broken  bool
}

func (f *frameWriter) send(msg StreamMessage) {
	if f.broken {
		return
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(f.timeout))
	if err := f.conn.WriteJSON(msg); err != nil {
		f.broken = true
		log.Debug().Err(err).Msg("ws client gone")
	}
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
