package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"segtransfer/internal/client"
	"segtransfer/internal/config"
	"segtransfer/internal/filesystem"
	"segtransfer/internal/fragment"
	"segtransfer/internal/logging"
	"segtransfer/internal/metrics"
	"segtransfer/internal/session"
)

// Server is the browser-facing front end: a small JSON API to start
// transfers plus a websocket feed of live transfer events.
type Server struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	hub     *Hub

	// baseCtx scopes background transfers to the server's lifetime, so
	// shutdown cancels fetches that outlive their HTTP request.
	baseCtx context.Context
}

// New creates the web front end.
func New(cfg *config.Config, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		metrics: m,
		hub:     NewHub(),
	}
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx

	if err := filesystem.EnsureDirectoryExists(s.cfg.StorageDir); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    s.cfg.WebAddress,
		Handler: s.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		s.hub.Close()
	}()

	slog.Info("Web front end listening",
		"address", s.cfg.WebAddress,
		"server_address", s.cfg.ServerAddress)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Routes builds the HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/request-file", s.handleRequestFile)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

type fileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Segments int    `json:"segments"`
}

// handleFiles lists servable files with their segment counts.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := filesystem.ListFiles(s.cfg.StorageDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{
			Name:     f.Name,
			Size:     f.Size,
			Segments: fragment.Count(f.Size, s.cfg.SegmentSize),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleUpload stores an uploaded file into the storage directory so
// it becomes servable.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadMiB<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if err := filesystem.ValidateFilename(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	if _, err := filesystem.SaveDownload(s.cfg.StorageDir, header.Filename, data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("File uploaded", "filename", header.Filename, "size", len(data))
	writeJSON(w, http.StatusCreated, fileEntry{
		Name:     header.Filename,
		Size:     int64(len(data)),
		Segments: fragment.Count(int64(len(data)), s.cfg.SegmentSize),
	})
}

type connectRequest struct {
	Address string `json:"address"`
}

// handleConnect verifies the transfer server is reachable.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := *s.cfg
	if req.Address != "" {
		cfg.ServerAddress = req.Address
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.ConnectTimeout)
	defer cancel()

	if err := client.New(&cfg, nil).CheckConnection(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"connected": false,
			"address":   cfg.ServerAddress,
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"address":   cfg.ServerAddress,
	})
}

type requestFileRequest struct {
	Filename         string   `json:"filename"`
	ErrorProbability *float64 `json:"error_probability"`
}

// handleRequestFile starts a transfer in the background. Progress goes
// out over the websocket feed tagged with the returned transfer id.
func (s *Server) handleRequestFile(w http.ResponseWriter, r *http.Request) {
	var req requestFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := filesystem.ValidateFilename(req.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ErrorProbability != nil && (*req.ErrorProbability < 0 || *req.ErrorProbability > 1) {
		writeError(w, http.StatusBadRequest, "error_probability must be between 0.0 and 1.0")
		return
	}

	cfg := *s.cfg
	if req.ErrorProbability != nil {
		cfg.ErrorProbability = *req.ErrorProbability
	}

	transferID := uuid.NewString()
	sink := session.MultiSink(
		s.eventSink(transferID),
		s.metrics.Sink(),
		logging.SessionSink("web"),
	)

	// The fetch outlives the HTTP request but not the server
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		c := client.New(&cfg, sink)
		if _, err := c.Fetch(ctx, req.Filename); err != nil {
			// Dial and save failures never reach the session event
			// stream, so report them here
			s.hub.Broadcast(transferEvent{
				TransferID: transferID,
				Kind:       "complete",
				Filename:   req.Filename,
				Success:    false,
				Reason:     err.Error(),
			})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"transfer_id":       transferID,
		"filename":          req.Filename,
		"error_probability": cfg.ErrorProbability,
	})
}

// transferEvent is the websocket representation of a session event.
type transferEvent struct {
	TransferID     string `json:"transfer_id"`
	Kind           string `json:"kind"`
	Filename       string `json:"filename,omitempty"`
	TotalSegments  int    `json:"total_segments,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	SeqNum         int    `json:"seq_num"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
	ErrorSimulated bool   `json:"error_simulated,omitempty"`
	Success        bool   `json:"success"`
	Reason         string `json:"reason,omitempty"`
}

// eventSink translates session events into websocket broadcasts.
func (s *Server) eventSink(transferID string) session.Sink {
	return func(ev session.Event) {
		switch e := ev.(type) {
		case session.TransferStart:
			s.hub.Broadcast(transferEvent{
				TransferID:    transferID,
				Kind:          "start",
				Filename:      e.Filename,
				TotalSegments: e.TotalSegments,
				FileSize:      e.FileSize,
			})
		case session.SegmentStatus:
			s.hub.Broadcast(transferEvent{
				TransferID:     transferID,
				Kind:           "segment",
				TotalSegments:  e.TotalSegments,
				SeqNum:         e.SeqNum,
				Status:         string(e.Status),
				Message:        e.Message,
				ErrorSimulated: e.ErrorSimulated,
			})
		case session.TransferComplete:
			s.hub.Broadcast(transferEvent{
				TransferID:    transferID,
				Kind:          "complete",
				Filename:      e.Filename,
				TotalSegments: e.TotalSegments,
				Success:       e.Success,
				Reason:        e.Reason,
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
