package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkhub/inkhub/internal/metrics"
	"github.com/inkhub/inkhub/internal/store"
)

func (s *Server) handleHealthText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Evaluate(r.Context()))
}

func (s *Server) handlePutUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	if err := s.store.WriteAsset(id, data); err != nil {
		if errors.Is(err, store.ErrInvalidID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset id"})
			return
		}
		s.logger.Error().Err(err).Str("asset", id).Str("event", "api.upload_failed").Msg("asset write failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "write failed"})
		return
	}

	metrics.UploadAccepted(int64(len(data)))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, err := s.store.ReadAsset(id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, store.ErrInvalidID):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset id"})
		default:
			s.logger.Error().Err(err).Str("asset", id).Str("event", "api.asset_read_failed").Msg("asset read failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read failed"})
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleUnfurl(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return
	}
	writeJSON(w, http.StatusOK, s.resolver.Resolve(r.Context(), rawURL))
}

type roomInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	IsActive     bool      `json:"isActive"`
}

type roomsResponse struct {
	TotalRooms  int        `json:"totalRooms"`
	ActiveRooms int        `json:"activeRooms"`
	StorageUsed int64      `json:"storageUsed"`
	Rooms       []roomInfo `json:"rooms"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.store.ListRooms()
	if err != nil {
		s.logger.Error().Err(err).Str("event", "api.rooms_list_failed").Msg("room listing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}

	now := time.Now()
	resp := roomsResponse{
		TotalRooms:  len(entries),
		Rooms:       make([]roomInfo, 0, len(entries)),
		LastUpdated: now.UTC(),
	}
	for _, e := range entries {
		active := now.Sub(e.ModTime) < 24*time.Hour
		if active {
			resp.ActiveRooms++
		}
		resp.StorageUsed += e.Size
		resp.Rooms = append(resp.Rooms, roomInfo{
			Name:         e.ID,
			Size:         e.Size,
			LastModified: e.ModTime.UTC(),
			IsActive:     active,
		})
	}
	sort.Slice(resp.Rooms, func(i, j int) bool {
		return resp.Rooms[i].LastModified.After(resp.Rooms[j].LastModified)
	})
	writeJSON(w, http.StatusOK, resp)
}

type assetInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type assetsResponse struct {
	TotalAssets int         `json:"totalAssets"`
	StorageUsed int64       `json:"storageUsed"`
	Assets      []assetInfo `json:"assets"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.store.ListAssets()
	if err != nil {
		s.logger.Error().Err(err).Str("event", "api.assets_list_failed").Msg("asset listing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}

	resp := assetsResponse{
		TotalAssets: len(entries),
		Assets:      make([]assetInfo, 0, len(entries)),
		LastUpdated: time.Now().UTC(),
	}
	for _, e := range entries {
		resp.StorageUsed += e.Size
		resp.Assets = append(resp.Assets, assetInfo{
			Name:         e.ID,
			Size:         e.Size,
			LastModified: e.ModTime.UTC(),
		})
	}
	sort.Slice(resp.Assets, func(i, j int) bool {
		return resp.Assets[i].Size > resp.Assets[j].Size
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime": time.Since(s.start).Seconds(),
		"memoryUsage": map[string]any{
			"heapAllocBytes": ms.HeapAlloc,
			"heapSysBytes":   ms.HeapSys,
			"sysBytes":       ms.Sys,
			"numGC":          ms.NumGC,
		},
		"runtimeVersion":    runtime.Version(),
		"platform":          runtime.GOOS + "/" + runtime.GOARCH,
		"pid":               os.Getpid(),
		"activeConnections": s.engine.ActiveSessions(),
		"environment": map[string]any{
			"port":                 s.cfg.Port,
			"roomsDir":             s.cfg.RoomsDir,
			"assetsDir":            s.cfg.AssetsDir,
			"roomRetentionHours":   s.cfg.RoomRetention.Hours(),
			"assetRetentionHours":  s.cfg.AssetRetention.Hours(),
			"cleanupIntervalHours": s.cfg.CleanupInterval.Hours(),
			"cleanupEnabled":       s.cfg.CleanupEnabled,
			"logLevel":             s.cfg.LogLevel,
		},
		"lastUpdated": time.Now().UTC(),
	})
}
