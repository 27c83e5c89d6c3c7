package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

const maxSkipBody = 4 << 10

type skipRequest struct {
	URL string `json:"url"`
}

// skip handles POST /v1/skip. With no url it skips the longest-running
// site; with {"url": "..."} or ?url= it skips that site. It returns 200 with
// the targeted site, or 404 when nothing matching is in flight.
func (s *Server) skip(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no batch attached")
		return
	}
	target, err := parseSkipTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		task *crawler.SiteTask
		ok   bool
	)
	if target == "" {
		task, ok = s.ctrl.Skip()
	} else {
		task, ok = s.ctrl.SkipURL(target)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no matching site in flight")
		return
	}
	s.logger.Info("skip requested via API", zap.String("url", task.URL), zap.String("row", task.Key.String()))
	writeJSON(w, http.StatusOK, map[string]any{"skipped": s.toSiteDTO(task)})
}

func parseSkipTarget(r *http.Request) (string, error) {
	if q := strings.TrimSpace(r.URL.Query().Get("url")); q != "" {
		return q, nil
	}
	if r.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSkipBody))
	if err != nil {
		return "", errors.New("unreadable body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}
	var req skipRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", errors.New("invalid JSON")
	}
	return strings.TrimSpace(req.URL), nil
}

// stop handles POST /v1/stop. It returns 202 once the batch starts
// draining, or 409 when no batch is running.
func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no batch attached")
		return
	}
	if !s.ctrl.Stop() {
		writeError(w, http.StatusConflict, "no batch running")
		return
	}
	s.logger.Info("stop requested via API")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// getStats handles GET /v1/stats with the live tally and throttle state.
func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	stats := s.stats.Snapshot()
	if s.ctrl != nil {
		stats.Load = s.ctrl.Load()
		stats.InFlight = stats.Load.InFlight
	}
	if !stats.Done && !stats.StartedAt.IsZero() {
		stats.Elapsed = s.now().Sub(stats.StartedAt)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   stats,
		"found":   stats.Found(),
		"settled": stats.Completed(),
	})
}

// listSites handles GET /v1/sites, longest-running first.
func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no batch attached")
		return
	}
	running := s.ctrl.Running()
	sort.Slice(running, func(i, j int) bool {
		return running[i].StartedAt().Before(running[j].StartedAt())
	})
	out := make([]siteDTO, 0, len(running))
	for _, task := range running {
		out = append(out, s.toSiteDTO(task))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *Server) toSiteDTO(task *crawler.SiteTask) siteDTO {
	dto := siteDTO{
		URL:           task.URL,
		Row:           task.Key.String(),
		Attempts:      task.Attempts(),
		SkipRequested: task.SkipRequested(),
	}
	if started := task.StartedAt(); !started.IsZero() {
		dto.StartedAt = &started
		dto.RunningMs = task.Elapsed(s.now()).Milliseconds()
	}
	return dto
}

type siteDTO struct {
	URL           string     `json:"url"`
	Row           string     `json:"row"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	RunningMs     int64      `json:"running_ms"`
	Attempts      int        `json:"attempts"`
	SkipRequested bool       `json:"skip_requested"`
}
