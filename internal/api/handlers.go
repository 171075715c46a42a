package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/internal/report"
	"github.com/user/site-crawler/internal/storage"
	"github.com/user/site-crawler/internal/usecase"
)

type crawlResponse struct {
	Message string `json:"message"`
	*domain.RunResult
}

type reportResponse struct {
	TotalURLs       int              `json:"total_urls"`
	ActiveURLs      int              `json:"active_urls"`
	InactiveURLs    int              `json:"inactive_urls"`
	AvgResponseTime float64          `json:"avg_response_time"`
	ErrorRate       string           `json:"error_rate"`
	LastCrawl       *time.Time       `json:"last_crawl"`
	ByStatus        map[string]int   `json:"by_status"`
	URLs            []report.URLStat `json:"urls,omitempty"`
}

func (s *Server) handleCrawlRequest(w http.ResponseWriter, r *http.Request) {
	req, err := parseRunRequest(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StartURL == "" {
		s.respondWithError(w, http.StatusBadRequest, "URL parameter is required")
		return
	}

	res, err := s.deps.Runner.Run(r.Context(), req)
	switch {
	case errors.Is(err, usecase.ErrInvalidStartURL):
		s.respondWithError(w, http.StatusBadRequest, "Invalid URL: "+req.StartURL)
		return
	case errors.Is(err, usecase.ErrCrawlInProgress):
		s.respondWithError(w, http.StatusConflict, "A crawl of this site is already running")
		return
	case err != nil:
		s.logger.Error("crawl failed", zap.String("url", req.StartURL), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Crawl failed")
		return
	}

	s.respondWithJSON(w, http.StatusOK, crawlResponse{
		Message:   "Crawl completed for " + res.StartURL,
		RunResult: res,
	})
}

// parseRunRequest reads a JSON body on POST and lets query parameters fill
// or override its fields.
func parseRunRequest(r *http.Request) (domain.RunRequest, error) {
	var req domain.RunRequest
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return req, errors.New("invalid request body")
			}
		}
	}

	q := r.URL.Query()
	if v := q.Get("url"); v != "" {
		req.StartURL = v
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"max_pages", &req.MaxPages},
		{"commit_batch", &req.CommitBatch},
		{"workers", &req.Workers},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, errors.New(p.name + " must be a positive integer")
		}
		*p.dst = n
	}
	if v := q.Get("max_requeue"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, errors.New("max_requeue must be a non-negative integer")
		}
		req.MaxRequeue = &n
	}
	if v := q.Get("probes"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.New("probes must be a boolean")
		}
		req.Probes = &b
	}
	return req, nil
}

func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	pages, err := s.deps.Pages.ListPages(r.Context())
	if err != nil {
		s.logger.Error("failed to list urls", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve urls")
		return
	}
	if pages == nil {
		pages = []domain.PageRecord{}
	}
	s.respondWithJSON(w, http.StatusOK, pages)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Reporter.Report(r.Context())
	if err != nil {
		s.logger.Error("failed to build report", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not build report")
		return
	}

	resp := reportResponse{
		TotalURLs:       rep.TotalURLs,
		ActiveURLs:      rep.ActiveURLs,
		InactiveURLs:    rep.InactiveURLs,
		AvgResponseTime: report.Round3(rep.AvgResponseTime),
		ErrorRate:       rep.ErrorRatePercent(),
		LastCrawl:       rep.LastCrawl,
		ByStatus:        rep.ByStatus,
	}
	if withURLs, _ := strconv.ParseBool(r.URL.Query().Get("urls")); withURLs {
		resp.URLs = rep.URLs
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	urlParam := r.URL.Query().Get("url")
	if urlParam == "" {
		s.respondWithError(w, http.StatusBadRequest, "URL query parameter is required")
		return
	}

	page, err := s.deps.Pages.GetPage(r.Context(), urlParam)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "URL status not found")
			return
		}
		s.logger.Error("failed to get url status", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve status")
		return
	}

	s.respondWithJSON(w, http.StatusOK, page)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	urlParam := r.URL.Query().Get("url")
	if urlParam == "" {
		s.respondWithError(w, http.StatusBadRequest, "URL query parameter is required")
		return
	}

	status, err := s.deps.Runner.LastRun(r.Context(), urlParam)
	switch {
	case errors.Is(err, usecase.ErrInvalidStartURL):
		s.respondWithError(w, http.StatusBadRequest, "Invalid URL: "+urlParam)
	case errors.Is(err, storage.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, "No run recorded for this site")
	case err != nil:
		s.logger.Error("failed to get run status", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve run status")
	default:
		s.respondWithJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string, len(s.deps.Health))
	isHealthy := true
	for name, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			isHealthy = false
			s.logger.Error("health check failed", zap.String("component", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !isHealthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
