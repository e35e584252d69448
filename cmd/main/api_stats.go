package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS stats_path (
    path          TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    total_hits    INTEGER NOT NULL DEFAULT 1,
    error_hits    INTEGER NOT NULL DEFAULT 0,
    total_bytes   INTEGER NOT NULL DEFAULT 0,
    last_status   INTEGER NOT NULL,
    last_template TEXT NOT NULL DEFAULT '',
    first_seen    DATETIME NOT NULL,
    last_seen     DATETIME NOT NULL
);
`

const statsWriteTimeout = 2 * time.Second

// PathStats is one row of the per-path statistics.
type PathStats struct {
	Path         string    `json:"path"`
	Kind         string    `json:"kind"`
	TotalHits    int64     `json:"total_hits"`
	ErrorHits    int64     `json:"error_hits"`
	TotalBytes   int64     `json:"total_bytes"`
	LastStatus   int       `json:"last_status"`
	LastTemplate string    `json:"last_template"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRequests int64  `json:"total_requests"`
	ErrorRequests int64  `json:"error_requests"`
	UniquePaths   int64  `json:"unique_paths"`
	TotalBytes    int64  `json:"total_bytes"`
	TotalSize     string `json:"total_size"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *StatsAPI) RegisterRoutes(r chi.Router) {
	r.Get("/api/stats/summary", s.handleSummary)
	r.Get("/api/stats/top_paths", s.handleTopPaths)
}

// Observe records a routed preview request. It is registered as a
// preview.Handler observer.
func (s *StatsAPI) Observe(ctx context.Context, o preview.Outcome) {
	if err := s.Record(ctx, o); err != nil {
		s.logger.Warn("Failed to record request stats", "path", o.Path, "error", err)
	}
}

// Record upserts the row for o.Path.
func (s *StatsAPI) Record(ctx context.Context, o preview.Outcome) error {
	// The request may already be finished; the write should not be.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsWriteTimeout)
	defer cancel()

	now := s.now()
	errorHit := 0
	if o.Err != nil {
		errorHit = 1
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO stats_path (path, kind, error_hits, total_bytes, last_status, last_template, first_seen, last_seen)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(path) DO UPDATE SET
            kind = excluded.kind,
            total_hits = total_hits + 1,
            error_hits = error_hits + excluded.error_hits,
            total_bytes = total_bytes + excluded.total_bytes,
            last_status = excluded.last_status,
            last_template = excluded.last_template,
            last_seen = excluded.last_seen
    `, o.Path, o.Kind.String(), errorHit, o.Bytes, o.Status, o.Template, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert stats_path: %w", err)
	}
	return nil
}

// Summary totals every recorded path.
func (s *StatsAPI) Summary(ctx context.Context) (*GlobalStatsSummary, error) {
	var summary GlobalStatsSummary
	err := s.db.QueryRowContext(ctx, `
        SELECT COALESCE(SUM(total_hits), 0), COALESCE(SUM(error_hits), 0), COUNT(*), COALESCE(SUM(total_bytes), 0)
        FROM stats_path
    `).Scan(&summary.TotalRequests, &summary.ErrorRequests, &summary.UniquePaths, &summary.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise stats: %w", err)
	}
	summary.TotalSize = humanize.Bytes(uint64(summary.TotalBytes))
	return &summary, nil
}

// TopPaths returns the most requested paths, busiest first.
func (s *StatsAPI) TopPaths(ctx context.Context, limit int) ([]PathStats, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT path, kind, total_hits, error_hits, total_bytes, last_status, last_template, first_seen, last_seen
        FROM stats_path ORDER BY total_hits DESC, path ASC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top paths: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []PathStats{}
	for rows.Next() {
		var p PathStats
		if err = rows.Scan(&p.Path, &p.Kind, &p.TotalHits, &p.ErrorHits, &p.TotalBytes, &p.LastStatus, &p.LastTemplate, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan top paths: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopPaths(w http.ResponseWriter, r *http.Request) {
	results, err := s.TopPaths(r.Context(), queryInt(r, "limit", 100, 1000))
	if err != nil {
		s.logger.Error("Failed to query top paths", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}
