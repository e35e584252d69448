package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/CTAG07/Frond/pkg/templating"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

// TemplateAPI exposes how the preview server picks and assembles templates
// for a path without calling the site.
type TemplateAPI struct {
	root     fs.FS
	resolver *templating.Resolver
	inliner  *templating.Inliner
	logger   *slog.Logger
}

// Candidate is one entry of the cascade for a path.
type Candidate struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// CandidatesReport lists the cascade for a path in lookup order.
type CandidatesReport struct {
	Path       string      `json:"path"`
	Kind       string      `json:"kind"`
	Segments   []string    `json:"segments"`
	Candidates []Candidate `json:"candidates"`
}

// ResolveReport describes the template a page request would use.
type ResolveReport struct {
	Path     string  `json:"path"`
	Template *string `json:"template"`
	Includes bool    `json:"includes"`
	Bytes    int     `json:"bytes"`
	Size     string  `json:"size"`
	Content  string  `json:"content,omitempty"`
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(root fs.FS, config templating.Config, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		root:     root,
		resolver: templating.NewResolver(logger, root),
		inliner:  templating.NewInliner(logger, root, config),
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(r chi.Router) {
	r.Get("/api/templates/candidates", t.handleCandidates)
	r.Get("/api/templates/resolve", t.handleResolve)
}

// Candidates lists the cascade for urlPath and marks which files exist.
func (t *TemplateAPI) Candidates(urlPath string) (*CandidatesReport, error) {
	segments := templating.Normalize(urlPath)
	if err := templating.ValidateSegments(segments); err != nil {
		return nil, err
	}
	kind, err := preview.Classify(t.root, urlPath)
	if err != nil {
		return nil, err
	}
	report := &CandidatesReport{Path: urlPath, Kind: kind.String(), Segments: segments}
	for _, name := range templating.Candidates(segments) {
		info, err := fs.Stat(t.root, name)
		report.Candidates = append(report.Candidates, Candidate{
			Name:   name,
			Exists: err == nil && info.Mode().IsRegular(),
		})
	}
	return report, nil
}

func (t *TemplateAPI) handleCandidates(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Query().Get("path")
	report, err := t.Candidates(urlPath)
	if err != nil {
		respondWithError(w, preview.StatusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

func (t *TemplateAPI) handleResolve(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Query().Get("path")
	ctx := r.Context()

	tmpl, err := t.resolver.Resolve(ctx, templating.Normalize(urlPath))
	if err != nil {
		respondWithError(w, preview.StatusFor(err), err.Error())
		return
	}
	report := ResolveReport{Path: urlPath}
	if tmpl == nil {
		respondWithJSON(w, http.StatusOK, report)
		return
	}

	report.Template = &tmpl.Name
	report.Includes = templating.HasIncludes(tmpl.Content)
	content, err := t.inliner.Inline(ctx, tmpl.Content)
	if err != nil {
		var ie *templating.IncludeError
		if errors.As(err, &ie) {
			t.logger.Debug("Template assembly failed", "template", tmpl.Name, "include", ie.Name, "chain", ie.Chain)
		}
		respondWithError(w, preview.StatusFor(err), fmt.Sprintf("%s: %v", tmpl.Name, err))
		return
	}
	report.Bytes = len(content)
	report.Size = humanize.Bytes(uint64(len(content)))
	if r.URL.Query().Get("content") == "1" {
		report.Content = content
	}
	respondWithJSON(w, http.StatusOK, report)
}
