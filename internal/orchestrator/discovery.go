package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/vosbek/repoindex/internal/apperrors"
	"github.com/vosbek/repoindex/internal/models"
)

// Discover walks job.RepositoryRoot and returns the deterministic
// processing_order of spec.md §4.E's Discovery subsection: include
// patterns then exclude patterns (exclude wins), sorted by absolute
// path. For INCREMENTAL jobs only, unless ForceReindex is set, files
// already COMPLETED for this repository root are omitted. Grounded on
// the teacher's pkg/rules/loaders.go filepath.Walk-plus-extension-
// filter idiom.
func (o *Orchestrator) Discover(ctx context.Context, job *models.Job) ([]string, error) {
	var matched []string
	err := filepath.Walk(job.RepositoryRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(job.RepositoryRoot, path)
		if relErr != nil {
			rel = path
		}
		if len(job.IncludePatterns) > 0 && !matchGlob(rel, job.IncludePatterns) {
			return nil
		}
		if matchGlob(rel, job.ExcludePatterns) {
			return nil
		}
		matched = append(matched, path)
		return nil
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInternal, "Discover", "walking repository root", err)
	}
	sort.Strings(matched)

	if job.Type != models.JobTypeIncremental || job.ForceReindex {
		return matched, nil
	}

	order := make([]string, 0, len(matched))
	for _, path := range matched {
		if prior, err := o.store.GetCompletedFileState(ctx, job.RepositoryRoot, path); err == nil && prior != nil {
			continue
		}
		order = append(order, path)
	}
	return order, nil
}

// matchGlob reports whether path (or its base name, for patterns with
// no directory component) matches any of patterns via stdlib
// path/filepath glob semantics. No example repo in the pack pulls in
// a third-party glob library for path filtering (the one indirect
// reference, gobwas/glob, is a transitive dependency of something
// else and is never imported directly), so this stays on
// filepath.Match like the teacher's own config/rule loaders.
func matchGlob(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
