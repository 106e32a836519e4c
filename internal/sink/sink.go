// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sink writes digests to timestamped files and optionally archives
// them to S3.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-digest/pkg/types"
)

const (
	fileTimeLayout  = "2006-01-02_15-04-05"
	maxNameAttempts = 100
)

// Archiver uploads a written file and returns its remote location.
type Archiver interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Report is the machine-readable run summary written beside each digest.
type Report struct {
	RunID       string             `yaml:"run_id"`
	Subject     string             `yaml:"subject"`
	Query       types.Query        `yaml:"query"`
	GeneratedAt time.Time          `yaml:"generated_at"`
	Stats       types.SubjectStats `yaml:"stats"`
	Papers      []ReportPaper      `yaml:"papers"`
}

// ReportPaper records one paper's delivery outcome.
type ReportPaper struct {
	ID             string           `yaml:"id"`
	Title          string           `yaml:"title"`
	Link           string           `yaml:"link,omitempty"`
	Provenance     types.Provenance `yaml:"provenance"`
	FallbackReason string           `yaml:"fallback_reason,omitempty"`
}

// ReportPapers builds the report paper list from entries.
func ReportPapers(entries []types.Entry) []ReportPaper {
	out := make([]ReportPaper, len(entries))
	for i, e := range entries {
		out[i] = ReportPaper{
			ID:             e.Paper.ID,
			Title:          e.Paper.Title,
			Link:           e.Paper.Link,
			Provenance:     e.Summary.Provenance,
			FallbackReason: e.Summary.FallbackReason,
		}
	}
	return out
}

// Written describes the files produced by one Write.
type Written struct {
	Path       string
	ReportPath string
	ArchiveURL string
}

// FileSink writes one Markdown digest and one YAML report per subject per
// run into Dir. Existing files are never overwritten or appended to.
type FileSink struct {
	Dir           string
	RetentionDays int
	Now           func() time.Time
	Archiver      Archiver
	Logger        zerolog.Logger
}

// New returns a FileSink for cfg.Dir using the wall clock.
func New(cfg types.OutputConfig, archiver Archiver, logger zerolog.Logger) *FileSink {
	dir := cfg.Dir
	if dir == "" {
		dir = "output"
	}
	return &FileSink{
		Dir:           dir,
		RetentionDays: cfg.RetentionDays,
		Now:           time.Now,
		Archiver:      archiver,
		Logger:        logger.With().Str("component", "sink").Logger(),
	}
}

// Write stores markdown as <subject>_<timestamp>.md, adding a numeric
// suffix when the name is taken, and writes report beside it with a .yaml
// extension. Archive and pruning failures are logged and do not fail the
// write.
func (s *FileSink) Write(ctx context.Context, subject, markdown string, report Report) (Written, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Written{}, fmt.Errorf("creating output directory: %w", err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	written := now()
	base := Slug(subject) + "_" + written.Format(fileTimeLayout)

	f, path, err := createExclusive(s.Dir, base, ".md")
	if err != nil {
		return Written{}, err
	}
	if _, err := f.WriteString(markdown); err != nil {
		f.Close()
		return Written{}, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Written{}, fmt.Errorf("closing %s: %w", path, err)
	}

	out := Written{Path: path}

	reportPath := ReportPath(path)
	if err := writeReport(reportPath, report); err != nil {
		return out, err
	}
	out.ReportPath = reportPath

	if s.Archiver != nil {
		url, err := s.Archiver.Upload(ctx, path)
		if err != nil {
			s.Logger.Warn().Err(err).Str("path", path).Msg("archive upload failed")
		} else {
			out.ArchiveURL = url
		}
	}

	if s.RetentionDays > 0 {
		removed, err := s.Prune(written)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("pruning old digests failed")
		} else if removed > 0 {
			s.Logger.Info().Int("removed", removed).Int("retention_days", s.RetentionDays).Msg("old digests pruned")
		}
	}

	s.Logger.Info().Str("path", path).Msg("digest written")
	return out, nil
}

// Prune removes digests and reports in Dir last modified more than
// RetentionDays days before now and returns how many files it removed.
// Other files are left alone.
func (s *FileSink) Prune(now time.Time) (int, error) {
	if s.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(s.RetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, fmt.Errorf("reading output directory: %w", err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isOutputFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// DirStats summarizes the digests in an output directory.
type DirStats struct {
	Digests        int       `json:"digests" yaml:"digests"`
	Reports        int       `json:"reports" yaml:"reports"`
	Bytes          int64     `json:"bytes" yaml:"bytes"`
	Latest         string    `json:"latest,omitempty" yaml:"latest,omitempty"`
	LatestModified time.Time `json:"latest_modified,omitempty" yaml:"latest_modified,omitempty"`
}

// Stats counts the digests and reports in dir and finds the most recently
// modified digest. A missing directory has empty stats.
func Stats(dir string) (DirStats, error) {
	var st DirStats
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading output directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isOutputFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return st, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		st.Bytes += info.Size()
		if filepath.Ext(e.Name()) == ".yaml" {
			st.Reports++
			continue
		}
		st.Digests++
		if st.Latest == "" || info.ModTime().After(st.LatestModified) {
			st.Latest = filepath.Join(dir, e.Name())
			st.LatestModified = info.ModTime()
		}
	}
	return st, nil
}

// ReportPath returns the report written beside the digest at path.
func ReportPath(path string) string {
	return strings.TrimSuffix(path, ".md") + ".yaml"
}

func isOutputFile(name string) bool {
	switch filepath.Ext(name) {
	case ".md", ".yaml":
		return true
	}
	return false
}

// createExclusive opens dir/base+ext for writing, failing if it exists,
// and falls back to base-2, base-3, ... on collision.
func createExclusive(dir, base, ext string) (*os.File, string, error) {
	for i := 1; i <= maxNameAttempts; i++ {
		name := base + ext
		if i > 1 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s%s in %s", base, ext, dir)
}

func writeReport(path string, report Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// ReadReport loads a report written by Write.
func ReadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("reading report %s: %w", path, err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return r, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Slug makes subject safe for a file name. An empty subject becomes "digest".
func Slug(subject string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(subject), "-"), "-.")
	if s == "" {
		return "digest"
	}
	return s
}
