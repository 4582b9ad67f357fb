package core

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gonntp/config"
	"gonntp/internal/fetch"
	"gonntp/internal/nzb"
	"gonntp/util"
)

// RetryManifest is written to the output directory when segments could
// not be fetched; it lists only those segments.
const RetryManifest = "retry.nzb"

// FetchMode downloads every file of an NZB manifest.
type FetchMode struct {
	base
	Manifest string // path to the .nzb file
	OutDir   string
	Options  fetch.Options
}

func buildFetch(cfg *config.Config, b base, deps Deps, manifest, outDir string) *FetchMode {
	opts := fetch.OptionsFromConfig(cfg.Fetch)
	opts.Logger = b.logger
	opts.Metrics = deps.Metrics
	return &FetchMode{base: b, Manifest: manifest, OutDir: outDir, Options: opts}
}

// Run parses the manifest and fetches it.  Missing or corrupt segments
// fail the run unless a downloaded PAR2 set can repair them.
func (m *FetchMode) Run(ctx context.Context) error {
	defer m.shutdown()

	f, err := os.Open(m.Manifest)
	if err != nil {
		return err
	}
	man, err := nzb.Parse(f)
	f.Close()
	if err != nil {
		return err
	}
	if err := man.Validate(); err != nil {
		m.logger.Warn("%v", err)
	}
	if title := man.Meta["title"]; title != "" {
		m.logger.Info("%s", title)
	}

	fetcher, err := fetch.New(m.pool, m.Options)
	if err != nil {
		return err
	}
	rep, err := fetcher.Manifest(ctx, man, m.OutDir)
	if err != nil {
		return err
	}

	w := m.stdout()
	for _, r := range rep.Files {
		status := "ok"
		switch {
		case r.Err != nil:
			status = "failed"
		case !r.OK():
			status = fmt.Sprintf("incomplete (%d missing, %d corrupt)", len(r.Missing), len(r.Corrupt))
		}
		fmt.Fprintf(w, "%-40s %12d  %s\n", r.Name, r.Bytes, status)
	}

	failed := rep.Failed()
	if failed == 0 {
		return nil
	}
	if err := m.writeRetry(man, rep); err != nil {
		m.logger.Warn("%s: %v", RetryManifest, err)
	}
	if rep.Repair != nil && rep.Repair.Repairable {
		m.logger.Info("%d file(s) damaged, repairable with %d recovery slices", failed, rep.Repair.Recovery)
		return nil
	}
	return fmt.Errorf("%d of %d file(s) incomplete", failed, len(rep.Files))
}

// writeRetry saves a manifest of the segments that failed.  Report
// files follow manifest order.
func (m *FetchMode) writeRetry(man *nzb.Manifest, rep *fetch.Report) error {
	retry := &nzb.Manifest{Meta: man.Meta}
	for i, r := range rep.Files {
		if r.OK() {
			continue
		}
		src := man.Files[i]
		f := *src
		f.Segments = nil
		for _, seg := range src.Segments {
			if r.Err != nil || slices.Contains(r.Missing, seg.Number) || slices.Contains(r.Corrupt, seg.Number) {
				f.Segments = append(f.Segments, seg)
			}
		}
		if len(f.Segments) > 0 {
			retry.Files = append(retry.Files, &f)
		}
	}
	if len(retry.Files) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := retry.Write(&buf); err != nil {
		return err
	}
	path := filepath.Join(m.OutDir, RetryManifest)
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	m.logger.Info("failed segments listed in %s", path)
	return nil
}
