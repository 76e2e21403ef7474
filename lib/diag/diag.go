// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diag carries the two post-mortem facilities spec.md §6/§7
// ask for on top of the ambient textui logger: severity-coloured
// summary lines, and a `dump` mode that files every metadata region a
// format plug-in reads off to an auxiliary directory for later
// inspection. It is grounded on original_source/lib/metadata/metadata.c's
// file_metadata/file_dev_size/_dir (the dump side) and on
// direktiv-vorteil/pkg/elog/logger.go's Format (the colouring side).
package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"
	"github.com/fatih/color"
)

// Severity ranks a diagnostic line the way dmraid's log_*() family
// does, from routine chatter up to a finding serious enough to affect
// the exit status.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Sink prints severity-tagged lines through dlog, colouring the
// message the way elog.CLI.Format does: one fatih/color SprintFunc per
// level, skipped entirely when DisableColors is set (a non-tty output,
// or spec.md's `batch` option).
type Sink struct {
	DisableColors bool
}

var (
	warnColor  = color.New(color.FgYellow).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
)

// Logf writes a severity-tagged message, routed to dlog's matching
// level so it still obeys lib/textui's usual verbosity gating.
func (s Sink) Logf(ctx context.Context, sev Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !s.DisableColors {
		switch sev {
		case SeverityWarn:
			msg = warnColor(msg)
		case SeverityError:
			msg = errorColor(msg)
		}
	}
	switch sev {
	case SeverityWarn:
		dlog.Warnf(ctx, "%s", msg)
	case SeverityError:
		dlog.Errorf(ctx, "%s", msg)
	default:
		dlog.Infof(ctx, "%s", msg)
	}
}

// RegionRecord is one entry of a Dumper's manifest: where a dumped
// metadata region came from, and where its raw bytes landed.
type RegionRecord struct {
	Handler string `json:"handler"`
	Path    string `json:"path"`
	Offset  int64  `json:"offset"`
	Size    int64  `json:"size"`
	File    string `json:"file,omitempty"`
}

// DevSizeRecord is one entry recording a disk's reported sector count,
// the dump-mode equivalent of file_dev_size.
type DevSizeRecord struct {
	Handler string `json:"handler"`
	Path    string `json:"path"`
	Sectors int64  `json:"sectors"`
}

// Dumper implements spec.md's `dump` option: every metadata region (and
// device-size probe) a format plug-in reads is filed under Dir, one
// subdirectory per handler (plug-in name), mirroring _dir's
// mkdir-then-chdir-into-it layout without actually changing the
// process's working directory.
type Dumper struct {
	Dir string

	mu       sync.Mutex
	regions  []RegionRecord
	devSizes []DevSizeRecord
	seq      int
}

// DumpRegion files data under Dir/handler/, named after path and a
// sequence number so repeat reads of the same path don't collide, and
// records its absolute byte offset alongside it — the
// file_metadata(lc, handler, path, data, size, offset) call in
// metadata.c.
func (d *Dumper) DumpRegion(handler, path string, offset int64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.Dir, sanitize(handler))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("diag: dumping %q: %w", path, err)
	}

	d.seq++
	name := fmt.Sprintf("%04d-%s.bin", d.seq, sanitize(filepath.Base(path)))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("diag: dumping %q: %w", path, err)
	}

	d.regions = append(d.regions, RegionRecord{
		Handler: handler,
		Path:    path,
		Offset:  offset,
		Size:    int64(len(data)),
		File:    filepath.Join(sanitize(handler), name),
	})
	return nil
}

// DumpDevSize records a disk's sector count under handler, the
// file_dev_size(lc, handler, di) call in metadata.c.
func (d *Dumper) DumpDevSize(handler, path string, sectors int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devSizes = append(d.devSizes, DevSizeRecord{Handler: handler, Path: path, Sectors: sectors})
}

// WriteManifest encodes every recorded region and device-size probe as
// Dir/manifest.json, so a post-mortem reader has one index into the
// raw .bin files instead of metadata.c's scattered per-region text
// files.
func (d *Dumper) WriteManifest() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("diag: writing manifest: %w", err)
	}
	f, err := os.Create(filepath.Join(d.Dir, "manifest.json"))
	if err != nil {
		return fmt.Errorf("diag: writing manifest: %w", err)
	}
	defer f.Close()

	manifest := struct {
		Regions  []RegionRecord  `json:"regions"`
		DevSizes []DevSizeRecord `json:"devSizes"`
	}{Regions: d.regions, DevSizes: d.devSizes}

	return lowmemjson.Encode(&lowmemjson.ReEncoder{
		Out: f,

		Indent:                "\t",
		ForceTrailingNewlines: true,
	}, manifest)
}

// sanitize turns a disk path like "/dev/sda" into a bare filename
// component safe to use inside a dump directory.
func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimPrefix(s, "/"), "/", "_")
}
