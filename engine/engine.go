package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/c360studio/repoforge/catalog"
	"github.com/c360studio/repoforge/manifest"
)

// DefaultTimeout bounds a single composition when the caller sets none.
const DefaultTimeout = 120 * time.Second

// lockPollInterval is how often a waiting job re-checks the per-system lock.
const lockPollInterval = 100 * time.Millisecond

// Engine composes output trees from manifests against a catalog snapshot.
// One Engine is safe for concurrent jobs; each job stages into its own
// directory and holds an advisory lock on its (output, system_name) pair.
type Engine struct {
	catalog     *catalog.Catalog
	logger      *slog.Logger
	timeout     time.Duration
	toolVersion string
}

// New builds an Engine over a catalog snapshot. toolVersion is recorded in
// system-metadata.json as the composition fingerprint.
func New(cat *catalog.Catalog, logger *slog.Logger, toolVersion string) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalog:     cat,
		logger:      logger,
		timeout:     DefaultTimeout,
		toolVersion: toolVersion,
	}
}

// SetTimeout overrides the per-composition ceiling. Zero keeps the default.
func (e *Engine) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Options control a single composition run.
type Options struct {
	// OutputRoot is the directory the composed tree is promoted into as
	// <OutputRoot>/<system_name>/. Staging happens alongside it so the final
	// rename stays on one filesystem.
	OutputRoot string

	// DryRun resolves and plans without writing anything.
	DryRun bool

	// Overwrite replaces an existing <OutputRoot>/<system_name>/ tree.
	Overwrite bool

	// JobID identifies the run; a UUID is generated when empty.
	JobID string
}

// Compose runs the full pipeline: validate, resolve, order, plan, stage,
// emit manifest copies, post-verify, promote, report. Any failure before
// promote leaves no partial output under <output>/<system_name>/.
func (e *Engine) Compose(ctx context.Context, m *manifest.Manifest, opts Options) (*Report, error) {
	start := time.Now()
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	plan, err := BuildPlan(m, e.catalog)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		report := buildReport(plan, jobID, true, start)
		e.logger.Info("Dry-run composition planned",
			"job_id", jobID,
			"system", m.SystemName,
			"nodes", len(plan.Nodes))
		return report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outputRoot, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return nil, &Fault{Kind: KindFilesystemFault, Msg: "resolve output root", Err: err}
	}
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, &Fault{Kind: KindFilesystemFault, Msg: "create output root", Err: err}
	}

	// Jobs targeting the same (output, system_name) must not interleave.
	// The lock file survives across processes so the API and CLI coexist.
	lock := flock.New(filepath.Join(outputRoot, ".compose-"+m.SystemName+".lock"))
	locked, err := lock.TryLockContext(ctx, lockPollInterval)
	if err != nil || !locked {
		return nil, e.translateCtx(ctx, &Fault{
			Kind: KindFilesystemFault,
			Msg:  fmt.Sprintf("acquire composition lock for %s", m.SystemName),
			Err:  err,
		})
	}
	defer lock.Unlock()

	staging := filepath.Join(outputRoot, ".staging-"+jobID)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, &Fault{Kind: KindFilesystemFault, Msg: "create staging directory", Err: err}
	}
	promoted := false
	defer func() {
		if !promoted {
			os.RemoveAll(staging)
		}
	}()

	files, err := e.stage(ctx, staging, plan)
	if err != nil {
		return nil, e.translateCtx(ctx, err)
	}

	n, err := e.emitManifests(staging, m, plan)
	if err != nil {
		return nil, err
	}
	files += n

	if err := postVerify(staging, plan); err != nil {
		return nil, err
	}

	final := filepath.Join(outputRoot, m.SystemName)
	if err := e.promote(staging, final, jobID, opts.Overwrite); err != nil {
		return nil, err
	}
	promoted = true

	report := buildReport(plan, jobID, false, start)
	report.OutputPath = final
	report.Files = files

	e.logger.Info("Composition complete",
		"job_id", jobID,
		"system", m.SystemName,
		"files", files,
		"output", final,
		"duration_ms", report.DurationMS)
	return report, nil
}

// translateCtx maps a context expiry to the Timeout fault; other errors pass
// through unchanged.
func (e *Engine) translateCtx(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Fault{
			Kind: KindTimeout,
			Msg:  fmt.Sprintf("composition exceeded %s", e.timeout),
			Hint: "raise MAX_COMPOSE_SECONDS or reduce the component set",
			Err:  ctx.Err(),
		}
	}
	return err
}

// stage materializes the core scaffold and every planned node into the
// staging directory, in plan order. Returns the number of files written.
func (e *Engine) stage(ctx context.Context, staging string, plan *Plan) (int, error) {
	files, err := writeCoreScaffold(staging, plan.Manifest)
	if err != nil {
		return 0, err
	}

	for _, node := range plan.Nodes {
		n, err := e.stageNode(ctx, staging, node)
		if err != nil {
			return 0, err
		}
		files += n
	}
	return files, nil
}

// coreDirs are always present in a composed tree, populated or not.
var coreDirs = []string{"docs", "scripts", filepath.Join(".github", "workflows")}

// writeCoreScaffold emits the root structure every composed system shares.
func writeCoreScaffold(staging string, m *manifest.Manifest) (int, error) {
	readme := "# " + m.SystemName + "\n\n"
	if m.Description != "" {
		readme += m.Description + "\n\n"
	}
	readme += "Composed for " + m.Org + ".\n"

	compose := "name: " + m.SystemName + "\nservices: {}\n"

	files := 0
	for name, content := range map[string]string{
		"README.md":          readme,
		"docker-compose.yml": compose,
	} {
		if err := os.WriteFile(filepath.Join(staging, name), []byte(content), 0644); err != nil {
			return 0, &Fault{Kind: KindFilesystemFault, Msg: "write " + name, Err: err}
		}
		files++
	}

	for _, dir := range coreDirs {
		keep := filepath.Join(staging, dir, ".gitkeep")
		if err := os.MkdirAll(filepath.Dir(keep), 0755); err != nil {
			return 0, &Fault{Kind: KindFilesystemFault, Msg: "create " + dir, Err: err}
		}
		if err := os.WriteFile(keep, nil, 0644); err != nil {
			return 0, &Fault{Kind: KindFilesystemFault, Msg: "write " + keep, Err: err}
		}
		files++
	}
	return files, nil
}

// stageNode copies one template tree into its target subpath, interpolating
// files the descriptor flags as templated.
func (e *Engine) stageNode(ctx context.Context, staging string, node *Node) (int, error) {
	src := node.Descriptor.Dir
	dst := filepath.Join(staging, filepath.FromSlash(node.Target))
	files := 0

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0755)
		}
		// The descriptor is library metadata, not template payload.
		if rel == catalog.DescriptorFile {
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		if err := e.copyFile(path, target, filepath.ToSlash(rel), node); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return 0, &Fault{
			Kind: KindFilesystemFault,
			Msg:  fmt.Sprintf("stage %s into %s", node.Ref(), node.Target),
			Err:  err,
		}
	}

	e.logger.Debug("Staged template",
		"ref", node.Ref().String(),
		"target", node.Target,
		"files", files)
	return files, nil
}

func (e *Engine) copyFile(src, dst, rel string, node *Node) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	if templated(node.Descriptor.Templated, rel) && !isBinary(data) {
		data = []byte(interpolate(string(data), node.Vars))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// templated reports whether a relative path matches any of the descriptor's
// templated globs.
func templated(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// emitManifests writes manifest.json (the accepted manifest, verbatim shape)
// and system-metadata.json (derivation record) at the tree root.
func (e *Engine) emitManifests(staging string, m *manifest.Manifest, plan *Plan) (int, error) {
	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return 0, &Fault{Kind: KindFilesystemFault, Msg: "encode manifest.json", Err: err}
	}
	if err := os.WriteFile(filepath.Join(staging, "manifest.json"), append(manifestJSON, '\n'), 0644); err != nil {
		return 0, &Fault{Kind: KindFilesystemFault, Msg: "write manifest.json", Err: err}
	}

	meta := systemMetadata{
		SystemName:      m.SystemName,
		Org:             m.Org,
		ComposedAt:      time.Now().UTC().Format(time.RFC3339),
		ToolVersion:     e.toolVersion,
		CatalogSnapshot: plan.Snapshot,
	}
	for _, n := range plan.Nodes {
		meta.Plan = append(meta.Plan, PlanEntry{
			Ref:      n.Ref().String(),
			Instance: n.Instance,
			Target:   n.Target,
		})
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, &Fault{Kind: KindFilesystemFault, Msg: "encode system-metadata.json", Err: err}
	}
	if err := os.WriteFile(filepath.Join(staging, "system-metadata.json"), append(metaJSON, '\n'), 0644); err != nil {
		return 0, &Fault{Kind: KindFilesystemFault, Msg: "write system-metadata.json", Err: err}
	}
	return 2, nil
}

// postVerify confirms every descriptor-declared output sentinel exists in
// staging before promote.
func postVerify(staging string, plan *Plan) error {
	var missing []string
	for _, node := range plan.Nodes {
		for _, out := range node.Descriptor.Outputs {
			p := filepath.Join(staging, filepath.FromSlash(node.Target), filepath.FromSlash(out))
			if _, err := os.Stat(p); err != nil {
				missing = append(missing, node.Target+"/"+out)
			}
		}
	}
	if len(missing) > 0 {
		return &Fault{
			Kind:   KindPostVerifyFault,
			Msg:    "declared output files missing after staging",
			Fields: missing,
			Hint:   "check the template's outputs declaration against its file tree",
		}
	}
	return nil
}

// promote atomically renames staging to the final tree. With Overwrite, the
// old tree is moved aside first and deleted only after the new tree is in
// place.
func (e *Engine) promote(staging, final, jobID string, overwrite bool) error {
	if _, err := os.Stat(final); err == nil {
		if !overwrite {
			return &Fault{
				Kind: KindFilesystemFault,
				Msg:  fmt.Sprintf("output %s already exists", final),
				Hint: "pass --overwrite to replace the existing tree",
			}
		}
		backup := final + ".backup-" + jobID
		if err := os.Rename(final, backup); err != nil {
			return renameFault(err, "move existing output aside")
		}
		if err := os.Rename(staging, final); err != nil {
			// Put the old tree back so the destination is never left empty.
			os.Rename(backup, final)
			return renameFault(err, "promote staging directory")
		}
		if err := os.RemoveAll(backup); err != nil {
			e.logger.Warn("Leaving stale backup behind", "path", backup, "error", err)
		}
		return nil
	}

	if err := os.Rename(staging, final); err != nil {
		return renameFault(err, "promote staging directory")
	}
	return nil
}

func renameFault(err error, msg string) *Fault {
	f := &Fault{Kind: KindFilesystemFault, Msg: msg, Err: err}
	if errors.Is(err, syscall.EXDEV) || strings.Contains(err.Error(), "cross-device") {
		f.Hint = "the output root must be on the same filesystem as its staging directory"
	}
	return f
}
