// Package engine orchestrates one end-to-end run of the content build
// engine: it wires the target graph, platform configuration, build log,
// scanner, status confirmer/request resolver, build task engine,
// deployment migrator, and pack emitter together in the fixed pipeline
// order spec §4 describes, and reports the outcome as a result.Code.
package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/distriforge/forgepack/internal/buildlog"
	"github.com/distriforge/forgepack/internal/deploy"
	"github.com/distriforge/forgepack/internal/entry"
	"github.com/distriforge/forgepack/internal/pack"
	"github.com/distriforge/forgepack/internal/platform"
	"github.com/distriforge/forgepack/internal/registry"
	"github.com/distriforge/forgepack/internal/request"
	"github.com/distriforge/forgepack/internal/rule"
	"github.com/distriforge/forgepack/internal/scan"
	"github.com/distriforge/forgepack/internal/stream"
	"github.com/distriforge/forgepack/internal/task"
	"github.com/distriforge/forgepack/project"
	"github.com/distriforge/forgepack/result"
	"golang.org/x/xerrors"
)

// Config is everything one Run needs beyond the project file itself.
type Config struct {
	Project  *project.Config
	Registry registry.Registry
	Reader   stream.Reader
	Writer   stream.Writer
	Log      *log.Logger
	Workers  int
	EmitPack bool
	PackDir  string
}

// Run executes one full build (spec §4, the fixed phase order) and
// returns the result code the caller (cmd/forgepack) should exit with.
func Run(ctx context.Context, cfg Config) result.Code {
	logger := cfg.Log
	if logger == nil {
		logger = log.New(os.Stderr, "forgepack: ", log.LstdFlags)
	}

	graph := entry.NewGraph(logger)
	for _, td := range cfg.Project.Targets {
		t, err := graph.CreateTarget(td.Name)
		if err != nil {
			logger.Print(err)
			return result.ErrorProjectDuplicateTargets
		}
		t.SourceDirs = td.SourceDirs
		t.VisibleNames = td.Visible
	}
	if err := graph.Link(); err != nil {
		logger.Print(err)
		return result.ErrorProjectVisibleTargetNotFound
	}
	if _, cyclic := graph.DetectVisibilityCycle(); cyclic {
		logger.Print("visibility graph contains a cycle")
		return result.ErrorProjectVisibleTargetNotFound
	}
	graph.Linearize()

	platformCfg, err := platform.Load(cfg.Project.Platform.Setup, cfg.Project.Platform.Dir, cfg.Project.ActiveTags())
	if err != nil {
		logger.Print(err)
		return platformErrorCode(err)
	}

	prevLog, _, err := buildlog.Read(cfg.Project.Log)
	if err != nil {
		logger.Print(err)
		return result.ErrorLogIoError
	}

	for _, t := range graph.Targets() {
		if err := scan.Scan(t); err != nil {
			logger.Print(err)
			return result.ErrorRawResourceScanFailed
		}
	}

	materialize(graph, prevLog, cfg.Registry)

	if err := graph.MarkForBuild(cfg.Project.Roots); err != nil {
		logger.Print(err)
		return result.ErrorProjectVisibleTargetNotFound
	}

	if err := os.MkdirAll(cfg.Project.Staging, 0o755); err != nil {
		logger.Print(err)
		return result.ErrorWorkspaceCannotMakeDirectory
	}
	ruleDriver, err := rule.New(cfg.Project.Scratch)
	if err != nil {
		logger.Print(err)
		return result.ErrorWorkspaceCannotMakeDirectory
	}

	dispatcher := task.New(cfg.Workers)
	dispatcher.RuleDriver = ruleDriver
	dispatcher.Registry = cfg.Registry
	dispatcher.Reader = cfg.Reader
	dispatcher.Writer = cfg.Writer
	dispatcher.Log = logger
	dispatcher.StagingRoot = cfg.Project.Staging

	resolver := &request.Resolver{
		Graph:    graph,
		Registry: cfg.Registry,
		Platform: platformCfg,
		Log:      logger,
		Queue:    dispatcher,
	}
	dispatcher.Resolver = resolver

	if err := markRoots(ctx, resolver, graph, cfg.Project.Roots); err != nil {
		logger.Print(err)
		return result.ErrorBuildFailed
	}

	if err := dispatcher.Run(ctx); err != nil {
		logger.Print(err)
		return result.ErrorBuildFailed
	}

	migrator, err := deploy.New(cfg.Project.Deploy, cfg.Project.Cache)
	if err != nil {
		logger.Print(err)
		return result.ErrorWorkspaceCannotMakeDirectory
	}
	migrator.Registry = cfg.Registry
	migrator.Reader = cfg.Reader
	migrator.Writer = cfg.Writer

	newLog := buildlog.Empty()
	for _, t := range graph.Targets() {
		if !t.MarkedForBuild {
			if prior, ok := prevLog.Targets[t.Name]; ok {
				newLog.Targets[t.Name] = prior
			}
			continue
		}
		tl := buildlog.TargetLog{}
		for _, e := range t.AllEntries() {
			saved, err := migrator.Migrate(e)
			if err != nil {
				logger.Print(err)
				return result.ErrorBuildFailed
			}
			appendLogRecord(&tl, e, saved, cfg.Registry, platformCfg)
		}
		newLog.Targets[t.Name] = tl
	}
	if err := buildlog.Write(cfg.Project.Log, newLog); err != nil {
		logger.Print(err)
		return result.ErrorLogCannotBeOpened
	}

	if cfg.EmitPack {
		for _, t := range graph.Targets() {
			if !t.MarkedForBuild {
				continue
			}
			if err := emitPack(cfg.PackDir, t); err != nil {
				logger.Print(err)
				return result.ErrorPackFailed
			}
		}
	}

	return result.Success
}

func platformErrorCode(err error) result.Code {
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return result.ErrorPlatformConfigurationNotFound
	case errors.Is(err, platform.ErrUnknownFile):
		return result.ErrorPlatformConfigurationUnknownEntryFile
	case errors.Is(err, platform.ErrUnknownLayer):
		return result.ErrorPlatformConfigurationUnknownLayer
	case errors.Is(err, platform.ErrDuplicateLayer):
		return result.ErrorPlatformConfigurationDuplicateLayer
	case errors.Is(err, platform.ErrDuplicateType):
		return result.ErrorPlatformConfigurationDuplicateType
	default:
		return result.ErrorPlatformConfigurationIoError
	}
}

// markRoots requests deployment for every locally declared native entry of
// every root target: a project's "roots" list names the targets whose own
// resources are this run's deployment set (spec §4.4 MarkDeployment).
func markRoots(ctx context.Context, r *request.Resolver, g *entry.Graph, roots []string) error {
	for _, name := range roots {
		t, ok := g.Target(name)
		if !ok {
			return xerrors.Errorf("root target %q not found", name)
		}
		for _, e := range t.AllEntries() {
			if _, err := r.Request(ctx, t, e.Type, e.Name, request.MarkDeployment, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func emitPack(dir string, t *entry.Target) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, t.Name+".pack.tar.gz"))
	if err != nil {
		return err
	}
	defer f.Close()
	return pack.Emit(f, t, t.Intern != nil)
}
