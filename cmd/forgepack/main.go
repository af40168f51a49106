// Command forgepack runs one end-to-end content build (spec §4): it loads
// a project file, scans raw resources, confirms what is already
// up-to-date, builds whatever is not, migrates newly built artifacts into
// the deploy/cache directories, writes the new build log, and optionally
// emits a distributable pack per target marked for build.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/distriforge/forgepack"
	"github.com/distriforge/forgepack/engine"
	"github.com/distriforge/forgepack/internal/codec"
	"github.com/distriforge/forgepack/internal/registry"
	"github.com/distriforge/forgepack/internal/types"
	"github.com/distriforge/forgepack/project"
	"golang.org/x/xerrors"
)

var (
	projectFile = flag.String("project", "forgepack.yaml", "path to the project file")
	workers     = flag.Int("workers", runtime.NumCPU(), "number of concurrent build workers")
	emitPack    = flag.Bool("pack", false, "emit a .pack.tar.gz per target marked for build after a successful build")
	packDir     = flag.String("pack_dir", "pack", "directory packs are written to when -pack is set")
	debug       = flag.Bool("debug", false, "format error messages with additional detail")
)

func funcmain() error {
	flag.Parse()

	cfg, err := project.Load(*projectFile)
	if err != nil {
		return xerrors.Errorf("load project file: %w", err)
	}

	ctx, canc := forgepack.InterruptibleContext()
	defer canc()

	reg := registry.NewStatic()
	types.RegisterAll(reg)

	logger := log.New(os.Stderr, "forgepack: ", log.LstdFlags)
	composite := &codec.Composite{}

	result := engine.Run(ctx, engine.Config{
		Project:  cfg,
		Registry: reg,
		Reader:   composite,
		Writer:   composite,
		Log:      logger,
		Workers:  *workers,
		EmitPack: *emitPack,
		PackDir:  *packDir,
	})
	if result != 0 {
		if *debug {
			return xerrors.Errorf("build failed: %+v (%s)", result, result)
		}
		return xerrors.Errorf("build failed: %s", result)
	}

	return forgepack.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
