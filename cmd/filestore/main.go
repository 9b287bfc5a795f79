package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"filestore/internal/core"
	"filestore/internal/pipeline"
	"filestore/internal/storage"
	"filestore/internal/upload"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const usage = `Usage: filestore <command> [flags] [args]

Commands:
  serve              serve stored files over HTTP
  put <src>...       store local files or http(s)/s3 URLs
  derive <hash>      store a transformed copy of a stored file
  take <hash>        describe a stored file
  rm <hash>...       remove stored files and their variants

Operations are given with --op, e.g. --op widen:width=150,upsize,rotate=90
or by name with --preset.
`

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	webDir     string
	baseURL    string
	logLevel   string
}

func (g *globalFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	flagSet.StringVar(&g.webDir, "web-dir", "", "web root holding the storage/ tree")
	flagSet.StringVar(&g.baseURL, "base-url", "", "prefix of public file URLs")
	flagSet.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func (g *globalFlags) options() []core.ConfigOption {
	var opts []core.ConfigOption
	if g.webDir != "" {
		opts = append(opts, core.WithWebDir(g.webDir))
	}
	if g.baseURL != "" {
		opts = append(opts, core.WithBaseURL(g.baseURL))
	}
	return opts
}

// opFlags select the operation chain of put and derive.
type opFlags struct {
	ops    []string
	preset string
}

func (o *opFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringArrayVar(&o.ops, "op", nil, "operation, repeatable (name:key=value,...)")
	flagSet.StringVar(&o.preset, "preset", "", "named operation chain from the config file")
}

// factory returns a function building a fresh chain on every call.
func (o *opFlags) factory(cfg core.Config) (func() ([]pipeline.Operation, error), error) {
	if o.preset != "" && len(o.ops) > 0 {
		return nil, errors.New("--op and --preset are mutually exclusive")
	}
	if o.preset != "" {
		if _, err := cfg.Preset(o.preset); err != nil {
			return nil, err
		}
		return func() ([]pipeline.Operation, error) { return cfg.Preset(o.preset) }, nil
	}

	specs := make([]pipeline.OperationSpec, 0, len(o.ops))
	for _, text := range o.ops {
		spec, err := pipeline.ParseSpec(text)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if _, err := pipeline.Operations(specs); err != nil {
		return nil, err
	}
	return func() ([]pipeline.Operation, error) { return pipeline.Operations(specs) }, nil
}

type fileReport struct {
	Hash         string `yaml:"hash"`
	Path         string `yaml:"path"`
	URL          string `yaml:"url"`
	AbsolutePath string `yaml:"absolute_path"`
	Exists       bool   `yaml:"exists"`
}

func report(infos ...storage.StorageFileInfo) error {
	out := make([]fileReport, len(infos))
	for i, info := range infos {
		out[i] = fileReport{
			Hash:         info.Hash,
			Path:         info.Path(),
			URL:          info.PublicURL,
			AbsolutePath: info.AbsolutePath,
			Exists:       info.Exists,
		}
	}

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	if len(out) == 1 {
		return enc.Encode(out[0])
	}
	return enc.Encode(out)
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl <= log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

// command parses args for one subcommand and returns the loaded config
// and remaining positional arguments.
func command(name string, args []string, extra func(*pflag.FlagSet)) (core.Config, []string, error) {
	var global globalFlags

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	global.add(flagSet)
	if extra != nil {
		extra(flagSet)
	}

	if err := flagSet.Parse(args); err != nil {
		return core.Config{}, nil, err
	}
	if err := setupLogging(global.logLevel); err != nil {
		return core.Config{}, nil, err
	}

	cfg, err := core.LoadConfig(global.configPath, global.options()...)
	if err != nil {
		return core.Config{}, nil, err
	}
	return cfg, flagSet.Args(), nil
}

func runServe(ctx context.Context, args []string) error {
	var listen string
	cfg, _, err := command("serve", args, func(flagSet *pflag.FlagSet) {
		flagSet.StringVar(&listen, "listen", "", "HTTP listen address (default "+core.DefaultListen+")")
	})
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	svc, err := core.NewService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create file store: %w", err)
	}
	defer svc.Close()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           core.NewServer(svc).Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting file server", "listen", cfg.Listen, "root", filepath.Join(cfg.WebDir, storage.StorageDirName))
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func runPut(ctx context.Context, args []string) error {
	var ops opFlags
	cfg, sources, err := command("put", args, ops.add)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("put needs at least one source")
	}

	newOps, err := ops.factory(cfg)
	if err != nil {
		return err
	}

	svc, err := core.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	intakes := make([]*upload.FileIntake, 0, len(sources))
	for _, src := range sources {
		intake, err := buildIntake(ctx, svc, src)
		if err != nil {
			discardAll(intakes)
			return err
		}
		intakes = append(intakes, intake)
	}

	infos, err := svc.IngestAll(ctx, intakes, newOps)
	if err != nil {
		return err
	}
	return report(infos...)
}

// discardAll drops the temp files of intakes that will not be ingested.
func discardAll(intakes []*upload.FileIntake) {
	for _, intake := range intakes {
		if err := intake.Discard(); err != nil {
			slog.Warn("Failed to discard intake", "source", intake.Source, "err", err)
		}
	}
}

// buildIntake acquires src, a URL with a scheme or a local path. Local
// files are copied first because intake consumes its temp file.
func buildIntake(ctx context.Context, svc *core.Service, src string) (*upload.FileIntake, error) {
	if u, err := url.Parse(src); err == nil && u.Scheme != "" && u.Host != "" {
		remote, err := svc.RemoteUploader()
		if err != nil {
			return nil, err
		}
		return remote.BuildIntake(ctx, "remote", map[string]string{upload.URLConfigName: src})
	}

	tmp, err := os.CreateTemp("", "filestore-*"+filepath.Ext(src))
	if err != nil {
		return nil, err
	}
	_ = tmp.Close()
	if err := storage.CopyFile(src, tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("read %s: %w", src, err)
	}

	intake, err := upload.NewLocalUploader(upload.UploadedFile{
		Name:     filepath.Base(src),
		TempName: tmp.Name(),
	}).BuildIntake(ctx, "local", nil)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	intake.Source = src
	return intake, nil
}

func runDerive(ctx context.Context, args []string) error {
	var ops opFlags
	cfg, rest, err := command("derive", args, ops.add)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("derive needs exactly one hash")
	}

	newOps, err := ops.factory(cfg)
	if err != nil {
		return err
	}
	chain, err := newOps()
	if err != nil {
		return err
	}

	svc, err := core.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	info, err := svc.Derive(ctx, rest[0], chain)
	if err != nil {
		return err
	}
	return report(info)
}

func runTake(ctx context.Context, args []string) error {
	cfg, rest, err := command("take", args, nil)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("take needs exactly one hash")
	}

	svc, err := core.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	info, err := svc.Take(rest[0])
	if err != nil {
		return err
	}
	return report(info)
}

func runRemove(ctx context.Context, args []string) error {
	cfg, hashes, err := command("rm", args, nil)
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		return errors.New("rm needs at least one hash")
	}

	svc, err := core.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, hash := range hashes {
		if err := svc.Remove(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	commands := map[string]func(context.Context, []string) error{
		"serve":  runServe,
		"put":    runPut,
		"derive": runDerive,
		"take":   runTake,
		"rm":     runRemove,
	}

	name, rest := args[0], args[1:]
	switch name {
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	}

	run, ok := commands[name]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}

	err := run(ctx, rest)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("filestore exited with error", "error", err)
		os.Exit(1)
	}
}
