package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"sandfs/internal/blockdev"
	"sandfs/internal/config"
	"sandfs/internal/fs"
	"sandfs/internal/logging"
	"sandfs/internal/sandbox"
	"sandfs/internal/session"

	"bazil.org/fuse"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
)

const version = "0.1"

var (
	logger = logging.GetLogger()

	errUsage = errors.New("usage error")
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			logger.Error("%v", err)
		}
		os.Exit(1)
	}
}

func run(argv []string) error {
	var (
		configPath  string
		optionLists []string
		debug       bool
		foreground  bool
		multithread bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("sandfs", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	flagSet.StringArrayVarP(&optionLists, "options", "o", nil, "comma separated mount options")
	flagSet.BoolVarP(&debug, "debug", "d", false, "log every FUSE request")
	flagSet.BoolVarP(&foreground, "foreground", "f", false, "stay in the foreground")
	flagSet.BoolVarP(&multithread, "multithreaded", "m", false, "request multithreaded dispatch (not supported)")
	flagSet.BoolVarP(&showVersion, "version", "V", false, "print version")
	flagSet.BoolP("help", "h", false, "print help")
	flagSet.SetOutput(os.Stderr)

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		fmt.Printf("sandfs version %s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("foreground") {
		cfg.Mount.Foreground = foreground
	}
	if flagSet.Changed("multithreaded") {
		cfg.Mount.Multithreaded = multithread
	}
	fuseOpts, err := cfg.ApplyOptions(strings.Join(optionLists, ","))
	if err != nil {
		return err
	}

	args := flagSet.Args()
	var mountPoint string
	switch len(args) {
	case 2:
		cfg.Image, mountPoint = args[0], args[1]
	case 1:
		mountPoint = args[0]
	case 0:
	default:
		return fmt.Errorf("unexpected argument: %s", args[2])
	}
	if cfg.Image == "" || cfg.FSType == "" {
		fmt.Fprintln(os.Stderr, "no file or filesystem type specified")
		printHelp(flagSet)
		return errUsage
	}
	if mountPoint == "" {
		fmt.Fprintln(os.Stderr, "no mount point specified")
		printHelp(flagSet)
		return errUsage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if debug || cfg.Mount.Debug {
		logger.SetLevel(logging.LevelDebug)
		fuseLogger := logger.WithPrefix("fuse")
		fuse.Debug = func(msg interface{}) {
			fuseLogger.Debug("%v", msg)
		}
	}
	if cfg.LogFile != "" {
		f, err := logger.OpenLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer f.Close()
	}

	return mount(cfg, filepath.Clean(mountPoint), fuseOptions(fuseOpts))
}

func mount(cfg *config.Config, mountPoint string, fuseOpts []fuse.MountOption) error {
	if _, err := os.Stat(mountPoint); err != nil {
		return fmt.Errorf("mount point: %w", err)
	}
	if cfg.Mount.Multithreaded {
		logger.Warn("multithreaded mode not supported, requests are served one at a time")
	}
	if !cfg.Mount.Foreground {
		logger.Debug("background mode is left to the service manager, staying attached")
	}

	dev, err := blockdev.Open(cfg.Image, cfg.ReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	k := sandbox.New(
		sandbox.WithMaxIO(cfg.MaxIO),
		sandbox.WithPrintk(logger.WithPrefix("kernel").Debug),
	)
	sess := session.New(k, session.OptionsFromConfig(cfg, session.EnterChroot))
	if err := sess.Start(dev); err != nil {
		return err
	}
	sys, err := sess.Syscalls()
	if err != nil {
		return shutdown(sess, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Serving %s (%s) at %s", cfg.Image, cfg.FSType, mountPoint)
	serveErr := fs.New(sys).Serve(ctx, mountPoint, fuseOpts...)
	if serveErr != nil {
		logger.Error("FUSE server error: %v", serveErr)
	}
	return shutdown(sess, serveErr)
}

type teardowner interface {
	Teardown() error
}

// shutdown tears the session down and joins any teardown failure to err.
func shutdown(sess teardowner, err error) error {
	if tdErr := sess.Teardown(); tdErr != nil {
		return multierror.Append(err, tdErr)
	}
	if err == nil {
		logger.Info("Clean shutdown complete")
	}
	return err
}

// fuseOptions maps the "-o" options not consumed by the configuration
// onto FUSE mount options.
func fuseOptions(opts []string) []fuse.MountOption {
	var out []fuse.MountOption
	for _, opt := range opts {
		key, value, _ := strings.Cut(opt, "=")
		switch key {
		case "ro":
			out = append(out, fuse.ReadOnly())
		case "allow_other":
			out = append(out, fuse.AllowOther())
		case "fsname":
			out = append(out, fuse.FSName(value))
		case "subtype":
			out = append(out, fuse.Subtype(value))
		case "async_read":
			out = append(out, fuse.AsyncRead())
		case "writeback_cache":
			out = append(out, fuse.WritebackCache())
		case "max_readahead":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				logger.Warn("ignoring max_readahead=%s: %v", value, err)
				continue
			}
			out = append(out, fuse.MaxReadahead(uint32(n)))
		case "default_permissions":
			out = append(out, fuse.DefaultPermissions())
		default:
			logger.Warn("ignoring unsupported mount option %q", opt)
		}
	}
	return out
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `usage: sandfs file mountpoint [options]

Mounts a disk image through an in-process guest kernel.

sandfs options (-o):
    log=FILE            log file
    type=fstype         filesystem type
    mb=memory in mb     amount of memory to allocate
    part=partition      partition to mount
    opts=options        mount options (use \ to escape , and =)
    ro                  mount read-only
    default_permissions let the host kernel check permissions

Flags:
`)
	flagSet.PrintDefaults()
}
