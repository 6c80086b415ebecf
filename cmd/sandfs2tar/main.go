package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"sandfs/internal/blockdev"
	"sandfs/internal/config"
	"sandfs/internal/export"
	"sandfs/internal/logging"
	"sandfs/internal/sandbox"
	"sandfs/internal/session"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
)

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
		fsType      string
		partition   int
		memoryMB    int
		printk      bool
		selinux     string
		compression string
	)

	flagSet := pflag.NewFlagSet("sandfs2tar", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	flagSet.StringVarP(&fsType, "filesystem-type", "t", "", "filesystem type (mandatory)")
	flagSet.IntVarP(&partition, "partition", "P", 0, "partition number, 0 for the whole disk")
	flagSet.IntVarP(&memoryMB, "memory", "m", config.DefaultExportMemoryMB, "guest memory in megabytes")
	flagSet.BoolVarP(&printk, "enable-printk", "p", false, "show guest kernel messages")
	flagSet.StringVarP(&selinux, "selinux-contexts", "s", "", "write security.selinux labels to this file")
	flagSet.StringVar(&compression, "compression", config.CompressionNone, "archive compression: none, gzip, zstd or lz4")
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

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.IsSet("memory_mb") || flagSet.Changed("memory") {
		cfg.MemoryMB = memoryMB
	}
	if flagSet.Changed("filesystem-type") {
		cfg.FSType = fsType
	}
	if flagSet.Changed("partition") {
		cfg.Partition = partition
	}
	if flagSet.Changed("enable-printk") {
		cfg.Export.Printk = printk
	}
	if flagSet.Changed("selinux-contexts") {
		cfg.Export.SELinuxFile = selinux
	}
	if flagSet.Changed("compression") {
		cfg.Export.Compression = compression
	}
	cfg.ReadOnly = true

	switch args := flagSet.Args(); len(args) {
	case 2:
		cfg.Image, cfg.Export.Output = args[0], args[1]
	case 0:
	default:
		fmt.Fprintln(os.Stderr, "expected fsimage and tar_path")
		printHelp(flagSet)
		return errUsage
	}
	if cfg.Image == "" || cfg.Export.Output == "" {
		fmt.Fprintln(os.Stderr, "expected fsimage and tar_path")
		printHelp(flagSet)
		return errUsage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LogFile != "" {
		f, err := logger.OpenLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer f.Close()
	}

	return exportImage(cfg)
}

func exportImage(cfg *config.Config) (err error) {
	dev, err := blockdev.Open(cfg.Image, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	var opts []sandbox.Option
	if cfg.Export.Printk {
		opts = append(opts, sandbox.WithPrintk(logger.WithPrefix("kernel").Printf))
	}
	sess := session.New(sandbox.New(opts...), session.OptionsFromConfig(cfg, session.EnterChdir))
	if err := sess.Start(dev); err != nil {
		return err
	}
	defer func() {
		if tdErr := sess.Teardown(); tdErr != nil {
			err = multierror.Append(err, tdErr)
		}
	}()

	sys, err := sess.Syscalls()
	if err != nil {
		return err
	}

	out, err := os.Create(cfg.Export.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	var labels io.Writer
	if cfg.Export.SELinuxFile != "" {
		f, err := os.Create(cfg.Export.SELinuxFile)
		if err != nil {
			return err
		}
		defer f.Close()
		labels = f
	}

	buf := bufio.NewWriter(out)
	tw, err := export.NewTarWriter(buf, cfg.Export.Compression)
	if err != nil {
		return err
	}

	stats, err := export.New(sys, labels).Export(sess.MountPoint(), tw)
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	logger.Info("Wrote %s: %s", cfg.Export.Output, stats)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `usage: sandfs2tar -t fstype [options] fsimage tar_path

Copies the tree of a filesystem image into a tar archive through an
in-process guest kernel. The image is mounted read-only.

Flags:
`)
	flagSet.PrintDefaults()
}
