// Package config holds the settings record shared by the front ends.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Guest memory defaults in megabytes.
const (
	DefaultMemoryMB       = 64
	DefaultExportMemoryMB = 10
)

// Compression names accepted for the archive output.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Config is built once by a front end and handed to the session and its
// consumer by pointer.
type Config struct {
	Image     string `toml:"image" default:"" validate:"required"`            // Disk image handed to the guest as its block device
	LogFile   string `toml:"log_file" default:""`                             // Receives all log output when set
	FSType    string `toml:"fs_type" default:"" validate:"required"`          // Guest filesystem driver name (e.g. "iso9660")
	Options   string `toml:"options" default:""`                              // Guest mount options, comma separated
	Partition int    `toml:"partition" default:"0" validate:"min=0"`          // Partition to mount, 0 for the whole disk
	ReadOnly  bool   `toml:"read_only" default:"false"`                       // Open the image and mount the guest filesystem read-only
	MemoryMB  int    `toml:"memory_mb" default:"64" validate:"required,gt=0"` // Guest memory in megabytes
	MaxIO     int    `toml:"max_io" default:"0" validate:"min=0"`             // Per call transfer cap inside the guest, 0 for none

	Mount struct {
		Multithreaded bool `toml:"multithreaded" default:"false"` // Accepted for compatibility; requests are still served one at a time
		Foreground    bool `toml:"foreground" default:"false"`    // Stay attached to the terminal
		Debug         bool `toml:"debug" default:"false"`         // Log every FUSE request
	} `toml:"mount"` // Live mount settings

	Export struct {
		Output      string `toml:"output" default:""`                                            // Archive path
		Compression string `toml:"compression" default:"none" validate:"oneof=none gzip zstd lz4"` // Archive compression
		SELinuxFile string `toml:"selinux_file" default:""`                                      // Side file for security.selinux labels
		Printk      bool   `toml:"printk" default:"false"`                                       // Route guest kernel messages to the log
	} `toml:"export"` // Export settings

	meta toml.MetaData
}

// Default returns a Config with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return cfg, nil
}

// Load applies defaults, then overlays the TOML file at path if one is
// given. The result is not validated so flags can still fill it in.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode toml: unknown keys %v", undecoded)
	}
	cfg.meta = meta
	return cfg, nil
}

// IsSet reports whether the loaded file gave key a value, e.g.
// IsSet("export", "compression").
func (c *Config) IsSet(key ...string) bool {
	return c.meta.IsDefined(key...)
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// ApplyOptions folds a "-o" style option list into c. Options that are not
// ours are returned in order for the FUSE layer.
func (c *Config) ApplyOptions(list string) ([]string, error) {
	var rest []string
	for _, opt := range SplitOptions(list) {
		key, value, hasValue := cutUnescaped(opt)
		switch key {
		case "log":
			c.LogFile = unescape(value)
		case "type":
			c.FSType = unescape(value)
		case "opts":
			c.Options = unescape(value)
		case "mb", "part":
			n, err := strconv.Atoi(unescape(value))
			if err != nil || !hasValue {
				return nil, fmt.Errorf("invalid value for %s: %q", key, value)
			}
			if key == "mb" {
				c.MemoryMB = n
			} else {
				c.Partition = n
			}
		case "ro":
			c.ReadOnly = true
			rest = append(rest, opt)
		default:
			rest = append(rest, unescape(opt))
		}
	}
	return rest, nil
}

// SplitOptions splits a comma separated list. A backslash keeps the next
// character, so "\," and "\=" stay inside a value; escapes are left in
// place for the caller.
func SplitOptions(list string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
		cur.Reset()
	}
	for i := 0; i < len(list); i++ {
		switch ch := list[i]; {
		case ch == '\\' && i+1 < len(list):
			cur.WriteByte(ch)
			cur.WriteByte(list[i+1])
			i++
		case ch == ',':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return out
}

// cutUnescaped splits opt at its first unescaped '='.
func cutUnescaped(opt string) (key, value string, found bool) {
	for i := 0; i < len(opt); i++ {
		switch opt[i] {
		case '\\':
			i++
		case '=':
			return opt[:i], opt[i+1:], true
		}
	}
	return opt, "", false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
