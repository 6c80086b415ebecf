package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if cfg.MemoryMB != DefaultMemoryMB {
		t.Errorf("MemoryMB = %d, want %d", cfg.MemoryMB, DefaultMemoryMB)
	}
	if cfg.Partition != 0 || cfg.ReadOnly {
		t.Errorf("unexpected defaults: partition %d, ro %v", cfg.Partition, cfg.ReadOnly)
	}
	if cfg.Export.Compression != CompressionNone {
		t.Errorf("Compression = %q, want %q", cfg.Export.Compression, CompressionNone)
	}

	// image and type are required
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty config")
	}
	cfg.Image = "disk.img"
	cfg.FSType = "iso9660"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandfs.toml")
	data := `
image = "/images/disk.img"
fs_type = "iso9660"
partition = 2
memory_mb = 128

[export]
compression = "zstd"
printk = true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Image != "/images/disk.img" || cfg.FSType != "iso9660" {
		t.Errorf("unexpected image/type: %q %q", cfg.Image, cfg.FSType)
	}
	if cfg.Partition != 2 || cfg.MemoryMB != 128 {
		t.Errorf("unexpected partition/memory: %d %d", cfg.Partition, cfg.MemoryMB)
	}
	if cfg.Export.Compression != CompressionZstd || !cfg.Export.Printk {
		t.Errorf("unexpected export section: %+v", cfg.Export)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if !cfg.IsSet("memory_mb") || !cfg.IsSet("export", "printk") {
		t.Error("Expected memory_mb and export.printk to be set")
	}
	if cfg.IsSet("read_only") {
		t.Error("Expected read_only to be unset")
	}

	t.Run("unknown key", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.toml")
		if err := os.WriteFile(bad, []byte("imagee = \"typo\"\n"), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		if _, err := Load(bad); err == nil {
			t.Error("expected error for unknown key")
		}
	})

	t.Run("bad compression", func(t *testing.T) {
		cfg.Export.Compression = "bzip2"
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("no file", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.MemoryMB != DefaultMemoryMB {
			t.Errorf("MemoryMB = %d", cfg.MemoryMB)
		}
	})
}

func TestApplyOptions(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	rest, err := cfg.ApplyOptions(`type=ext4,mb=32,part=1,log=/tmp/x.log,opts=data\=ordered\,noatime,ro,allow_other`)
	if err != nil {
		t.Fatalf("ApplyOptions failed: %v", err)
	}
	if cfg.FSType != "ext4" || cfg.MemoryMB != 32 || cfg.Partition != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.LogFile != "/tmp/x.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
	if cfg.Options != "data=ordered,noatime" {
		t.Errorf("Options = %q", cfg.Options)
	}
	if !cfg.ReadOnly {
		t.Error("expected ro to set ReadOnly")
	}
	if want := []string{"ro", "allow_other"}; !reflect.DeepEqual(rest, want) {
		t.Errorf("rest = %v, want %v", rest, want)
	}

	t.Run("bad number", func(t *testing.T) {
		if _, err := cfg.ApplyOptions("mb=lots"); err == nil {
			t.Error("expected error")
		}
		if _, err := cfg.ApplyOptions("part"); err == nil {
			t.Error("expected error for missing value")
		}
	})
}
