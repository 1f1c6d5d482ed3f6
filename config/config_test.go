package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PollRate != time.Second {
		t.Errorf("PollRate = %v, want 1s", cfg.PollRate)
	}
	if len(cfg.PLCs) != 0 {
		t.Errorf("expected no PLCs by default, got %d", len(cfg.PLCs))
	}
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns default for nonexistent file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.PollRate != time.Second {
			t.Error("expected default config")
		}
	})

	t.Run("save and load roundtrip", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test.yaml")

		cfg := &Config{
			Namespace: "line1",
			PollRate:  500 * time.Millisecond,
			PLCs: []PLCConfig{
				{
					Name:    "TestPLC",
					Address: "192.168.1.100",
					Rack:    0,
					Slot:    2,
					Enabled: true,
					Tags: []TagConfig{
						{Name: "BoilerTemp", Address: "DB1.DBD0", Alias: "temperature"},
					},
				},
			},
		}

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if loaded.PollRate != 500*time.Millisecond {
			t.Errorf("expected 500ms poll rate, got %v", loaded.PollRate)
		}
		if len(loaded.PLCs) != 1 || loaded.PLCs[0].Name != "TestPLC" {
			t.Fatal("PLC config not preserved")
		}
		if loaded.PLCs[0].Slot != 2 {
			t.Errorf("slot not preserved: got %d", loaded.PLCs[0].Slot)
		}
		if len(loaded.PLCs[0].Tags) != 1 || loaded.PLCs[0].Tags[0].Alias != "temperature" {
			t.Error("tag config not preserved")
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		path := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")
		cfg := DefaultConfig()

		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("config file was not created")
		}
	})

	t.Run("returns error for invalid yaml", func(t *testing.T) {
		path := filepath.Join(tmpDir, "invalid.yaml")
		os.WriteFile(path, []byte("invalid: yaml: content: ["), 0644)

		_, err := Load(path)
		if err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

func TestPLCOperations(t *testing.T) {
	cfg := DefaultConfig()

	cfg.AddPLC(PLCConfig{Name: "PLC1", Address: "10.0.0.1"})
	cfg.AddPLC(PLCConfig{Name: "PLC2", Address: "10.0.0.2"})

	if found := cfg.FindPLC("PLC1"); found == nil || found.Address != "10.0.0.1" {
		t.Fatal("expected to find PLC1")
	}

	if found := cfg.FindPLC("missing"); found != nil {
		t.Error("expected nil for missing PLC")
	}

	if !cfg.UpdatePLC("PLC2", PLCConfig{Name: "PLC2", Address: "10.0.0.99"}) {
		t.Fatal("UpdatePLC should have succeeded")
	}
	if found := cfg.FindPLC("PLC2"); found.Address != "10.0.0.99" {
		t.Error("PLC2 address not updated")
	}

	if !cfg.RemovePLC("PLC1") {
		t.Fatal("RemovePLC should have succeeded")
	}
	if cfg.FindPLC("PLC1") != nil {
		t.Error("PLC1 should have been removed")
	}
	if cfg.RemovePLC("PLC1") {
		t.Error("removing an already-removed PLC should return false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty namespace ok", Config{}, false},
		{"valid namespace", Config{Namespace: "line-1.cell_2"}, false},
		{"invalid namespace", Config{Namespace: "line 1"}, true},
		{"plc missing address", Config{PLCs: []PLCConfig{{Name: "p1"}}}, true},
		{"plc negative rack", Config{PLCs: []PLCConfig{{Name: "p1", Address: "10.0.0.1", Rack: -1}}}, true},
		{"plc ok", Config{PLCs: []PLCConfig{{Name: "p1", Address: "10.0.0.1", Rack: 0, Slot: 2}}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestIsValidNamespace(t *testing.T) {
	tests := []struct {
		ns    string
		valid bool
	}{
		{"", false},
		{"line1", true},
		{"line-1_cell.2", true},
		{"line 1", false},
		{"line/1", false},
	}

	for _, tc := range tests {
		if got := IsValidNamespace(tc.ns); got != tc.valid {
			t.Errorf("IsValidNamespace(%q) = %v, want %v", tc.ns, got, tc.valid)
		}
	}
}

func TestOnChangeListeners(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	cfg := DefaultConfig()

	done := make(chan struct{}, 1)
	id := cfg.AddOnChangeListener(func() { done <- struct{}{} })

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener was not called within 1s")
	}

	cfg.RemoveOnChangeListener(id)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case <-done:
		t.Fatal("listener fired after removal")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
	if filepath.Base(filepath.Dir(path)) != ".s7link" {
		t.Errorf("DefaultPath = %q, want dir .s7link", path)
	}
}
