package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewAppliesDefaultsThenOverrides(t *testing.T) {
	o := New(WithBaud(9600), WithMaxRetries(5), WithPasteWindow(512))
	if o.Baud != 9600 {
		t.Fatalf("Baud = %d, want 9600", o.Baud)
	}
	if o.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", o.MaxRetries)
	}
	if o.CommandTimeout != 30*time.Second {
		t.Fatalf("CommandTimeout = %v, want default 30s", o.CommandTimeout)
	}
	if o.PasteWindow != 512 {
		t.Fatalf("PasteWindow = %d, want 512", o.PasteWindow)
	}
}

func TestLoadDefaultsMissingFileIsNoop(t *testing.T) {
	opt, err := LoadDefaults(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	o := New(opt)
	if o.Baud != defaults().Baud {
		t.Fatalf("Baud = %d, want default %d", o.Baud, defaults().Baud)
	}
}

func TestLoadDefaultsAppliesFileThenOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.json")
	contents := `{"baud": 57600, "max_retries": 7, "command_timeout_ms": 5000, "paste_window": 128}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opt, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	o := New(opt, WithMaxRetries(9))
	if o.Baud != 57600 {
		t.Fatalf("Baud = %d, want 57600", o.Baud)
	}
	if o.CommandTimeout != 5*time.Second {
		t.Fatalf("CommandTimeout = %v, want 5s", o.CommandTimeout)
	}
	if o.MaxRetries != 9 {
		t.Fatalf("MaxRetries = %d, want 9 (explicit override beats file)", o.MaxRetries)
	}
	if o.PasteWindow != 128 {
		t.Fatalf("PasteWindow = %d, want 128", o.PasteWindow)
	}
}

func TestParseEndpointSerial(t *testing.T) {
	ep, err := ParseEndpoint("serial:/dev/ttyACM0@9600")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Serial == nil {
		t.Fatalf("Serial endpoint not set")
	}
	if ep.Serial.Path != "/dev/ttyACM0" || ep.Serial.Baud != 9600 {
		t.Fatalf("Serial = %+v", ep.Serial)
	}
}

func TestParseEndpointSerialDefaultBaud(t *testing.T) {
	ep, err := ParseEndpoint("serial:/dev/ttyACM0")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Serial.Baud != 115200 {
		t.Fatalf("Baud = %d, want default 115200", ep.Serial.Baud)
	}
}

func TestParseEndpointSubprocess(t *testing.T) {
	ep, err := ParseEndpoint("subprocess:micropython -i")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Subprocess == nil || ep.Subprocess.Executable != "micropython" {
		t.Fatalf("Subprocess = %+v", ep.Subprocess)
	}
	if len(ep.Subprocess.Args) != 1 || ep.Subprocess.Args[0] != "-i" {
		t.Fatalf("Args = %v", ep.Subprocess.Args)
	}
}

func TestParseEndpointRejectsUnknownScheme(t *testing.T) {
	if _, err := ParseEndpoint("telnet:localhost"); err == nil {
		t.Fatalf("expected an error for an unsupported scheme")
	}
}

func TestParseEndpointRejectsMissingScheme(t *testing.T) {
	if _, err := ParseEndpoint("/dev/ttyACM0"); err == nil {
		t.Fatalf("expected an error for a connection string with no scheme")
	}
}
