package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunner_Run(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		wantCode int
		wantErr  bool
		wantOut  string
	}{
		{"success", []string{"/bin/sh", "-c", "echo hello; echo world >&2"}, 0, false, "hello\nworld"},
		{"non-zero exit", []string{"/bin/sh", "-c", "echo failing; exit 3"}, 3, true, "failing"},
		{"no output", []string{"/bin/true"}, 0, false, ""},
	}

	r := NewRunner(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Run(context.Background(), Command{Name: tt.name, Argv: tt.argv})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if res.Output != tt.wantOut {
				t.Errorf("Output = %q, want %q", res.Output, tt.wantOut)
			}
		})
	}
}

func TestRunner_NoCommand(t *testing.T) {
	r := NewRunner(nil)
	for _, argv := range [][]string{nil, {""}} {
		if _, err := r.Start(context.Background(), Command{Argv: argv}); !errors.Is(err, ErrNoCommand) {
			t.Errorf("Start(%q) error = %v, want ErrNoCommand", argv, err)
		}
	}
}

func TestRunner_StartFailure(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Start(context.Background(), Command{Argv: []string{"/nonexistent/reboot-helper"}})
	if err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if !strings.Contains(err.Error(), "starting /nonexistent/reboot-helper") {
		t.Errorf("error = %v", err)
	}
}

func TestHandle_Stop(t *testing.T) {
	r := NewRunner(nil)
	h, err := r.Start(context.Background(), Command{
		Argv:            []string{"/bin/sh", "-c", "sleep 30"},
		GracefulTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.PID() == 0 {
		t.Error("PID() = 0 for a running command")
	}

	start := time.Now()
	if _, err := h.Stop(); err == nil {
		t.Error("Stop() of a running command should report the termination")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Stop() took %v", elapsed)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(nil)
	start := time.Now()
	_, err := r.Run(context.Background(), Command{
		Argv:            []string{"/bin/sh", "-c", "sleep 30"},
		Timeout:         100 * time.Millisecond,
		GracefulTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("Run() should fail when the timeout expires")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v", elapsed)
	}
}

func TestRunner_Env(t *testing.T) {
	r := NewRunner(nil)
	res, err := r.Run(context.Background(), Command{
		Argv:    []string{"/bin/sh", "-c", "echo $IOTDM_IMAGE; pwd"},
		Env:     []string{"IOTDM_IMAGE=fw.bin"},
		WorkDir: "/",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Output != "fw.bin\n/" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 10}
	for _, l := range []string{"aaaa", "bbbb", "cccc"} {
		tb.WriteLine(l)
	}
	if got := tb.String(); got != "bbbb\ncccc" {
		t.Errorf("String() = %q, want %q", got, "bbbb\ncccc")
	}

	// A single oversized line is kept.
	tb = &tailBuffer{max: 4}
	tb.WriteLine("0123456789")
	if got := tb.String(); got != "0123456789" {
		t.Errorf("String() = %q", got)
	}
}
