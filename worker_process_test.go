package main

import (
	"errors"
	"os/exec"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
		err  error
	}{
		{in: "xmrig --config=cn.json", want: []string{"xmrig", "--config=cn.json"}},
		{in: `"/opt/my miner/xmrig" -o localhost:3333 --pass 'rig 1'`, want: []string{"/opt/my miner/xmrig", "-o", "localhost:3333", "--pass", "rig 1"}},
		{in: "   ", err: errEmptyCommand},
	}
	for _, tt := range tests {
		got, err := splitCommand(tt.in)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Fatalf("splitCommand(%q) err = %v, want %v", tt.in, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("splitCommand(%q): %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("splitCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := splitCommand(`xmrig "unterminated`); err == nil {
		t.Fatalf("expected an error for an unterminated quote")
	}
}

func TestPumpLines(t *testing.T) {
	var got []string
	pumpLines(strings.NewReader("one\r\ntwo\n\nthree"), func(line string) { got = append(got, line) })
	if !reflect.DeepEqual(got, []string{"one", "two", "three"}) {
		t.Fatalf("lines = %q", got)
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecLauncherCollectsOutput(t *testing.T) {
	requireShell(t)
	var mu sync.Mutex
	var lines []string
	proc, err := newExecLauncher().Start(`sh -c "echo first; echo second 1>&2"`, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if proc.Pid() <= 0 {
		t.Fatalf("pid = %d", proc.Pid())
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}
	if err := proc.Err(); err != nil {
		t.Fatalf("exit error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
}

func TestExecLauncherKill(t *testing.T) {
	requireShell(t)
	l := newExecLauncher()
	l.grace = 500 * time.Millisecond
	proc, err := l.Start("sleep 30", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process survived kill")
	}
	if proc.Err() == nil {
		t.Fatalf("expected a non-nil exit error for a killed process")
	}
}

func TestExecLauncherMissingBinary(t *testing.T) {
	if _, err := newExecLauncher().Start("definitely-not-a-miner-binary --algo", nil); err == nil {
		t.Fatalf("expected an error for a missing binary")
	}
}
