package events

import (
	"context"
	"testing"
)

func TestCommandPollerBaselineThenFire(t *testing.T) {
	// The first observation sets the baseline without firing; a changed
	// output fires once.
	poller := NewCommandPoller(CommandConfig{Command: "date +%N", DiffMode: DiffHash}, discardLogger())

	fired := 0
	trigger := func(Payload) { fired++ }

	poller.Poll(context.Background(), trigger)
	if fired != 0 {
		t.Fatalf("baseline poll fired %d times", fired)
	}
	poller.Poll(context.Background(), trigger)
	if fired != 1 {
		t.Fatalf("changed poll fired %d times, want 1", fired)
	}
}

func TestCommandPollerStableOutputNeverFires(t *testing.T) {
	poller := NewCommandPoller(CommandConfig{Command: "echo constant", DiffMode: DiffFull}, discardLogger())

	fired := 0
	trigger := func(Payload) { fired++ }
	for i := 0; i < 3; i++ {
		poller.Poll(context.Background(), trigger)
	}
	if fired != 0 {
		t.Fatalf("stable output fired %d times", fired)
	}
}

func TestCommandPollerExitCodeMode(t *testing.T) {
	poller := NewCommandPoller(CommandConfig{Command: "true", DiffMode: DiffExitCode}, discardLogger())

	fired := 0
	poller.Poll(context.Background(), func(Payload) { fired++ })
	poller.Poll(context.Background(), func(Payload) { fired++ })
	if fired != 0 {
		t.Fatalf("constant exit code fired %d times", fired)
	}
}

func TestCompileGlob(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"node_modules/**", "project/node_modules/pkg/index.js", true},
		{"node_modules/**", "project/src/main.go", false},
		{"*.log", "logs/app.log", true},
		{"*.log", "logs/app.log.bak", false},
		{".git", "repo/.git/HEAD", true},
	}
	for _, c := range cases {
		re, err := compileGlob(c.pattern)
		if err != nil {
			t.Fatalf("compile %q: %v", c.pattern, err)
		}
		if got := re.MatchString(c.path); got != c.want {
			t.Errorf("glob %q vs %q = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
