package conch

import (
	"strings"
	"testing"
	"time"

	"github.com/conchlabs/conch/backend/quickjs"
)

func TestRunBasic(t *testing.T) {
	result := Run(`console.log("hello from conch")`, DefaultConfig())
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}
	if !strings.Contains(result.Output, "hello from conch") {
		t.Errorf("output = %q", result.Output)
	}
}

func TestRunWaitsForTimers(t *testing.T) {
	result := Run(`
var order = [];
setTimeout(function () { console.log("second"); }, 30);
console.log("first");
`, DefaultConfig())
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}
	first := strings.Index(result.Output, "first")
	second := strings.Index(result.Output, "second")
	if first == -1 || second == -1 {
		t.Fatalf("output = %q", result.Output)
	}
	if second < first {
		t.Errorf("timer output before synchronous output: %q", result.Output)
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond

	result := Run(`for (;;) {}`, cfg)
	if result.Err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRunSharedEngine(t *testing.T) {
	eng, err := quickjs.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer eng.Close()

	cfg := DefaultConfig()
	cfg.Engine = eng

	for i := 0; i < 3; i++ {
		result := Run(`console.log("run")`, cfg)
		if result.Err != nil {
			t.Fatalf("run %d failed: %v", i, result.Err)
		}
		if !strings.Contains(result.Output, "run") {
			t.Errorf("run %d output = %q", i, result.Output)
		}
	}
}
