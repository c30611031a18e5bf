package runner

import (
	"math"
	"strings"
	"testing"
)

const passingOutput = `=== RUN   TestLogin
--- PASS: TestLogin (0.00s)
=== RUN   TestRefresh
--- PASS: TestRefresh (0.01s)
=== RUN   TestLogout
--- PASS: TestLogout (0.00s)
PASS
coverage: 85.0% of statements
ok  	example.com/app/auth	0.031s	coverage: 85.0% of statements
`

const failingOutput = `=== RUN   TestLogin
--- PASS: TestLogin (0.00s)
=== RUN   TestRefresh
    session_test.go:42: token not refreshed
--- FAIL: TestRefresh (0.01s)
FAIL
coverage: 61.5% of statements
FAIL	example.com/app/auth	0.030s
`

func TestParseTestOutputPassing(t *testing.T) {
	result := parseTestOutput(passingOutput)
	if result.Total != 3 || result.Passed != 3 || result.Failed != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/3/0", result.Total, result.Passed, result.Failed)
	}
	if result.Coverage == nil {
		t.Fatal("coverage not parsed")
	}
	if math.Abs(*result.Coverage-0.85) > 1e-9 {
		t.Errorf("coverage = %v, want 0.85", *result.Coverage)
	}
}

func TestParseTestOutputFailing(t *testing.T) {
	result := parseTestOutput(failingOutput)
	if result.Total != 2 || result.Passed != 1 || result.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", result.Total, result.Passed, result.Failed)
	}
	if result.Coverage == nil || math.Abs(*result.Coverage-0.615) > 1e-9 {
		t.Errorf("coverage = %v, want 0.615", result.Coverage)
	}
}

func TestParseTestOutputNoCoverage(t *testing.T) {
	result := parseTestOutput("--- PASS: TestX (0.00s)\nPASS\n")
	if result.Coverage != nil {
		t.Errorf("coverage = %v, want nil", *result.Coverage)
	}
}

func TestParseTestOutputMultiPackageCoverageAveraged(t *testing.T) {
	output := `--- PASS: TestA (0.00s)
ok  	example.com/app/a	0.01s	coverage: 80.0% of statements
--- PASS: TestB (0.00s)
ok  	example.com/app/b	0.01s	coverage: 60.0% of statements
`
	result := parseTestOutput(output)
	if result.Coverage == nil || math.Abs(*result.Coverage-0.70) > 1e-9 {
		t.Errorf("coverage = %v, want 0.70", result.Coverage)
	}
}

func TestParseBuildErrorsKeepsLinesVerbatim(t *testing.T) {
	output := `# example.com/app/auth
internal/auth/login.go:12:2: undefined: session.Refresh
internal/auth/login.go:20:10: cannot use x (variable of type int) as string value

`
	errs := parseBuildErrors(output)
	if len(errs) != 2 {
		t.Fatalf("got %d errors: %v", len(errs), errs)
	}
	if errs[0] != "internal/auth/login.go:12:2: undefined: session.Refresh" {
		t.Errorf("error not verbatim: %q", errs[0])
	}
}

func TestParseBuildErrorsTruncates(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("pkg/file.go:1:1: some error\n")
	}
	errs := parseBuildErrors(sb.String())
	if len(errs) != maxBuildErrors+1 {
		t.Errorf("got %d errors, want %d plus truncation marker", len(errs), maxBuildErrors+1)
	}
	if errs[len(errs)-1] != "(further errors truncated)" {
		t.Errorf("missing truncation marker, last = %q", errs[len(errs)-1])
	}
}

func TestParseBuildErrorsEmptyOutput(t *testing.T) {
	errs := parseBuildErrors("\n\n")
	if len(errs) != 1 || !strings.Contains(errs[0], "no diagnostic output") {
		t.Errorf("errs = %v", errs)
	}
}

func TestNewDefaults(t *testing.T) {
	r := New(".", nil, nil, nil)
	if r.buildCmd[0] != "go" || r.testCmd[0] != "go" {
		t.Errorf("defaults = %v / %v", r.buildCmd, r.testCmd)
	}
}
