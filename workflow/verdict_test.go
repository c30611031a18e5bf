package workflow

import "testing"

func TestAggregatePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		result ImplementationResult
		want   Verdict
	}{
		{
			name:   "clean run",
			result: ImplementationResult{Status: StatusCompleted, Build: &BuildResult{Success: true}, Tests: &TestResult{Total: 5, Passed: 5}},
			want:   VerdictSuccess,
		},
		{
			name:   "no sub-results",
			result: ImplementationResult{Status: StatusCompleted},
			want:   VerdictSuccess,
		},
		{
			name:   "explicit errors win over everything",
			result: ImplementationResult{Errors: []string{"branch creation failed"}, Build: &BuildResult{Success: false}, Tests: &TestResult{Failed: 3}},
			want:   VerdictExplicitFailure,
		},
		{
			name: "build failure wins over stale test data",
			result: ImplementationResult{
				Build: &BuildResult{Success: false, Errors: []string{"undefined: Foo"}},
				Tests: &TestResult{Total: 5, Passed: 5},
			},
			want: VerdictBuildFailure,
		},
		{
			name: "build failure wins over failing tests",
			result: ImplementationResult{
				Build: &BuildResult{Success: false},
				Tests: &TestResult{Total: 5, Passed: 2, Failed: 3},
			},
			want: VerdictBuildFailure,
		},
		{
			name:   "test failure",
			result: ImplementationResult{Build: &BuildResult{Success: true}, Tests: &TestResult{Total: 5, Passed: 4, Failed: 1}},
			want:   VerdictTestFailure,
		},
		{
			name:   "missing build with failing tests",
			result: ImplementationResult{Tests: &TestResult{Total: 2, Failed: 2}},
			want:   VerdictTestFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(&tt.result); got != tt.want {
				t.Errorf("Aggregate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusForVerdict(t *testing.T) {
	tests := []struct {
		verdict Verdict
		want    ImplementationStatus
	}{
		{VerdictSuccess, StatusCompleted},
		{VerdictBuildFailure, StatusBuildFailed},
		{VerdictTestFailure, StatusTestFailed},
		{VerdictExplicitFailure, StatusFailed},
	}
	for _, tt := range tests {
		if got := StatusForVerdict(tt.verdict); got != tt.want {
			t.Errorf("StatusForVerdict(%s) = %s, want %s", tt.verdict, got, tt.want)
		}
	}
}

func TestVerdictIsFailure(t *testing.T) {
	if VerdictSuccess.IsFailure() {
		t.Error("success should not be a failure")
	}
	for _, v := range []Verdict{VerdictBuildFailure, VerdictTestFailure, VerdictExplicitFailure} {
		if !v.IsFailure() {
			t.Errorf("%s should be a failure", v)
		}
	}
}
