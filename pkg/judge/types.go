package judge

import "context"

// Judge statuses reported at the top level of a response.
const (
	StatusSuccess      = "success"
	StatusCompileError = "compile_error"
	StatusRuntimeError = "runtime_error"
	StatusError        = "error"
)

// Per test case statuses reported by the engine.
const (
	CaseAccepted            = "AC"
	CaseWrongAnswer         = "WA"
	CaseTimeLimitExceeded   = "TLE"
	CaseMemoryLimitExceeded = "MLE"
	CaseRuntimeError        = "RE"
)

// TestCase is one hidden or sample case sent along with the code.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// Request asks the engine to run code against the given cases.
type Request struct {
	Code      string     `json:"code"`
	Language  string     `json:"language"`
	TestCases []TestCase `json:"test_cases"`
}

// CaseResult is the engine outcome for one test case. ExecutionTime is in milliseconds,
// Memory in kilobytes.
type CaseResult struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expected_output"`
	ActualOutput   string  `json:"actual_output"`
	Passed         bool    `json:"passed"`
	Status         string  `json:"status"`
	ExecutionTime  float64 `json:"execution_time"`
	Memory         int64   `json:"memory"`
}

// Response is the engine verdict for a request.
type Response struct {
	Status         string       `json:"status"`
	TotalCase      int          `json:"total_case"`
	TotalCaseBenar int          `json:"total_case_benar"`
	Results        []CaseResult `json:"results"`
	ErrorMessage   string       `json:"error_message"`

	// Raw holds the undecoded response body for auditing.
	Raw []byte `json:"-"`
}

// Judge runs code against test cases and returns the verdict.
type Judge interface {
	Judge(ctx context.Context, req Request) (Response, error)
}
