package suite

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	passedRe = regexp.MustCompile(`(\d+) passed`)
	failedRe = regexp.MustCompile(`(\d+) failed`)
	// Lines like "tests/test_foo.py::test_bar FAILED".
	failedTestRe = regexp.MustCompile(`(\S+::\S+)\s+FAILED`)
)

// reportFile is the machine-readable report schema a test command may emit.
type reportFile struct {
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Total       int      `json:"total"`
	FailedTests []string `json:"failed_tests"`
}

func parseReportFile(path string) (Counts, []string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Counts{}, nil, false
	}
	var rep reportFile
	if err := json.Unmarshal(data, &rep); err != nil {
		return Counts{}, nil, false
	}
	total := rep.Total
	if total == 0 {
		total = rep.Passed + rep.Failed
	}
	return Counts{Passed: rep.Passed, Failed: rep.Failed, Total: total}, rep.FailedTests, true
}

// parseOutput extracts counts and failed test names from a pytest-style
// summary ("5 passed, 2 failed").
func parseOutput(stdout []byte) (Counts, []string, bool) {
	out := string(stdout)

	var counts Counts
	parsed := false
	if m := passedRe.FindStringSubmatch(out); m != nil {
		counts.Passed, _ = strconv.Atoi(m[1])
		parsed = true
	}
	if m := failedRe.FindStringSubmatch(out); m != nil {
		counts.Failed, _ = strconv.Atoi(m[1])
		parsed = true
	}
	counts.Total = counts.Passed + counts.Failed

	var failedTests []string
	for _, m := range failedTestRe.FindAllStringSubmatch(out, -1) {
		failedTests = append(failedTests, m[1])
	}

	return counts, failedTests, parsed
}

// failureMessage pulls the most useful error line out of the output: the
// last pytest "E   ..." line, falling back to naming the failed tests.
func failureMessage(stdout []byte, failedTests []string) string {
	var lastError string
	for _, line := range strings.Split(string(stdout), "\n") {
		if strings.HasPrefix(line, "E   ") {
			lastError = strings.TrimSpace(line[4:])
		}
	}
	if lastError != "" {
		return lastError
	}
	if len(failedTests) > 0 {
		return "failed: " + strings.Join(failedTests, ", ")
	}
	return "test suite reported failures"
}
