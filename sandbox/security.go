package sandbox

import (
	"regexp"
)

// forbiddenPattern pairs a detection regex with the reason reported
// when it matches, per spec.md §4.4's forbidden-pattern set: arbitrary
// shell invocation, non-loopback network sockets, filesystem writes
// outside the scratch directory, loading native extensions.
type forbiddenPattern struct {
	pattern *regexp.Regexp
	reason  string
}

var forbiddenPatterns = []forbiddenPattern{
	{regexp.MustCompile(`(?i)\bos\.system\b|\bsubprocess\.(Popen|call|run)\b|\bexec\.Command\b|\bChild_process\b`), "arbitrary shell invocation"},
	{regexp.MustCompile("`[^`]*`"), "backtick shell invocation"},
	{regexp.MustCompile(`(?i)\bsocket\.(connect|socket)\b|\brequire\(['"]net['"]\)|\bnet\.Dial\b`), "raw network socket"},
	{regexp.MustCompile(`(?i)\burllib\.request\b|\brequests\.(get|post|put|delete)\b|\bfetch\(|\bhttp\.(get|request)\b`), "outbound network call"},
	// RE2 has no lookahead, so "an absolute path not under /workspace" is spelled out prefix by prefix.
	{regexp.MustCompile(`(?i)\bopen\(['"]/(?:[^w]|w(?:[^o]|o(?:[^r]|r(?:[^k]|k(?:[^s]|s(?:[^p]|p(?:[^a]|a(?:[^c]|c[^e]))))))))`), "filesystem write outside scratch directory"},
	{regexp.MustCompile(`(?i)\bos\.remove\b|\bos\.unlink\b|\bshutil\.rmtree\b`), "filesystem deletion outside scratch directory"},
	{regexp.MustCompile(`(?i)\bctypes\.CDLL\b|\bimportlib\.import_module\(['"]ctypes['"]\)|\brequire\(['"]ffi['"]\)|\bimport\s+"C"`), "loading native extension"},
	{regexp.MustCompile(`(?i)\beval\(|\bexec\(`), "dynamic code evaluation"},
}

// scan reports the reason for the first forbidden pattern it finds in
// code, or "" if none match. Matched entirely before any user code
// runs, per the spec's pre-execution static scan.
func scan(code string) string {
	for _, p := range forbiddenPatterns {
		if p.pattern.MatchString(code) {
			return p.reason
		}
	}
	return ""
}
