package pm2

import (
	"fmt"
	"strings"

	"github.com/haxhost/fleet/pkg/errors"
)

// stderrPatterns maps pm2 stderr substrings to sentinel errors. The table is
// ordered: the first match wins. Classification never retries anything;
// callers decide remediation ("already running" means use restart instead).
var stderrPatterns = []struct {
	substring string
	sentinel  error
}{
	{"process or namespace not found", errors.ErrProcessNotFound},
	{"process name not found", errors.ErrProcessNotFound},
	{"already running", errors.ErrProcessAlreadyRunning},
	{"already launched", errors.ErrProcessAlreadyRunning},
	{"not running", errors.ErrProcessNotRunning},
	{"process already stopped", errors.ErrProcessNotRunning},
}

// Classify wraps a failed remote command with the matching supervisor
// sentinel, when its stderr matches a known pm2 complaint. Anything else is
// returned unchanged.
func Classify(err error) error {
	cmdErr, ok := errors.IsCommandError(err)
	if !ok {
		return err
	}
	stderr := strings.ToLower(cmdErr.Stderr)
	for _, p := range stderrPatterns {
		if strings.Contains(stderr, p.substring) {
			return fmt.Errorf("%w: %v", p.sentinel, err)
		}
	}
	return err
}
