package utils

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kairos-io/mount-drives/types"
)

// RequireTools checks every tool is on PATH and returns an ErrToolMissing
// naming all of the missing ones.
func RequireTools(runner types.Runner, tools ...string) error {
	var missing []string
	seen := map[string]bool{}
	for _, t := range tools {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if _, err := runner.LookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", types.ErrToolMissing, strings.Join(missing, ", "))
}

// HasTool reports whether the tool is on PATH.
func HasTool(runner types.Runner, tool string) bool {
	_, err := runner.LookPath(tool)
	return err == nil
}
