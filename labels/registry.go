// Package labels assigns canonical DiskN labels to partitions.
package labels

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/kairos-io/mount-drives/constants"
	"github.com/kairos-io/mount-drives/types"
)

var (
	canonicalRe = regexp.MustCompile(`^` + constants.LabelPrefix + `[0-9]+$`)
	unsafeRe    = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// IsCanonical reports whether label has the DiskN form.
func IsCanonical(label string) bool {
	return canonicalRe.MatchString(label)
}

// Sanitize strips characters outside [A-Za-z0-9_-]. The result is only ever
// shown to the user, never written to a device or the mount table.
func Sanitize(label string) string {
	return unsafeRe.ReplaceAllString(label, "")
}

// Canonical returns the canonical label for counter n.
func Canonical(n int) string {
	return constants.LabelPrefix + strconv.Itoa(n)
}

// Registry tracks which partition owns each label during a run.
// It is not safe for concurrent use.
type Registry struct {
	owners map[string]string
}

func NewRegistry() *Registry {
	return &Registry{owners: map[string]string{}}
}

// Owner returns the UUID holding label, if any.
func (r *Registry) Owner(label string) (string, bool) {
	uuid, ok := r.owners[label]
	return uuid, ok
}

// Register records uuid as the owner of label. Registering the same pair
// twice is a no-op, a label owned by another UUID is an error.
func (r *Registry) Register(label, uuid string) error {
	if owner, ok := r.owners[label]; ok && owner != uuid {
		return fmt.Errorf("label %s already assigned to %s", label, owner)
	}
	r.owners[label] = uuid
	return nil
}

// Next returns the lowest unused canonical label. ErrLabelLimitExceeded is
// returned when all MaxLabels of them are taken.
func (r *Registry) Next() (string, error) {
	for n := 0; n < constants.MaxLabels; n++ {
		label := Canonical(n)
		if _, taken := r.owners[label]; !taken {
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: all %d labels in use", types.ErrLabelLimitExceeded, constants.MaxLabels)
}

// Labels returns the registered labels sorted.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.owners))
	for l := range r.owners {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
