package labels

import (
	"fmt"

	"github.com/kairos-io/mount-drives/prompt"
	"github.com/kairos-io/mount-drives/types"
)

// Resolver decides the working label of each partition of a run.
type Resolver struct {
	Registry  *Registry
	Prompter  prompt.Prompter
	Relabeler Relabeler
	Logger    *types.Logger
}

// Resolve returns the label p is mounted under.
//
// A canonical on-disk label is kept as long as no other partition owns it.
// Anything else gets the next free canonical label, which is only applied
// after the operator confirms it. Errors wrap ErrLabelDeclined, ErrRelabel or
// ErrLabelLimitExceeded.
func (r *Resolver) Resolve(p types.BlockPartition) (string, error) {
	log := r.Logger.Logger.With().Str("device", p.Device).Str("uuid", p.UUID).Logger()

	if IsCanonical(p.Label) {
		if owner, taken := r.Registry.Owner(p.Label); !taken || owner == p.UUID {
			if err := r.Registry.Register(p.Label, p.UUID); err != nil {
				return "", err
			}
			log.Debug().Str("label", p.Label).Msg("Keeping canonical label")
			return p.Label, nil
		}
		log.Info().Str("label", p.Label).Msg("Canonical label already in use, generating a new one")
	}

	next, err := r.Registry.Next()
	if err != nil {
		return "", err
	}

	current := Sanitize(p.Label)
	if current == "" {
		current = "none"
	}
	question := fmt.Sprintf("Relabel %s (%s, current label %q) as %s?", p.Device, p.FS, current, next)
	ok, err := r.Prompter.Confirm(question, true)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", types.ErrLabelDeclined, p.Device, err)
	}
	if !ok {
		log.Info().Str("label", next).Msg("Generated label declined, skipping partition")
		return "", fmt.Errorf("%w: %s", types.ErrLabelDeclined, p.Device)
	}

	if err := r.Relabeler.Relabel(p.FS, p.Device, next); err != nil {
		return "", err
	}
	if err := r.Registry.Register(next, p.UUID); err != nil {
		return "", err
	}
	log.Info().Str("label", next).Msg("Partition relabeled")
	return next, nil
}
