// Package prompt asks the operator yes/no questions.
package prompt

import (
	"os"

	"github.com/kairos-io/mount-drives/types"
	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// Prompter answers a yes/no question. def is the answer an operator gets by
// just pressing enter.
type Prompter interface {
	Confirm(message string, def bool) (bool, error)
}

// Func adapts a function to a Prompter.
type Func func(message string, def bool) (bool, error)

func (f Func) Confirm(message string, def bool) (bool, error) {
	return f(message, def)
}

// Interactive asks on the terminal.
type Interactive struct {
	Logger *types.Logger
}

func (i *Interactive) Confirm(message string, def bool) (bool, error) {
	answer, err := pterm.DefaultInteractiveConfirm.WithDefaultValue(def).Show(message)
	if err != nil {
		return false, err
	}
	i.Logger.Logger.Debug().Str("question", message).Bool("answer", answer).Msg("Operator answered")
	return answer, nil
}

// AssumeYes accepts every question, for unattended runs that opted in.
type AssumeYes struct {
	Logger *types.Logger
}

func (a *AssumeYes) Confirm(message string, _ bool) (bool, error) {
	a.Logger.Logger.Info().Str("question", message).Msg("Assuming yes")
	return true, nil
}

// Decline refuses every question. Used when nobody can answer, so nothing
// gets relabeled or mounted without consent.
type Decline struct {
	Logger *types.Logger
}

func (d *Decline) Confirm(message string, _ bool) (bool, error) {
	d.Logger.Logger.Warn().Str("question", message).Msg("No terminal to ask on, declining")
	return false, nil
}

// New picks the prompter for this process: AssumeYes when requested,
// Interactive when stdin is a terminal and Decline otherwise.
func New(assumeYes bool, logger *types.Logger) Prompter {
	switch {
	case assumeYes:
		return &AssumeYes{Logger: logger}
	case term.IsTerminal(int(os.Stdin.Fd())):
		return &Interactive{Logger: logger}
	default:
		return &Decline{Logger: logger}
	}
}
