// Package prompt provides interactive terminal prompts for CLI commands.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user aborted.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// Confirm prompts the user for yes/no confirmation. Empty input picks the
// default. Ctrl+C returns ErrAborted.
func Confirm(label string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}
	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, defaultStr),
		IsConfirm: true,
	}

	result, err := p.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return false, ErrAborted
		}
		// promptui returns ErrAbort for anything but "y"
		if err == promptui.ErrAbort {
			if strings.TrimSpace(result) == "" {
				return defaultYes, nil
			}
			return false, nil
		}
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(result))
	return answer == "y" || answer == "yes", nil
}

// ConfirmWithForce returns true immediately if force is true,
// otherwise prompts for confirmation.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}
