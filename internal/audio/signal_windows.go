//go:build windows

package audio

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pausing ffplay is not supported on windows")

func suspendProcess(*os.Process) error {
	return errPauseUnsupported
}

func resumeProcess(*os.Process) error {
	return errPauseUnsupported
}
