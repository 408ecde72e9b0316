package app

import (
	"fmt"
	"os"
	"strconv"
)

// writePIDFile writes the current process ID to the configured PID file.
func (a *App) writePIDFile() error {
	path := a.cfg.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	a.pidWritten = true

	a.logger.WithFields(map[string]interface{}{"path": path, "pid": pid}).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file written by writePIDFile.
func (a *App) removePIDFile() error {
	if !a.pidWritten {
		return nil
	}

	if err := os.Remove(a.cfg.PIDFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", a.cfg.PIDFile, err)
	}
	a.pidWritten = false

	a.logger.WithField("path", a.cfg.PIDFile).Debug("PID file removed")
	return nil
}
