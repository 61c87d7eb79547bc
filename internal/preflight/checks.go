package preflight

import (
	"os/exec"
	"sort"

	"github.com/peterje/termbridge/internal/models"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"go.uber.org/zap"
)

// CheckCommands reports, per session key, whether the command's binary can
// be found. Missing binaries are logged but not fatal: connecting to that
// key reports the spawn failure to the client.
func CheckCommands(commands map[string]ptymgr.Command, log *zap.Logger) []models.CLIStatus {
	if log == nil {
		log = zap.NewNop()
	}
	statuses := make([]models.CLIStatus, 0, len(commands))
	for key, cmd := range commands {
		status := checkCLI(key, cmd.Path)
		if status.Installed {
			log.Info("command found", zap.String("key", key), zap.String("path", status.Path))
		} else {
			log.Warn("command not found, sessions for this key will fail to start",
				zap.String("key", key), zap.String("command", cmd.Path))
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}

func checkCLI(key, name string) models.CLIStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return models.CLIStatus{Key: key, Name: name, Installed: false}
	}
	return models.CLIStatus{Key: key, Name: name, Installed: true, Path: path}
}
