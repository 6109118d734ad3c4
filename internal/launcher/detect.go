// Package launcher starts a game with PRIME offload environment, runs the
// configured hooks around it and reports its exit code.
package launcher

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Game describes what was detected from a launch command line.
type Game struct {
	// AppID is the Steam app id, or 0.
	AppID uint32
	// Name is the lower-cased executable stem used for per-game config.
	Name string
	// Args are the arguments that follow the detected executable.
	Args []string
}

// DetectGame inspects a command line as Steam hands it to a launch wrapper.
// The executable is the first .exe after "waitforexitandrun", else the last
// .exe anywhere, else the first argument.
func DetectGame(args []string) Game {
	var g Game
	if len(args) == 0 {
		return g
	}

	for _, arg := range args {
		if raw, ok := strings.CutPrefix(arg, "AppId="); ok {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
				g.AppID = uint32(id)
				break
			}
		}
	}

	idx := -1
	for i, arg := range args {
		if arg != "waitforexitandrun" {
			continue
		}
		for j := i + 1; j < len(args); j++ {
			if isExe(args[j]) {
				idx = j
				break
			}
		}
		break
	}
	if idx < 0 {
		for i := len(args) - 1; i >= 0; i-- {
			if isExe(args[i]) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = 0
	}

	g.Name = stem(args[idx])
	g.Args = append([]string{}, args[idx+1:]...)
	return g
}

func isExe(arg string) bool {
	return strings.HasSuffix(strings.ToLower(arg), ".exe")
}

func stem(path string) string {
	// Windows paths come through Proton unchanged.
	base := filepath.Base(strings.ReplaceAll(path, `\`, "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == "/" {
		return "unknown"
	}
	return strings.ToLower(name)
}
