package commands

import (
	"bufio"
	"io"
	"strings"

	"github.com/jmylchreest/slipstream/internal/control"
)

type command int

const (
	cmdNone command = iota
	cmdPause
	cmdResume
	cmdStop
)

func parseCommand(line string) command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "p", "pause":
		return cmdPause
	case "r", "resume":
		return cmdResume
	case "s", "stop", "q", "quit":
		return cmdStop
	}
	return cmdNone
}

// readCommands drives sig from line commands until stop or EOF.
func readCommands(r io.Reader, sig *control.Signal) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch parseCommand(line) {
		case cmdPause:
			if sig.Pause() {
				logInfo("Paused. r to resume, s to stop")
			}
		case cmdResume:
			if sig.Resume() {
				logInfo("Resumed")
			}
		case cmdStop:
			logInfo("Stopping")
			sig.Stop()
			return
		default:
			logError("unknown command %q (use p, r or s)", strings.TrimSpace(line))
		}
	}
}
