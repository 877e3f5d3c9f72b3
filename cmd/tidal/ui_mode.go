package main

import (
	"fmt"
	"os"
	"strings"
)

type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "off":
		return uiModeOff, nil
	case "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
}

// shouldUseTUI decides whether the monitor takes over the terminal. Feeding
// stdin to the guest rules it out since both would read the terminal.
func shouldUseTUI(mode uiMode, readsStdin bool) bool {
	if readsStdin {
		return false
	}
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	default:
		return isTerminal(os.Stdout)
	}
}
