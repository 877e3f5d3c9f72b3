package main

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"

	"tidal/internal/host"
	"tidal/internal/observ"
)

func parseLocale(s string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return language.English
	}
	return tag
}

// printRunReport writes the phase timings and run statistics requested.
func printRunReport(out io.Writer, res host.Result, timer *observ.Timer, timings, stats bool, tag language.Tag) {
	if out == nil {
		return
	}
	if timings && timer != nil {
		fmt.Fprint(out, timer.Summary())
	}
	if stats {
		fmt.Fprint(out, observ.FormatRows("run", res.Stats.Rows(), tag))
	}
}
