// Duet CLI entry point.
//
// Duet sets up a two-party WebRTC audio call with manual signaling: offers,
// answers and ICE candidates are copied between the two sides by hand, over
// any channel the users already share. No signaling server is involved.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-config, -ui, -listen, -ice, -no-capture, -source, -debug).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/app"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	uiFlag := flag.String("ui", "", "Presentation mode: console or web")
	listenFlag := flag.String("listen", "", "Listen address of the web page (web mode only)")
	iceFlag := flag.String("ice", "", "Comma-separated STUN/TURN URLs, replacing the configured list")
	noCapture := flag.Bool("no-capture", false, "Disable microphone capture")
	sourceFlag := flag.String("source", "", "GStreamer audio source element, e.g. pulsesrc")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *debugMode || cfg.Log.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Duet — v%s", version))
	pterm.Println()

	// No flags at all: ask for the presentation mode.
	if flag.NFlag() == 0 {
		cfg.UI.Mode = askMode()
	}

	if *uiFlag != "" {
		cfg.UI.Mode = config.UIMode(*uiFlag)
	}
	if *listenFlag != "" {
		cfg.UI.Listen = *listenFlag
	}
	if *iceFlag != "" {
		cfg.ICEServers = splitList(*iceFlag)
	}
	if *noCapture {
		cfg.Capture.Enabled = false
	}
	if *sourceFlag != "" {
		cfg.Capture.Source = *sourceFlag
	}

	if err := config.Validate(cfg); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed, bye")
}

// askMode prompts for the presentation mode.
func askMode() config.UIMode {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Console — Menu in this terminal", "Web — Local page in a browser"}).
		WithDefaultText("Select how to drive the call").
		Show()

	pterm.Println()

	if strings.HasPrefix(mode, "Web") {
		return config.UIModeWeb
	}
	return config.UIModeConsole
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
