package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisuehlinger/postmessage/js"
	"github.com/chrisuehlinger/postmessage/network"
)

var runCmd = &cobra.Command{
	Use:   "run <main.js>",
	Short: "Run scripts and report the message events they produce",
	Long: `Run loads main.js into a window for --origin, opens one auxiliary window
per --window binding (their opener is the main window), registers one
service worker per --service-worker binding (controlling every window of its
origin), runs the window scripts in order and then drives the host until it
is idle. Scripts can be paths, file:, data: or http(s) URLs.`,
	Example: `  postmessage run main.js
  postmessage run main.js --window https://child.example=child.js
  postmessage run page.js --origin https://app.example \
    --service-worker https://app.example/sw.js=sw.js --output yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runScripts,
}

func init() {
	runCmd.Flags().String("origin", "", "URL of the main window (default: window.origin from config)")
	runCmd.Flags().StringArray("window", nil, "auxiliary window as url=script (repeatable)")
	runCmd.Flags().StringArray("service-worker", nil, "service worker as scriptURL=script (repeatable)")
	runCmd.Flags().Duration("fetch-timeout", 30*time.Second, "timeout for loading scripts over HTTP")
	rootCmd.AddCommand(runCmd)
}

// binding is a url=script flag value.
type binding struct {
	url    string
	script string
}

func parseBinding(flag, value string) (binding, error) {
	url, script, ok := strings.Cut(value, "=")
	if !ok || url == "" || script == "" {
		return binding{}, fmt.Errorf("--%s %q: want url=script", flag, value)
	}
	return binding{url: url, script: script}, nil
}

func parseBindings(cmd *cobra.Command, flag string) ([]binding, error) {
	values, err := cmd.Flags().GetStringArray(flag)
	if err != nil {
		return nil, err
	}
	out := make([]binding, 0, len(values))
	for _, v := range values {
		b, err := parseBinding(flag, v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// windowScript is a window waiting for its script to run.
type windowScript struct {
	scope  *js.GlobalScope
	script *network.Script
}

func runScripts(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	format, _ := cmd.Flags().GetString("output")
	origin, _ := cmd.Flags().GetString("origin")
	if origin == "" {
		origin = cfg.Window.Origin
	}
	fetchTimeout, _ := cmd.Flags().GetDuration("fetch-timeout")

	windows, err := parseBindings(cmd, "window")
	if err != nil {
		return err
	}
	workers, err := parseBindings(cmd, "service-worker")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	client, err := network.NewClient(network.WithTimeout(fetchTimeout))
	if err != nil {
		return err
	}
	loader := network.NewLoader(client)

	host := js.NewHost(js.HostOptions{
		MaxMessageBytes: cfg.Host.MaxMessageBytes,
		MaxTasksPerTurn: cfg.Host.MaxTasksPerTurn,
		OpenURL:         cfg.Window.OpenOrigin,
		Logger:          logger,
	})
	defer host.Close()

	report := &runReport{}
	host.OnDelivery(func(rec js.DeliveryRecord) {
		report.Deliveries = append(report.Deliveries, rec)
	})

	mainWindow, err := host.NewWindow(origin)
	if err != nil {
		return err
	}
	mainScript, err := loader.Load(ctx, args[0])
	if err != nil {
		return err
	}
	pending := []windowScript{{scope: mainWindow, script: mainScript}}

	for _, b := range windows {
		child, err := mainWindow.Open(b.url)
		if err != nil {
			return fmt.Errorf("window %s: %w", b.url, err)
		}
		script, err := loader.Load(ctx, b.script)
		if err != nil {
			return fmt.Errorf("window %s: %w", b.url, err)
		}
		pending = append(pending, windowScript{scope: child, script: script})
	}

	for _, b := range workers {
		script, err := loader.Load(ctx, b.script)
		if err != nil {
			return fmt.Errorf("service worker %s: %w", b.url, err)
		}
		workerOrigin, err := network.SerializeOrigin(b.url)
		if err != nil {
			return fmt.Errorf("service worker %s: %w", b.url, err)
		}
		var clients []*js.GlobalScope
		for _, w := range pending {
			if w.scope.Origin() == workerOrigin {
				clients = append(clients, w.scope)
			}
		}
		if _, err := host.RegisterServiceWorker(b.url, script.Source, clients...); err != nil {
			// Script errors are collected with the others below.
			logger.Warn("service worker failed to start", "script", b.url, "error", err)
		}
	}

	for _, w := range pending {
		if err := w.scope.ExecuteScript(w.script.Source, w.script.URL); err != nil {
			logger.Warn("script failed", "script", w.script.URL, "error", err)
		}
	}

	report.Tasks, err = host.RunUntilIdle()
	report.ClockMS = host.Clock()
	if errors.Is(err, js.ErrTaskLimit) {
		report.Incomplete = true
	} else if err != nil {
		return err
	}

	for _, s := range host.Scopes() {
		for _, e := range s.Errors() {
			report.Errors = append(report.Errors, scriptError{
				Scope: s.ID().String()[:8],
				URL:   s.URL(),
				Error: e.Error(),
			})
		}
	}

	if err := writeReport(cmd.OutOrStdout(), format, report); err != nil {
		return err
	}
	switch {
	case len(report.Errors) > 0:
		return fmt.Errorf("%d script error(s)", len(report.Errors))
	case report.Incomplete:
		return js.ErrTaskLimit
	}
	return nil
}
