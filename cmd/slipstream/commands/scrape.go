package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/slipstream/internal/control"
	"github.com/jmylchreest/slipstream/internal/logger"
	"github.com/jmylchreest/slipstream/internal/models"
	"github.com/jmylchreest/slipstream/internal/output"
	"github.com/jmylchreest/slipstream/internal/session"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch one page and extract content by selector",
	Long: `Fetch a page, clear bot challenges where possible and extract up to
ten matches per selection mode.

Fetch modes:
  static   one HTTP request with a Chrome TLS fingerprint (default)
  dynamic  a stealth-configured Chrome, with captcha resolution
  auto     static first, switching to the browser when the page needs it

Press p, r or s followed by enter with --interactive to pause, resume or
stop. Ctrl-C always stops.

Examples:
  slipstream scrape -u "https://example.com" --tag h1 --class price
  slipstream scrape -u "https://example.com" --mode dynamic \
      --css "ul.results > li" -o results.csv`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	flags := scrapeCmd.Flags()
	addScrapeFlags(flags)

	// Bind to viper
	_ = viper.BindPFlag("proxy", flags.Lookup("proxy"))
	_ = viper.BindPFlag("captcha_key", flags.Lookup("captcha-key"))
	_ = viper.BindPFlag("flaresolverr_url", flags.Lookup("flaresolverr-url"))
	_ = viper.BindPFlag("chrome_path", flags.Lookup("chrome-path"))
}

func addScrapeFlags(flags *pflag.FlagSet) {
	// Target
	flags.StringP("url", "u", "", "URL to scrape")
	flags.String("mode", "static", "fetch mode: static, dynamic, auto")

	// Selections
	flags.String("tag", "", "select elements by tag name")
	flags.String("class", "", "select elements by class")
	flags.String("id", "", "select the element with this id")
	flags.String("css", "", "select elements by CSS selector")
	flags.String("xpath", "", "select nodes by XPath expression")

	// Evasion and challenges
	flags.String("proxy", "", "proxy URL (scheme defaults to http)")
	flags.String("captcha-key", "", "2captcha API key (or TWOCAPTCHA_API_KEY)")
	flags.String("flaresolverr-url", "", "FlareSolverr endpoint for Cloudflare challenges (e.g., http://localhost:8191/v1)")
	flags.Bool("headful", false, "show the browser window")
	flags.String("chrome-path", "", "Chrome binary (default: search PATH)")

	// Limits
	flags.Duration("timeout", 30*time.Second, "request and navigation timeout")
	flags.String("max-body-size", "10MB", "max static response size (e.g., 512KB, 10MB, 0=unlimited)")

	// Output
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml, csv, text")
	flags.String("save-html", "", "write the fetched document to this file")
	flags.Bool("pretty-html", false, "indent the document written by --save-html")
	flags.Bool("interactive", false, "read p/r/s commands from stdin")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	flags := cmd.Flags()
	logger.Debug("scrape command starting")

	req := buildRequest(flags)
	if req.URL == "" {
		return cmd.Help()
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Selections.Empty() {
		logInfo("No selections given; the page will be fetched but nothing extracted")
	}

	cfg, err := sessionConfig()
	if err != nil {
		return err
	}
	if err := applyScrapeFlags(&cfg, flags); err != nil {
		return err
	}
	logger.Debug("session config",
		"mode", req.Mode,
		"timeout", cfg.Static.Timeout,
		"max_body", humanize.Bytes(uint64(cfg.Static.MaxBodySize)),
		"headless", cfg.Dynamic.Headless,
		"captcha_key", cfg.Captcha.APIKey != "" || req.CaptchaAPIKey != "")

	// Setup output
	outPath, _ := flags.GetString("output")
	format, err := resolveFormat(flags, outPath)
	if err != nil {
		return err
	}
	outFile := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			logger.Error("failed to create output file", "path", outPath, "error", err)
			return err
		}
		defer func() { _ = f.Close() }()
		outFile = f
	}
	writer, err := output.NewWriter(outFile, format)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sig := control.New()
	h := session.Start(context.Background(), req, sig, session.WithConfig(cfg))
	logger.Info("session started", "session", h.ID, "url", req.URL)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			logInfo("Interrupted, stopping session %s", h.ID)
			sig.Stop()
		case <-finished:
		}
	}()

	if interactive, _ := flags.GetBool("interactive"); interactive {
		logInfo("Commands: p=pause r=resume s=stop")
		go readCommands(os.Stdin, sig)
	}

	quiet := viper.GetBool("quiet")
	for ev := range h.Events() {
		if !quiet {
			fmt.Fprintln(os.Stderr, ev.String())
		}
	}
	out := <-h.Done()

	if out.Kind == session.Cancelled {
		logInfo("Scrape cancelled, nothing written")
		return nil
	}

	if err := writer.Write(out); err != nil {
		logger.Error("failed to write output", "error", err)
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if htmlPath, _ := flags.GetString("save-html"); htmlPath != "" && out.Result != nil {
		pretty, _ := flags.GetBool("pretty-html")
		if err := output.SaveHTML(htmlPath, out.Result.HTML, pretty); err != nil {
			logger.Error("failed to save html", "path", htmlPath, "error", err)
			return err
		}
		logInfo("Saved %s of HTML to %s", humanize.Bytes(uint64(len(out.Result.HTML))), htmlPath)
	}

	if out.Kind == session.Failed {
		return fmt.Errorf("scrape failed: %s: %s", out.Error.Code, out.Error.Message)
	}
	logInfo("Done: %d items, %d warnings", out.Result.Extraction.Count(), len(out.Result.Warnings))
	return nil
}

// buildRequest assembles and normalizes the request from flags. Proxy and
// credentials come through viper so config files and env can supply them.
func buildRequest(flags *pflag.FlagSet) models.ScrapeRequest {
	get := func(name string) string {
		v, _ := flags.GetString(name)
		return strings.TrimSpace(v)
	}

	req := models.ScrapeRequest{
		URL:  get("url"),
		Mode: models.FetchMode(strings.ToLower(get("mode"))),
		Selections: models.Selections{
			Tag:   get("tag"),
			Class: get("class"),
			ID:    get("id"),
			CSS:   get("css"),
			XPath: get("xpath"),
		},
		Proxy:           get("proxy"),
		CaptchaAPIKey:   get("captcha-key"),
		FlareSolverrURL: get("flaresolverr-url"),
	}
	if req.Proxy == "" {
		req.Proxy = viper.GetString("proxy")
	}
	if req.CaptchaAPIKey == "" {
		req.CaptchaAPIKey = viper.GetString("captcha_key")
	}
	if req.FlareSolverrURL == "" {
		req.FlareSolverrURL = viper.GetString("flaresolverr_url")
	}
	return req.Normalize()
}

// applyScrapeFlags overlays explicitly set flags on cfg.
func applyScrapeFlags(cfg *session.Config, flags *pflag.FlagSet) error {
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		cfg.Static.Timeout = timeout
		cfg.Dynamic.Timing.NavigateTimeout = timeout
	}

	if flags.Changed("max-body-size") {
		raw, _ := flags.GetString("max-body-size")
		var size uint64
		if s := strings.TrimSpace(raw); s != "" && s != "0" {
			n, err := humanize.ParseBytes(s)
			if err != nil {
				return fmt.Errorf("invalid max-body-size %q: %w", raw, err)
			}
			size = n
		}
		cfg.Static.MaxBodySize = int64(size)
	}

	if headful, _ := flags.GetBool("headful"); headful {
		cfg.Dynamic.Headless = false
	}
	if path := viper.GetString("chrome_path"); path != "" {
		cfg.Dynamic.ChromePath = path
	}
	if path, _ := flags.GetString("chrome-path"); path != "" {
		cfg.Dynamic.ChromePath = path
	}
	return nil
}

// resolveFormat uses --format, or the output file extension when --format
// was left at its default.
func resolveFormat(flags *pflag.FlagSet, outPath string) (output.Format, error) {
	name, _ := flags.GetString("format")
	format, err := output.ParseFormat(name)
	if err != nil {
		return "", err
	}
	if outPath != "" && !flags.Changed("format") {
		format = output.FormatForPath(outPath, format)
	}
	return format, nil
}
