// Package main provides the entry point for the readaloud CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/lessonloop/readaloud/speech"
	"github.com/lessonloop/readaloud/speech/engines"
	"github.com/lessonloop/readaloud/speech/engines/gtrans"
	"github.com/lessonloop/readaloud/speech/engines/mock"
	"github.com/lessonloop/readaloud/speech/telemetry"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	engineName   string
	language     string
	voiceName    string
	maxChunkSize int
	telemetryURL string
	sessionID    string

	rootCmd = &cobra.Command{
		Use:   "readaloud [FILE]",
		Short: "Read lesson text aloud on the CLI",
		Long: paragraph(
			fmt.Sprintf("\nRead markdown or plain text %s, with pausable, resumable playback.", keyword("aloud")),
		),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          execute,
	}
)

// readSource resolves the text to narrate: a file argument, "-", or
// piped stdin. It returns the content, a session name, and whether the
// terminal is still free for interactive controls.
func readSource(args []string) (string, string, bool, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", false, fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), "stdin", false, nil
	}

	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", false, fmt.Errorf("unable to open file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return string(b), name, interactive, nil
}

// buildCapability constructs the configured speech capability.
func buildCapability(cfg speech.Config) engines.Capability {
	switch cfg.Engine {
	case "mock":
		return mock.New()
	default:
		return gtrans.New()
	}
}

func newRegistry(cfg speech.Config) *speech.Registry {
	return speech.NewRegistry(func(scope string) *speech.Controller {
		adapter := engines.NewAdapter(buildCapability(cfg), cfg.ToEngineConfig(), cfg.ToAdapterConfig())
		c := speech.NewController(cfg, adapter)
		c.SetLogger(log.Default().WithPrefix(scope))
		if cfg.TelemetryURL != "" {
			c.SetTelemetry(telemetry.NewClient(cfg.TelemetryURL, cfg.TelemetryTimeout))
		}
		return c
	})
}

func execute(_ *cobra.Command, args []string) error {
	content, name, interactive, err := readSource(args)
	if err != nil {
		return err
	}

	cfg, err := speech.LoadConfigFromViper()
	if err != nil {
		return err
	}

	registry := newRegistry(cfg)
	defer registry.Shutdown()
	controller := registry.Instance("cli")

	controller.OnStatusChange(func(st speech.Status) {
		switch st.State {
		case speech.StatePaused:
			fmt.Println(labelStyle.Render(fmt.Sprintf("paused near character %d", st.PausePosition)))
		case speech.StateErroring:
			fmt.Println(errorStyle.Render("playback failed, speech engine unavailable"))
		}
	})

	if sessionID == "" {
		sessionID = name
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !controller.Start(ctx, content, sessionID) {
		return fmt.Errorf("nothing to read in %s", name)
	}
	fmt.Println(titleStyle.Render("Reading ") + keyword(name))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	if interactive {
		fmt.Println(labelStyle.Render("controls: [p]ause  [r]esume  [q]uit"))
		go readControls(controller)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			controller.Stop()
			fmt.Println(labelStyle.Render("stopped"))
			return nil
		case <-ticker.C:
			st := controller.Status()
			switch st.State {
			case speech.StateStopped:
				fmt.Println(activeStyle.Render("done"))
				return nil
			case speech.StateErroring:
				return fmt.Errorf("speech engine failed after %d errors", st.ErrorCount)
			}
		}
	}
}

// readControls maps single-letter commands from the terminal onto the
// controller.
func readControls(controller *speech.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "p":
			if !controller.Pause() {
				fmt.Println(labelStyle.Render("nothing to pause"))
			}
		case "r":
			if controller.Resume() {
				fmt.Println(activeStyle.Render("resumed"))
			} else {
				fmt.Println(labelStyle.Render("nothing to resume"))
			}
		case "q":
			controller.Stop()
			return
		}
	}
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	speech.SetDefaults()

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&engineName, "engine", "e", "", "speech engine (gtrans or mock)")
	rootCmd.Flags().StringVarP(&language, "language", "l", "", "narration language code")
	rootCmd.Flags().StringVar(&voiceName, "voice", "", "voice identifier")
	rootCmd.Flags().IntVar(&maxChunkSize, "max-chunk-size", 0, "maximum characters per utterance")
	rootCmd.Flags().StringVar(&telemetryURL, "telemetry-url", "", "telemetry collector base URL")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "session identifier (defaults to the file name)")

	_ = viper.BindPFlag("readaloud.engine", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("readaloud.language", rootCmd.Flags().Lookup("language"))
	_ = viper.BindPFlag("readaloud.voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("readaloud.max_chunk_size", rootCmd.Flags().Lookup("max-chunk-size"))
	_ = viper.BindPFlag("readaloud.telemetry_url", rootCmd.Flags().Lookup("telemetry-url"))

	rootCmd.AddCommand(configCmd, enginesCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "readaloud")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "readaloud")}, dirs...)
	}

	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("readaloud")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("readaloud")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "readaloud.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
