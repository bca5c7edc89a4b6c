package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/chat"
	"github.com/qiangli/mychat/config"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/llm/adapter"
	"github.com/qiangli/mychat/log"
)

const usageExample = `
  ask "What is binary search?"
  ask --provider ollama --model llama3.2 "Explain consistent hashing"
  echo "What is a bloom filter?" | ask --provider anthropic --no-stream
  ask providers
  ask config --config .env
`

// app holds the state shared by the root command and its subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	logFile *log.FileWriter

	stdin  io.Reader
	stdout io.Writer
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	a := &app{
		v:      config.New(),
		stdin:  stdin,
		stdout: stdout,
	}

	cmd := &cobra.Command{
		Use:                   "ask [OPTIONS] QUESTION...",
		Short:                 "Ask a technical question to a large language model",
		Example:               usageExample,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		SilenceErrors:         true,
		Args:                  cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd.Context(), cmd.Flags(), args)
		},
	}

	pflags := cmd.PersistentFlags()
	pflags.StringVar(&a.cfgFile, "config", defaultConfigFile(), "config file (YAML or .env)")
	pflags.String("provider", "openai", "LLM provider: "+strings.Join(adapter.Default().Keys(), ", "))
	pflags.Bool("verbose", false, "Show debugging information")
	pflags.Bool("quiet", false, "Operate quietly")
	pflags.Bool("trace", false, "Dump HTTP traffic (credentials redacted)")
	pflags.String("log", "", "Log all debugging information to a file")

	flags := cmd.Flags()
	flags.Bool("stream", true, "Stream the answer as it is generated")
	flags.Bool("no-stream", false, "Wait for the complete answer")
	flags.String("model", "", "Model name (default per provider)")
	flags.String("base-url", "", "Provider endpoint (default per provider)")
	flags.String("timeout", "", "Request timeout in seconds or as a duration, e.g. 90s")
	flags.Float64("temperature", 0, "Sampling temperature")
	flags.Int("max-tokens", 0, "Maximum number of tokens to generate")

	flags.MarkHidden("trace")

	// Bind the flags to viper using underscores
	bind := func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		a.v.BindPFlag(key, f)
	}
	pflags.VisitAll(bind)
	flags.VisitAll(bind)

	cmd.AddCommand(newProvidersCmd(a), newConfigCmd(a))
	cmd.CompletionOptions.DisableDefaultCmd = true

	return cmd
}

// defaultConfigFile returns ./.env when present, as the settings loader of
// most LLM tooling does.
func defaultConfigFile() string {
	if v := os.Getenv("MYCHAT_CONFIG"); v != "" {
		return v
	}
	if fi, err := os.Stat(".env"); err == nil && !fi.IsDir() {
		return ".env"
	}
	return ""
}

func (a *app) setup(ctx context.Context) error {
	logger := log.GetLogger(ctx)
	switch {
	case a.v.GetBool("quiet"):
		logger.SetLogLevel(log.Quiet)
	case a.v.GetBool("trace"):
		logger.SetLogLevel(log.Tracing)
	case a.v.GetBool("verbose"):
		logger.SetLogLevel(log.Verbose)
	default:
		logger.SetLogLevel(log.Normal)
	}

	if p := a.v.GetString("log"); p != "" {
		f, err := log.OpenFile(p)
		if err != nil {
			return err
		}
		a.logFile = f
		logger.SetLogOutput(f)
	}
	return nil
}

func (a *app) teardown() error {
	err := adapter.Default().Close()
	if a.logFile != nil {
		log.GetLogger(context.Background()).SetLogOutput(nil)
		a.logFile.Close()
	}
	return err
}

func (a *app) settings() (*config.Settings, error) {
	return config.Load(a.v, a.cfgFile)
}

// providerConfig resolves the provider settings and applies command line
// overrides.
func (a *app) providerConfig(key string) (*api.ProviderConfig, error) {
	s, err := a.settings()
	if err != nil {
		return nil, err
	}
	cfg, err := s.Provider(key)
	if err != nil {
		return nil, err
	}
	if m := a.v.GetString("model"); m != "" {
		cfg.Model = m
	}
	if u := a.v.GetString("base_url"); u != "" {
		cfg.BaseUrl = u
	}
	if t := a.v.GetString("timeout"); t != "" {
		d, err := config.ParseTimeout(t)
		if err != nil {
			return nil, &api.ConfigurationError{Provider: key, Message: "invalid --timeout", Cause: err}
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// options collects the generation options given explicitly on the command line.
func options(flags *pflag.FlagSet) api.Options {
	opts := api.Options{}
	if flags.Changed("temperature") {
		v, _ := flags.GetFloat64("temperature")
		opts[api.OptTemperature] = v
	}
	if flags.Changed("max-tokens") {
		v, _ := flags.GetInt("max-tokens")
		opts[api.OptMaxTokens] = v
	}
	return opts
}

func streaming(flags *pflag.FlagSet) bool {
	if v, _ := flags.GetBool("no-stream"); v {
		return false
	}
	v, _ := flags.GetBool("stream")
	return v
}

func (a *app) ask(ctx context.Context, flags *pflag.FlagSet, args []string) error {
	question, err := readQuestion(args, a.stdin)
	if err != nil {
		return err
	}
	if question == "" {
		return api.NewConfigurationError("", "no question provided")
	}

	key := strings.ToLower(a.v.GetString("provider"))
	cfg, err := a.providerConfig(key)
	if err != nil {
		return err
	}
	client, err := adapter.Default().Get(key, cfg)
	if err != nil {
		return err
	}

	logger := log.GetLogger(ctx)
	logger.Debugf("provider: %s config: %s\n", key, cfg)

	resp, err := chat.New(client).Answer(ctx, question, streaming(flags), options(flags))
	if err != nil {
		return err
	}
	return a.render(resp)
}

func (a *app) render(resp *llm.Response) error {
	if !resp.IsStream() {
		fmt.Fprint(a.stdout, resp.Content)
		a.newline(resp.Content)
		return nil
	}

	var last string
	for text, err := range llm.Fragments(resp.Stream) {
		if err != nil {
			fmt.Fprintln(a.stdout)
			return err
		}
		fmt.Fprint(a.stdout, text)
		last = text
	}
	a.newline(last)
	return nil
}

// newline terminates the answer on a terminal so the prompt starts on its own line.
func (a *app) newline(s string) {
	if isTerminal(a.stdout) && !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(a.stdout)
	}
}
