package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rehab/wardshell/internal/bridge"
	"github.com/rehab/wardshell/internal/config"
	"github.com/rehab/wardshell/internal/eventbus"
	"github.com/rehab/wardshell/internal/gate"
	"github.com/rehab/wardshell/internal/host"
	"github.com/rehab/wardshell/internal/patient"
	"github.com/rehab/wardshell/internal/platform/auth"
	"github.com/rehab/wardshell/internal/store"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ward-shell",
		Short:        "Ward desktop shell: privileged host and renderer-side patient tools",
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.PersistentFlags().Bool("ipc", false, "dial a running host over IPC instead of starting one in-process")

	rootCmd.AddCommand(hostCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(patientsCmd())
	return rootCmd
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const rendererSubject = "ward-shell-renderer"

// app is the renderer side assembled for one command invocation.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	gate   *gate.Gate
	bus    *eventbus.Bus
	store  *store.PatientStore
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	viaIPC, _ := cmd.Flags().GetBool("ipc")
	var transport bridge.Handler
	if viaIPC {
		if err := cfg.ValidateDial(); err != nil {
			return nil, err
		}
		transport = gate.NewIPCTransport(cfg.IPCAddr, gate.FileToken(cfg.IPCTokenFile), gate.WithIPCLogger(logger))
	} else {
		h, err := host.New(cfg.BackendURL, host.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		transport = h
	}

	g := gate.New(transport)
	bus := eventbus.New(logger)
	st := store.New(patient.NewClient(g), bus, logger)
	bus.On(store.EventPatientChanged, logPatientChanged(logger))

	return &app{cfg: cfg, logger: logger, gate: g, bus: bus, store: st}, nil
}

func logPatientChanged(logger zerolog.Logger) eventbus.Callback {
	return func(args ...any) {
		if len(args) == 0 {
			return
		}
		p, _ := args[0].(*patient.Patient)
		if p == nil {
			logger.Info().Msg("patient deselected")
			return
		}
		logger.Info().Str("hospital_number", p.HospitalNumber).Msg("patient selected")
	}
}

func hostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the privileged host and serve the IPC endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd)
		},
	}
	cmd.Flags().StringSlice("grant", channelNames(bridge.Channels()), "channels granted to the published renderer token")
	return cmd
}

func channelNames(chs []bridge.Channel) []string {
	names := make([]string, 0, len(chs))
	for _, ch := range chs {
		names = append(names, ch.String())
	}
	return names
}

// grantedChannels validates the --grant list against the allow-list.
func grantedChannels(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one channel must be granted")
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		ch, err := bridge.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("grant %q: %w", name, err)
		}
		out = append(out, ch.String())
	}
	return out, nil
}

func runHost(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateIPC(); err != nil {
		return err
	}
	grantFlag, _ := cmd.Flags().GetStringSlice("grant")
	grant, err := grantedChannels(grantFlag)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	h, err := host.New(cfg.BackendURL, host.WithLogger(logger))
	if err != nil {
		return err
	}

	// Only the host holds the secret. Renderers read the token it publishes.
	issuer, err := auth.NewSessionIssuer([]byte(cfg.IPCSecret), cfg.IPCTokenTTL)
	if err != nil {
		return fmt.Errorf("session issuer: %w", err)
	}
	if err := issuer.Publish(cfg.IPCTokenFile, rendererSubject, grant); err != nil {
		return err
	}
	pubCtx, stopPublishing := context.WithCancel(context.Background())
	published := make(chan struct{})
	go func() {
		issuer.KeepPublished(pubCtx, cfg.IPCTokenFile, rendererSubject, grant, logger)
		close(published)
	}()
	defer func() {
		stopPublishing()
		<-published
	}()
	logger.Info().Str("token_file", cfg.IPCTokenFile).Strs("channels", grant).Msg("renderer session token published")

	srv := host.NewServer(h, host.ServerConfig{
		Addr:      cfg.IPCAddr,
		Secret:    []byte(cfg.IPCSecret),
		BodyLimit: cfg.IPCBodyLimit,
	}, logger)

	// Check once so the operator sees a missing backend immediately.
	if res := h.HealthCheck(cmd.Context()); !res.OK() {
		logger.Warn().Str("backend", h.BaseURL()).Msg(res.ErrorMessage())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down host")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("host shutdown: %w", err)
	}
	logger.Info().Msg("host stopped")
	return nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend service is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), a.gate.HealthCheck(cmd.Context()))
		},
	}
}

func invokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <channel> [json-payload]",
		Short: "Invoke a bridge channel directly",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			var invokeArgs []any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				invokeArgs = append(invokeArgs, json.RawMessage(args[1]))
			}
			res, err := a.gate.Invoke(cmd.Context(), args[0], invokeArgs...)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List and manage patients through the host",
	}

	// patients list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			includeDischarged, _ := cmd.Flags().GetBool("include-discharged")
			search, _ := cmd.Flags().GetString("search")
			a.store.FetchPatients(cmd.Context(), patient.ListOptions{
				IncludeDischarged: includeDischarged,
				Search:            search,
			})
			st := a.store.Snapshot()
			if st.LastError != "" {
				return errors.New(st.LastError)
			}
			return printJSON(cmd.OutOrStdout(), st.Patients)
		},
	}
	listCmd.Flags().Bool("include-discharged", false, "include discharged patients")
	listCmd.Flags().String("search", "", "filter by name or hospital number")

	// patients show
	showCmd := &cobra.Command{
		Use:   "show <hospital-number>",
		Short: "Fetch one patient and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			p, err := a.store.FetchPatient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.store.SelectPatient(p)
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	// patients create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Admit a patient from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			var req patient.CreateRequest
			if err := readJSONFile(cmd, &req); err != nil {
				return err
			}
			p, err := a.store.CreatePatient(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	createCmd.Flags().String("file", "", "path to the patient JSON (- for stdin)")
	createCmd.MarkFlagRequired("file")

	// patients update
	updateCmd := &cobra.Command{
		Use:   "update <hospital-number>",
		Short: "Update a patient from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			var req patient.UpdateRequest
			if err := readJSONFile(cmd, &req); err != nil {
				return err
			}
			p, err := a.store.UpdatePatient(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	updateCmd.Flags().String("file", "", "path to the update JSON (- for stdin)")
	updateCmd.MarkFlagRequired("file")

	// patients discharge
	dischargeCmd := &cobra.Command{
		Use:   "discharge <hospital-number>",
		Short: "Discharge a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			r, err := a.store.DischargePatient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}

	cmd.AddCommand(listCmd, showCmd, createCmd, updateCmd, dischargeCmd)
	return cmd
}

func readJSONFile(cmd *cobra.Command, v any) error {
	path, _ := cmd.Flags().GetString("file")
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// printResult writes the result envelope and turns a failure into an error
// so the process exits non-zero.
func printResult(w io.Writer, res bridge.Result) error {
	if err := printJSON(w, res); err != nil {
		return err
	}
	if !res.OK() {
		return res.Err()
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
