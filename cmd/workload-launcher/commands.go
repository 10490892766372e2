package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"
	"workloadlauncher/internal/api"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/config"
	"workloadlauncher/internal/featureflag"
	"workloadlauncher/internal/health"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/workload"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

type orchestratorFactory func(ctx context.Context, cfg *config.LauncherConfig, flags featureflag.Client, metrics *observability.Metrics) (workload.Orchestrator, error)

type metricsFactory func(ctx context.Context) (*observability.Metrics, http.Handler, error)

// app holds state shared by all commands for one invocation.
type app struct {
	newOrchestrator orchestratorFactory
	newMetrics      metricsFactory
	out             io.Writer
	fs              afero.Fs

	logLevel    string
	metricsAddr string

	cfg          *config.LauncherConfig
	orchestrator workload.Orchestrator
	service      *workload.Service
	health       *health.Checker
	server       *api.Server
}

// execute runs the command line args and releases the backend client
// whether or not the command succeeded.
func execute(ctx context.Context, a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil {
		if err == nil {
			return closeErr
		}
		slog.Warn("Failed to close orchestrator", "error", closeErr)
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.newMetrics == nil {
		a.newMetrics = observability.NewMetrics
	}

	root := &cobra.Command{
		Use:   "workload-launcher",
		Short: "Launches workload pods and manages them by label.",
		Long: `workload-launcher builds pod specs from a job input, submits them to the
selected backend (Kubernetes or a local Docker daemon), copies config files into
the pod and waits until every role is ready or terminal.

The backend is chosen from LAUNCHER_BACKEND, or detected from the environment.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error).")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve /metrics, /livez and /readyz on this address while the command runs (e.g. ':9090').")

	root.AddCommand(newLaunchCmd(a), newExistsCmd(a), newDeleteCmd(a), newReadyCmd(a))
	return root
}

func newLaunchCmd(a *app) *cobra.Command {
	var inputPath, workloadID string
	kinds := []string{string(workload.KindReplication), string(workload.KindCheck), string(workload.KindDiscover), string(workload.KindSpec)}

	cmd := &cobra.Command{
		Use:       "launch (replication|check|discover|spec)",
		Short:     "Launches a workload and waits until its pods are ready or terminal.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(a.fs, inputPath)
			if err != nil {
				return err
			}
			if err := a.service.Launch(cmd.Context(), workload.Kind(args[0]), input, workloadID); err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, workloadID)
			return err
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "Path to the job input (YAML or JSON). Required.")
	cmd.Flags().StringVar(&workloadID, "workload-id", "", "Workload id the pods are labeled with. Required.")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("workload-id")
	return cmd
}

func newExistsCmd(a *app) *cobra.Command {
	var workloadID string
	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Prints whether live pods carry the workload id.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exists, err := a.service.PodsExist(cmd.Context(), workloadID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, strconv.FormatBool(exists))
			return err
		},
	}
	cmd.Flags().StringVar(&workloadID, "workload-id", "", "Workload id to look for. Required.")
	_ = cmd.MarkFlagRequired("workload-id")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var mutexKey string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Deletes live pods holding the mutex key and prints whether any were deleted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deleted, err := a.service.DeleteByMutex(cmd.Context(), mutexKey)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, strconv.FormatBool(deleted))
			return err
		},
	}
	cmd.Flags().StringVar(&mutexKey, "mutex-key", "", "Mutex key whose pods are deleted. Required.")
	_ = cmd.MarkFlagRequired("mutex-key")
	return cmd
}

func newReadyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Prints the readiness of the selected backend as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			response := a.health.Readiness(cmd.Context())
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(response); err != nil {
				return err
			}
			if !response.IsHealthy() {
				return fmt.Errorf("backend %s is not ready", a.cfg.Backend)
			}
			return nil
		},
	}
}

// setup configures logging, metrics and the orchestrator for the backend.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return apperrors.Validation("log-level", fmt.Sprintf("invalid log level %q", a.logLevel))
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx := cmd.Context()
	a.cfg = config.LoadLauncherConfig()

	flags, err := loadFlags(a.fs, a.cfg.FeatureFlagPath)
	if err != nil {
		return err
	}

	metrics, metricsHandler, err := a.newMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	a.orchestrator, err = a.newOrchestrator(ctx, a.cfg, flags, metrics)
	if err != nil {
		return err
	}
	a.service = workload.NewService(a.orchestrator)
	a.health = health.NewChecker(a.orchestrator, string(a.cfg.Backend))

	if a.metricsAddr != "" {
		a.server, err = api.Start(a.metricsAddr, api.NewRouter(api.RouterConfig{
			HealthChecker:  a.health,
			MetricsHandler: metricsHandler,
		}))
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	return nil
}

// close stops the metrics server and releases the backend client.
// Pods keep running.
func (a *app) close() error {
	if a.server != nil {
		a.health.SetShuttingDown()
		if err := a.server.Shutdown(5 * time.Second); err != nil {
			slog.Warn("Metrics server shutdown error", "error", err)
		}
	}
	if a.orchestrator != nil {
		return a.orchestrator.Close()
	}
	return nil
}

func loadFlags(fs afero.Fs, path string) (featureflag.Client, error) {
	if path == "" {
		return featureflag.StaticClient{}, nil
	}
	return featureflag.LoadFile(fs, path)
}

// readInput reads a job input. YAML is converted to JSON first so the
// workload types need only json tags.
func readInput(fs afero.Fs, path string) (*workload.JobInput, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, apperrors.Validation("input", fmt.Sprintf("failed to read job input: %v", err))
	}
	var input workload.JobInput
	if err := yaml.Unmarshal(data, &input); err != nil {
		return nil, apperrors.Validation("input", fmt.Sprintf("failed to parse job input: %v", err))
	}
	return &input, nil
}
