// Package cli implements the batchtree command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/internal/metrics"
	"github.com/mesh-intelligence/batchtree/internal/paths"
	"github.com/mesh-intelligence/batchtree/pkg/batchtree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(format string, args ...any) error {
	return &exitError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

func sysError(format string, args ...any) error {
	return &exitError{code: exitSysError, err: fmt.Errorf(format, args...)}
}

// exitCode maps an error returned by a command to a process exit code.
// Errors cobra raises itself (unknown flags, bad arg counts) are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitUserError
}

// app holds flag values and the state PersistentPreRunE resolves for every
// subcommand.
type app struct {
	configDir   string
	dataDir     string
	logLevel    string
	jsonMode    bool
	dumpMetrics bool

	// Resolved by PersistentPreRunE.
	resolvedConfigDir string
	config            types.Config
	metrics           *metrics.Metrics
}

// NewRootCmd creates the top-level "batchtree" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{metrics: metrics.New()}
	root := &cobra.Command{
		Use:     "batchtree",
		Short:   "Edit, count and store catch and sample trees",
		Long:    "batchtree imports nested catch and sample trees, recomputes their derived\ncounts, assigns ids and stores them as flat parent-referenced records.",
		Version: batchtree.Version,
		// Errors are printed once by Execute.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help":
				return nil
			}
			return a.resolve(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.dumpMetrics {
				return writeMetrics(cmd.ErrOrStderr(), a.metrics)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.dataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.jsonMode, "json", false, "output as JSON")
	pf.BoolVar(&a.dumpMetrics, "metrics", false, "print collected metrics to stderr on exit")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newShowCmd(a),
		newGroupsCmd(a),
		newRecomputeCmd(a),
		newDeleteCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the matching code.
func Execute() {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}

func (a *app) resolve(cmd *cobra.Command) error {
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return sysError("resolve config dir: %w", err)
	}
	a.resolvedConfigDir = configDir
	v, err := loadConfig(configDir)
	if err != nil {
		return sysError("%w", err)
	}
	dataDir, err := paths.ResolveDataDir(a.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return sysError("resolve data dir: %w", err)
	}
	level := a.logLevel
	if level == "" {
		level = v.GetString(cfgKeyLogLevel)
	}

	a.config = types.Config{
		Backend:  v.GetString(cfgKeyBackend),
		DataDir:  dataDir,
		DSN:      v.GetString(cfgKeyDSN),
		LogLevel: level,
	}
	if err := a.config.Validate(); err != nil {
		return userError("config %s: %w", paths.ConfigFile(configDir), err)
	}
	if err := log.Setup(cmd.ErrOrStderr(), level); err != nil {
		return userError("%w", err)
	}
	return nil
}

// writeMetrics prints the registry in the Prometheus text exposition format.
func writeMetrics(w io.Writer, m *metrics.Metrics) error {
	families, err := m.Registry().Gather()
	if err != nil {
		return sysError("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return sysError("encode metrics: %w", err)
		}
	}
	if c, ok := enc.(expfmt.Closer); ok {
		if err := c.Close(); err != nil {
			return sysError("encode metrics: %w", err)
		}
	}
	return nil
}
