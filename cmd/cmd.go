// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setupLogging
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/augpipe/device"
	"github.com/ollama/augpipe/envconfig"
	"github.com/ollama/augpipe/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Logger nach AUGPIPE_DEBUG, emuliertes GPU-Backend nach AUGPIPE_EMULATE_GPU
func setupLogging(cmd *cobra.Command, _ []string) {
	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))

	if envconfig.EmulateGPU() && !device.IsBackendAvailable(device.BackendGPU) {
		device.RegisterEmulated(1, envconfig.DeviceMemory())
		slog.Debug("registered emulated gpu", "memory", envconfig.DeviceMemory())
	}
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "augpipe",
		Short:         "Batched image augmentation pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: setupLogging,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	runCmd := newRunCmd()
	benchCmd := newBenchCmd()
	devicesCmd := newDevicesCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(runCmd, []envconfig.EnvVar{
		envVars["AUGPIPE_DEBUG"],
		envVars["AUGPIPE_SEED"],
		envVars["AUGPIPE_NUM_THREADS"],
		envVars["AUGPIPE_CPU_QUEUE"],
		envVars["AUGPIPE_GPU_QUEUE"],
		envVars["AUGPIPE_EXEC_PIPELINED"],
		envVars["AUGPIPE_EXEC_ASYNC"],
		envVars["AUGPIPE_OUTPUT_MEMORY"],
		envVars["AUGPIPE_EMULATE_GPU"],
		envVars["AUGPIPE_DEVICE_MEMORY"],
		envVars["AUGPIPE_HOST"],
		envVars["AUGPIPE_ORIGINS"],
	})
	appendEnvDocs(benchCmd, []envconfig.EnvVar{
		envVars["AUGPIPE_NUM_THREADS"],
		envVars["AUGPIPE_EXEC_PIPELINED"],
		envVars["AUGPIPE_EXEC_ASYNC"],
		envVars["AUGPIPE_EMULATE_GPU"],
	})
	appendEnvDocs(devicesCmd, []envconfig.EnvVar{envVars["AUGPIPE_EMULATE_GPU"], envVars["AUGPIPE_DEVICE_MEMORY"]})

	rootCmd.AddCommand(
		runCmd,
		benchCmd,
		devicesCmd,
		envCmd,
	)

	return rootCmd
}
