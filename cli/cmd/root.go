package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-lake/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-lake/common/config"
	"github.com/telhawk-systems/telhawk-lake/common/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lakectl",
	Short: "TelHawk Lake operator CLI",
	Long: `lakectl operates the TelHawk event lake.

Compact raw partitions into Parquet and read them back, inspect
partitions, the sink checkpoint and the dead-letter queue, seed a feed
with fake events and print the effective configuration.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Stdout(output.FormatTable, false).Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $LAKE_CONFIG_DIR/config.yaml)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}

	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	logger = logging.NewWithWriter(os.Stderr, logging.ParseLevel(level), "text")
}

// printer builds the output printer for cmd from the global flags.
func printer(cmd *cobra.Command) (*output.Printer, error) {
	name, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	noColor, _ := cmd.Flags().GetBool("no-color")
	return output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format, !noColor && format == output.FormatTable), nil
}
