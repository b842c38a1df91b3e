package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-lake/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-lake/common/checkpoint"
)

type checkpointInfo struct {
	Backend  string `json:"backend" yaml:"backend"`
	Location string `json:"location" yaml:"location"`
	Present  bool   `json:"present" yaml:"present"`
	Offset   int64  `json:"offset" yaml:"offset"`
}

var errNoCheckpoint = errors.New("checkpointing is disabled (checkpoint.backend is none)")

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or override the sink checkpoint",
	Long:  "The checkpoint holds the next feed offset the sink resumes from.",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored offset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		store, closeStore, err := openCheckpoint()
		if err != nil {
			return err
		}
		defer closeStore()

		offset, ok, err := store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		info := checkpointInfo{
			Backend:  cfg.Checkpoint.Backend,
			Location: checkpointLocation(store),
			Present:  ok,
			Offset:   offset,
		}

		return p.Print(info, func() *output.Table {
			t := output.NewTable("BACKEND", "LOCATION", "OFFSET")
			value := "none"
			if ok {
				value = strconv.FormatInt(offset, 10)
			}
			t.AddRow(info.Backend, info.Location, value)
			return t
		})
	},
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set <offset>",
	Short: "Overwrite the stored offset",
	Long: `Overwrite the stored offset. The sink resumes from this offset on its
next start; stop the sink first or it will overwrite the value.`,
	Example: `  lakectl checkpoint set 0
  lakectl checkpoint set 18234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := printer(cmd)
		if err != nil {
			return err
		}
		offset, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || offset < 0 {
			return fmt.Errorf("offset must be a non-negative integer, got %q", args[0])
		}

		store, closeStore, err := openCheckpoint()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.Save(cmd.Context(), offset); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		p.Success("Checkpoint set to %d (%s)", offset, checkpointLocation(store))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointSetCmd)
}

func openCheckpoint() (checkpoint.Store, func() error, error) {
	store, closeStore, err := checkpoint.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errNoCheckpoint
	}
	return store, closeStore, nil
}

func checkpointLocation(store checkpoint.Store) string {
	switch s := store.(type) {
	case *checkpoint.FileStore:
		return s.Path()
	case *checkpoint.RedisStore:
		return s.Key()
	default:
		return ""
	}
}
