package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"findoutlie/internal/datavalid"
)

func (a *app) validateCommand() *cobra.Command {
	var hashList string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "validate DATA_DIR",
		Short: "Check a data directory against its SHA1 hash list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := dataDirArg(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("hash-list") {
				a.cfg.Validation.HashList = hashList
			}
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Detect.Concurrency = concurrency
			}
			if a.cfg.Detect.Concurrency < 1 {
				return configErrorf("invalid configuration: detect.concurrency must be >= 1")
			}

			sum, err := datavalid.Validate(cmd.Context(), dataDir, a.cfg.Validation.HashList, a.cfg.Detect.Concurrency)
			var mismatch *datavalid.MismatchError
			switch {
			case err == nil:
				a.logger.Debug("data validated", zap.String("hash_list", sum.HashList))
				fmt.Fprintf(a.stdout, "validation ok: %d file(s) checked against %s\n", sum.Checked, sum.HashList)
				return nil
			case errors.As(err, &mismatch):
				for _, p := range mismatch.Problems {
					if p.Missing {
						fmt.Fprintf(a.stdout, "MISSING  %s\n", p.Path)
						continue
					}
					fmt.Fprintf(a.stdout, "MISMATCH %s: expected %s, got %s\n", p.Path, p.Expected, p.Actual)
				}
				return failuref("validation failed for %d file(s)", len(mismatch.Problems))
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				// Missing or malformed hash lists fail the data, not the tool.
				return failuref("%v", err)
			}
		},
	}
	cmd.Flags().StringVar(&hashList, "hash-list", "", "Hash list path, relative to the data directory unless absolute (default "+datavalid.DefaultHashList+")")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of files hashed in parallel")
	return cmd
}
