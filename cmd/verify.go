package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/idgate/internal/types"
)

var verifyOpts Options

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run document recognition on a captured front and back",
	Long: `Scans both sides with the recognition engine, resolves the identity fields
and applies the document policy from idgate.toml. Sides come either from
files (--front/--back) or from a stored capture session (--session).`,
	Annotations: map[string]string{dbAnnotation: "optional"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateVerifyFlags(&verifyOpts); err != nil {
			return err
		}
		ctx := cmd.Context()

		var front, back []byte
		var err error
		if verifyOpts.SessionID != "" {
			if DB == nil {
				return errors.New("--session needs a database (--db or POSTGRES_HOST)")
			}
			if front, err = DB.LoadSide(ctx, verifyOpts.SessionID, types.Front); err != nil {
				return fmt.Errorf("load front side: %w", err)
			}
			if back, err = DB.LoadSide(ctx, verifyOpts.SessionID, types.Back); err != nil {
				return fmt.Errorf("load back side: %w", err)
			}
		} else {
			if front, err = os.ReadFile(verifyOpts.FrontPath); err != nil {
				return err
			}
			if back, err = os.ReadFile(verifyOpts.BackPath); err != nil {
				return err
			}
		}

		eng, err := startEngine(ctx)
		if err != nil {
			return err
		}
		if eng == nil {
			return errEngineDisabled
		}
		defer eng.Close()

		outcome, body := recognize(ctx, eng, verifyOpts.SessionID, front, back)
		if err := printReport(cmd.OutOrStdout(), map[string]any{"outcome": outcome, "result": body}); err != nil {
			return err
		}
		if outcome != "accepted" {
			return fmt.Errorf("verification %s", outcome)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyOpts.FrontPath, "front", "", "JPEG of the front side")
	verifyCmd.Flags().StringVar(&verifyOpts.BackPath, "back", "", "JPEG of the back side")
	verifyCmd.Flags().StringVarP(&verifyOpts.SessionID, "session", "s", "", "Stored capture session to verify")
	rootCmd.AddCommand(verifyCmd)
}

func validateVerifyFlags(opts *Options) error {
	files := opts.FrontPath != "" || opts.BackPath != ""
	switch {
	case files && opts.SessionID != "":
		return errors.New("use either --front/--back or --session, not both")
	case opts.SessionID != "":
		return nil
	case opts.FrontPath == "" || opts.BackPath == "":
		return errors.New("both --front and --back are required (or use --session)")
	}
	return nil
}
