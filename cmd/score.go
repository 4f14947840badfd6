package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/idgate/internal/quality"
	"github.com/andresmejia3/idgate/internal/sampler"
	"github.com/andresmejia3/idgate/internal/video"
)

var scoreCmd = &cobra.Command{
	Use:   "score <image>...",
	Short: "Print the capture-quality metrics of still images",
	Long: `Runs each image through the same sampler and scorer the capture loop uses
and prints sharpness, edge density, fill fraction and the resulting hint.
Useful for tuning the thresholds in idgate.toml.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := sampler.New(Cfg.Capture.SampleWidth)
		scorer := quality.NewScorer(Cfg.Capture.Thresholds())
		guide := Cfg.Capture.Guide()

		var rows [][]string
		var failed int
		for _, path := range args {
			row, err := scoreImage(s, scorer, guide, path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %s: %v\n", path, err)
				failed++
				continue
			}
			rows = append(rows, row)
		}
		if len(rows) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"IMAGE", "SIZE", "SHARPNESS", "EDGES", "FILL", "GOOD", "HINT"},
				rows, 2, 3, 4))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d images could not be scored", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func scoreImage(s *sampler.Sampler, scorer *quality.Scorer, guide quality.Guide, path string) ([]string, error) {
	img, err := video.LoadImage(path)
	if err != nil {
		return nil, err
	}
	frame, ok := s.Sample(img)
	if !ok {
		return nil, errors.New("image has no pixels")
	}
	defer frame.Release()

	res := scorer.Score(frame.RGBA, guide)
	return []string{
		path,
		fmt.Sprintf("%dx%d", frame.Width(), frame.Height()),
		fmt.Sprintf("%.1f", res.Sharpness),
		fmt.Sprintf("%.4f", res.EdgeDensity),
		fmt.Sprintf("%.3f", res.Fill),
		checkMark(res.Good),
		res.Hint.String(),
	}, nil
}

func checkMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
