package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/idgate/internal/utils"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List stored capture sessions",
	Annotations: map[string]string{dbAnnotation: "required"},
	Run: func(cmd *cobra.Command, args []string) {
		sessions, err := DB.ListSessions(cmd.Context(), listLimit)
		if err != nil {
			utils.Die("Failed to list sessions", err, nil)
		}

		if len(sessions) == 0 {
			fmt.Println("No capture sessions found in database.")
			return
		}

		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			completed := "-"
			if s.CompletedAt != nil {
				completed = s.CompletedAt.Local().Format("2006-01-02 15:04")
			}
			verification := s.Verification
			if verification == "" {
				verification = "-"
			}
			rows = append(rows, []string{
				s.ID,
				s.Source,
				s.StartedAt.Local().Format("2006-01-02 15:04"),
				completed,
				strconv.Itoa(s.Sides),
				verification,
			})
		}
		fmt.Println(renderTable([]string{"ID", "SOURCE", "STARTED", "COMPLETED", "SIDES", "VERIFICATION"}, rows, 4))
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of sessions to show")
	rootCmd.AddCommand(listCmd)
}
