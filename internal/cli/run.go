package cli

import (
	"github.com/spf13/cobra"

	"gapwatch/internal/app"
)

var servePoll bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the gap on the scheduler cadence",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gap API and websocket feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Poll: servePoll})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", false, "Also run the scheduled poll loop in this process")
}
