package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/idgate/internal/audit"
	"github.com/andresmejia3/idgate/internal/auth"
	"github.com/andresmejia3/idgate/internal/jobs"
	"github.com/andresmejia3/idgate/internal/server"
	"github.com/andresmejia3/idgate/internal/signedurl"
)

var (
	serveAddr     string
	serveQueueLen int
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the verification backend (token, verify, upload and audit endpoints)",
	Annotations: map[string]string{dbAnnotation: "optional"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sec := Cfg.Security

		issuer, err := auth.NewIssuer(sec.JWTKey, sec.JWTIssuer, sec.JWTAudience, sec.TokenTTL.D())
		if err != nil {
			return err
		}

		auditLog := audit.NewMemoryLog(audit.DefaultMax)
		verification := &jobs.Verification{
			Audit:     auditLog,
			Retention: time.Duration(Cfg.Retention.Minutes) * time.Minute,
		}
		if DB != nil {
			auditLog.WithSink(DB, Logger)
			verification.Store = DB
		} else {
			Logger.Warn("no database configured; audit events and captures are kept in memory only")
		}

		queue := jobs.NewQueue(serveQueueLen, Logger)
		defer queue.Close()
		// Stops the ticker before Close waits on it, even when the listener fails.
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		queue.Start(jobCtx)
		queue.Every(jobCtx, Cfg.Retention.CleanupInterval.D(), verification.Cleanup())

		srv := server.New(server.Options{
			Auth:           issuer,
			Signer:         signedurl.New(sec.UploadSecret, sec.UploadURLTTL.D()),
			Audit:          auditLog,
			Queue:          queue,
			Jobs:           verification,
			Logger:         Logger,
			MaxUploadBytes: int64(Cfg.Server.MaxUploadMB) << 20,
			AllowedOrigins: Cfg.Server.AllowedOrigins,
			VerifyLatency:  350 * time.Millisecond,
		})

		addr := Cfg.Server.Bind
		if serveAddr != "" {
			addr = serveAddr
		}
		fmt.Fprintf(os.Stderr, "🚀 Listening on %s\n", addr)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (overrides server.bind)")
	serveCmd.Flags().IntVar(&serveQueueLen, "queue", 64, "Background job queue capacity")
	rootCmd.AddCommand(serveCmd)
}
