package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/devserver"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
)

func newDevServerCmd() *cobra.Command {
	var (
		port  int
		bind  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the scripted development server",
		Long:  "Serves the REST start and message endpoints and the session sockets with a scripted assistant, so the client can be exercised without the real backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.DevServer.Port = port
			}
			if bind != "" {
				cfg.DevServer.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if watch {
				// Re-execs the binary when it is rebuilt.
				go autorestart.RestartOnChange()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := devserver.New(cfg.DevServer, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override dev server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan)")
	cmd.Flags().BoolVar(&watch, "watch", false, "restart when the wayfarer binary changes")

	return cmd
}
