package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/worker"
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("server", "", "server base URL (default: public URL, else the local listen address)")
	workerCmd.Flags().String("id", "", "worker id (default: <hostname>-worker)")
	workerCmd.Flags().String("flow", "", "only claim jobs of this flow")
	workerCmd.Flags().StringSlice("command", nil, "command receiving the prompt as its last argument (default: claude -p)")
	workerCmd.Flags().Duration("timeout", worker.DefaultTimeout, "per-job command timeout")
	workerCmd.Flags().Duration("interval", worker.DefaultPollInterval, "poll interval when the queue is empty")
	workerCmd.Flags().Bool("once", false, "process at most one job and exit")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the local heavy-task worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		server, _ := cmd.Flags().GetString("server")
		id, _ := cmd.Flags().GetString("id")
		flow, _ := cmd.Flags().GetString("flow")
		command, _ := cmd.Flags().GetStringSlice("command")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		interval, _ := cmd.Flags().GetDuration("interval")
		once, _ := cmd.Flags().GetBool("once")

		secret := cfg.WorkerSecret()
		if secret == "" {
			return fmt.Errorf("no worker secret: set LOCAL_WORKER_SECRET or CRON_SECRET")
		}
		if server == "" {
			server = cfg.HTTP.PublicURL
		}
		if server == "" {
			server = localURL(cfg.HTTP.Listen)
		}

		w := worker.New(
			worker.NewClient(server, secret),
			worker.NewCommandRunner(command, timeout),
			worker.Options{ID: id, FlowID: flow, PollInterval: interval},
		)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if once {
			handled, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !handled {
				fmt.Println("No queued jobs.")
			}
			return nil
		}
		return w.Run(ctx)
	},
}

// localURL turns a listen address like ":8080" into a loopback URL.
func localURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

