package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
)

const pidFile = "mayhem.pid"

var errNotRunning = errors.New("mayhem is not running")

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, pidFile)
}

func writePIDFile(cfg *config.Config) (string, error) {
	path := pidPath(cfg)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

// daemonProcess returns the live serve process named by the PID file.
// A stale file yields errNotRunning.
func daemonProcess(cfg *config.Config) (*os.Process, error) {
	data, err := os.ReadFile(pidPath(cfg))
	if os.IsNotExist(err) {
		return nil, errNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("PID file %s is corrupt", pidPath(cfg))
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		return nil, errNotRunning
	}
	return proc, nil
}

// signalDaemon delivers sig to the serve process and returns its PID.
func signalDaemon(sig syscall.Signal) (int, error) {
	proc, err := daemonProcess(loadConfig())
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("signal %d: %w", proc.Pid, err)
	}
	return proc.Pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Printf("stopping mayhem (pid %d)\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec the running daemon with fresh config and providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Printf("restarting mayhem (pid %d)\n", pid)
		return nil
	},
}

type daemonStatus struct {
	Running bool           `json:"running"`
	PID     int            `json:"pid,omitempty"`
	Missing []string       `json:"missingKeys"`
	Config  config.Summary `json:"config"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon runs and what config it is missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := daemonStatus{
			Missing: cfg.MissingKeys(),
			Config:  cfg.Summarize(),
		}
		proc, err := daemonProcess(cfg)
		switch {
		case err == nil:
			st.Running, st.PID = true, proc.Pid
		case !errors.Is(err, errNotRunning):
			return err
		}
		if st.Missing == nil {
			st.Missing = []string{}
		}
		return printJSON(st)
	},
}
