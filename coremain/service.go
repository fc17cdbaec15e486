package coremain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/skaris/proxyd/mlog"
)

var svcCfg = &service.Config{
	Name:        "proxyd",
	DisplayName: "proxyd",
	Description: "A forward HTTP caching proxy.",
}

var svc service.Service

// serverService adapts StartServer to the service manager interface.
type serverService struct {
	f    *serverFlags
	args []string
}

func (ss *serverService) Start(s service.Service) error {
	go func() {
		if err := StartServer(ss.f, ss.args); err != nil {
			mlog.S().Error(err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	return nil
}

func initService(cmd *cobra.Command, args []string) error {
	cfg := *svcCfg

	// The installed service runs "proxyd start --as-service" from the
	// directory the binary lives in, carrying any extra install args
	// (config file, port) through.
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable, %w", err)
	}
	cfg.Executable = execPath
	cfg.WorkingDirectory = filepath.Dir(execPath)
	cfg.Arguments = append([]string{"start", "--as-service"}, args...)

	s, err := service.New(&serverService{f: new(serverFlags)}, &cfg)
	if err != nil {
		return fmt.Errorf("failed to init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install [args for the start command]",
		Short: "Install proxyd as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Install()
		},
	}
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the proxyd service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Uninstall()
		},
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the proxyd service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Start()
		},
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the proxyd service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Stop()
		},
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the proxyd service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Restart()
		},
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the proxyd service status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := svc.Status()
			if err != nil {
				return err
			}
			switch status {
			case service.StatusRunning:
				fmt.Println("running")
			case service.StatusStopped:
				fmt.Println("stopped")
			default:
				fmt.Println("unknown")
			}
			return nil
		},
	}
}
