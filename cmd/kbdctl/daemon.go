package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mil-ad/kbdctl/internal/daemon"
	"github.com/mil-ad/kbdctl/internal/roothelper"
)

func newDaemonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Serve daemon requests on stdin/stdout (run elevated)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := a.newServer(nil)
			defer server.Exit()
			return daemon.Serve(server, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newRootHelperCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "root-helper",
		Short:  "Open device nodes for an unprivileged parent (run elevated)",
		Hidden: true,
		Args:   cobra.NoArgs,
		// the parent's socket is stdin; settings are not needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			os.Exit(roothelper.Main())
		},
	}
}
