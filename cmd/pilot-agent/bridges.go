package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/infra"
)

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "Print the bridge address map",
	Long:  `Prints the addresses published in etcd for the session, or the addresses the configured transport would assign.`,
	RunE:  runBridges,
}

func runBridges(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var dir bridge.Directory
	if cfg.Transport.Etcd.Register {
		inf, err := infra.New(ctx, cfg.Transport)
		if err != nil {
			return err
		}
		defer inf.Close()
		dir, err = bridge.NewEtcdRegistry(inf.Etcd, cfg.SessionID, cfg.Transport.Etcd.LeaseTTL).LoadDirectory(ctx)
		if err != nil {
			return err
		}
	} else {
		dir, err = plannedDirectory(cfg.Bridges, cfg.Transport.Queue, cfg.Transport.PubSub)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tSINK")
	names := dir.Names()
	sort.Strings(names)
	for _, name := range names {
		addr := dir[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, addr.Source, addr.Sink)
	}
	return w.Flush()
}

// plannedDirectory 不连接后端，按传输类型推算地址
func plannedDirectory(names []string, queueTransport, busTransport string) (bridge.Directory, error) {
	dir := make(bridge.Directory, len(names))
	for _, name := range names {
		kind, err := bridge.KindOf(name)
		if err != nil {
			return nil, err
		}
		transport := queueTransport
		if kind == bridge.KindPubSub {
			transport = busTransport
		}
		dir[name] = bridge.NewAddress(schemeOf(transport), name)
	}
	return dir, nil
}

func schemeOf(transport string) string {
	switch transport {
	case config.TransportRedis:
		return bridge.SchemeRedis
	case config.TransportEtcd:
		return bridge.SchemeEtcd
	default:
		return bridge.SchemeMemory
	}
}
