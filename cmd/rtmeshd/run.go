package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rtmesh/rtmesh/internal/config"
	"github.com/rtmesh/rtmesh/internal/log"
)

func newRunCmd() *cobra.Command {
	var domainID int
	var metricsAddr string
	var traceAgentAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the rtmeshd discovery daemon for one domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			l := log.For("main")

			loader, cfg, err := config.Load(configVar)
			if err != nil {
				l.Warnf("config: %v; continuing with defaults", err)
			}
			if loader != nil {
				defer loader.Close()
			}

			d := NewDaemon(domainID, cfg, metricsAddr, traceAgentAddr)
			d.Start()
			defer d.Stop()

			if loader != nil {
				go func() {
					for updated := range loader.Updates() {
						l.Infof("configuration reloaded: %+v", updated)
					}
				}()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rtmeshd running domain %d\n", domainID)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			return nil
		},
	}

	cmd.Flags().IntVar(&domainID, "domain", 0, "DDS domain id")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9995", "address to serve scrapable prometheus metrics on")
	cmd.Flags().StringVar(&traceAgentAddr, "trace-agent-addr", "", "OpenCensus agent address to export spans to (empty disables tracing)")

	return cmd
}
