package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tembridge/tembridge-go/pkg/discovery"
)

func newBrowseCmd() *cobra.Command {
	var (
		iface   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List bridges advertised over mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			b := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: iface})
			results, err := b.Browse(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tPROFILE\tADDRESS\tCODEC\tBUFSIZE")
			found := 0
			for svc := range results {
				found++
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					svc.Kind, svc.Profile, svc.Address(), svc.Codec, svc.BufferSize)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if found == 0 {
				return fmt.Errorf("no bridges found within %s", timeout)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&iface, "interface", "", "network interface to browse on")
	cmd.Flags().DurationVar(&timeout, "browse-timeout", discovery.BrowseTimeout, "how long to browse")
	return cmd
}
