package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodescope/nodescope/pkg/inventory"
)

func newChannelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage install channels",
		Long: `Manage install channels.

An install channel pins a group of hosts to a jump host and its own set of
upstream servers, overriding the default topology. Hosts reference a
channel by ID.`,
	}

	cmd.AddCommand(newChannelsListCommand())
	cmd.AddCommand(newChannelsSetCommand())

	return cmd
}

func newChannelsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List install channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			channels, err := store.ListInstallChannels(ctx)
			if err != nil {
				return err
			}
			if len(channels) == 0 {
				fmt.Println("no install channels")
				return nil
			}

			for _, channel := range channels {
				fmt.Printf("%d\t%s\tjump=%d\tproxy=%s\tdownload_proxy=%v\n",
					channel.ID,
					channel.Name,
					channel.JumpServerID,
					channel.ChannelProxyAddress,
					channel.DownloadProxyEnabled(),
				)
				for pool, servers := range channel.Servers {
					fmt.Printf("\t%s: %v\n", pool, servers)
				}
			}
			return nil
		},
	}
}

func newChannelsSetCommand() *cobra.Command {
	var (
		id              int64
		name            string
		jumpServerID    int64
		btFileServers   []string
		dataServers     []string
		taskServers     []string
		proxyAddress    string
		noDownloadProxy bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update an install channel",
		Example: `  # Create a channel behind jump host 20
  nodescope channels set --id 7 --name dmz --jump-server 20 \
    --btfileserver 172.16.0.10 --dataserver 172.16.0.11 --taskserver 172.16.0.12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			// The jump host must exist before hosts relay through it.
			if _, err := store.GetHost(ctx, jumpServerID); err != nil {
				return fmt.Errorf("jump server: %w", err)
			}

			channel := &inventory.InstallChannel{
				ID:           id,
				Name:         name,
				JumpServerID: jumpServerID,
				Servers: map[string][]string{
					inventory.PoolBTFileServer: btFileServers,
					inventory.PoolDataServer:   dataServers,
					inventory.PoolTaskServer:   taskServers,
				},
				ChannelProxyAddress: proxyAddress,
			}
			if noDownloadProxy {
				disabled := false
				channel.AgentDownloadProxy = &disabled
			}

			if err := store.UpsertInstallChannel(ctx, channel); err != nil {
				return err
			}

			log.Info().
				Int64("channel_id", id).
				Str("name", name).
				Int64("jump_server", jumpServerID).
				Msg("Install channel saved")
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "channel ID")
	cmd.Flags().StringVar(&name, "name", "", "channel name")
	cmd.Flags().Int64Var(&jumpServerID, "jump-server", 0, "jump host ID the channel relays through")
	cmd.Flags().StringSliceVar(&btFileServers, "btfileserver", nil, "btfileserver pool addresses")
	cmd.Flags().StringSliceVar(&dataServers, "dataserver", nil, "dataserver pool addresses")
	cmd.Flags().StringSliceVar(&taskServers, "taskserver", nil, "taskserver pool addresses")
	cmd.Flags().StringVar(&proxyAddress, "proxy-address", "", "channel proxy address handed to the installer")
	cmd.Flags().BoolVar(&noDownloadProxy, "no-download-proxy", false, "disable downloading through the channel proxy")

	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("jump-server")

	return cmd
}
