package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/reversinet/link/internal/config"
	"github.com/reversinet/link/internal/peer"
	"github.com/reversinet/link/internal/protocol"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/peer.toml"

var (
	// Global flags
	cfgFile    string
	nameFlag   string
	scriptFlag string
	levelFlag  string

	// serve
	bindFlag string

	// join
	hostFlag string
	portFlag int

	// Shared state set during PersistentPreRun
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reversi-peer",
	Short: "Play reversi against a remote opponent over TCP",
	Long: `reversi-peer links two reversi players over a single TCP connection.
One side runs "serve" and waits for an opponent; the other runs "join".
Moves are typed on the console, or chosen by a Lua script with --script.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		explicit := path != ""
		if !explicit {
			path = os.Getenv("REVERSI_CONFIG")
			explicit = path != ""
		}
		if path == "" {
			path = defaultConfigPath
		}

		var err error
		if explicit {
			cfg, err = config.Load(path)
		} else {
			cfg, err = config.LoadOptional(path)
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if nameFlag != "" {
			cfg.Peer.Name = nameFlag
		}
		if scriptFlag != "" {
			cfg.Script.Path = scriptFlag
		}
		if levelFlag != "" {
			cfg.Logging.Level = levelFlag
		}

		log, err = newLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Wait for an opponent to join",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindFlag != "" {
			cfg.Network.BindAddress = bindFlag
		}
		ctx, stop := signalContext()
		defer stop()

		return play(ctx, cmd.OutOrStdout(), protocol.RoleServer, func(opts peer.Options) (player, func(context.Context) error, error) {
			s := peer.NewServer(opts, log)
			addr, err := s.Listen()
			if err != nil {
				return nil, nil, err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "waiting for an opponent on %s\n", addr)
			return s, s.Run, nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join [host:port]",
	Short: "Join an opponent's game",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := net.JoinHostPort(hostFlag, strconv.Itoa(portFlag))
		if len(args) == 1 {
			addr = args[0]
		} else if portFlag <= 0 {
			return fmt.Errorf("join: an address or --port is required")
		}
		ctx, stop := signalContext()
		defer stop()

		return play(ctx, cmd.OutOrStdout(), protocol.RoleClient, func(opts peer.Options) (player, func(context.Context) error, error) {
			c := peer.NewClient(opts, log)
			run := func(ctx context.Context) error {
				go func() {
					if err := c.Connect(ctx, addr); err != nil {
						log.Warn("connect failed", zap.String("addr", addr), zap.Error(err))
						c.Close()
					}
				}()
				return c.Run(ctx)
			}
			return c, run, nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $REVERSI_CONFIG or "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVarP(&nameFlag, "name", "n", "", "player name announced to the opponent")
	rootCmd.PersistentFlags().StringVar(&scriptFlag, "script", "", "Lua script that plays instead of the console")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level (debug, info, warn, error)")

	serveCmd.Flags().StringVar(&bindFlag, "bind", "", "listen address, host:port")

	joinCmd.Flags().StringVar(&hostFlag, "host", "127.0.0.1", "opponent host")
	joinCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "opponent port")

	rootCmd.AddCommand(serveCmd, joinCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
