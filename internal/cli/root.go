package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/secureera/secureera/internal/config"
	"github.com/secureera/secureera/internal/transfer"
	"github.com/secureera/secureera/internal/ui"
	"github.com/secureera/secureera/internal/version"
)

// connectionFlags are shared by send and receive.
type connectionFlags struct {
	signal   string
	web      string
	stun     string
	turn     string
	turnUser string
	turnPass string
	relay    bool
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.signal, "signal", "", "Signaling server URL (env SIGNAL_URL)")
	cmd.Flags().StringVar(&f.web, "web", "", "Web app base URL for share links (env WEB_URL)")
	cmd.Flags().StringVarP(&f.stun, "stun", "s", "", "Custom STUN server (env STUN_SERVER)")
	cmd.Flags().StringVarP(&f.turn, "turn", "t", "", "Custom TURN server (env TURN_SERVER)")
	cmd.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	cmd.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	cmd.Flags().BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
}

func (f *connectionFlags) load() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		SignalURL:  f.signal,
		WebURL:     f.web,
		STUNServer: f.stun,
		TURNServer: f.turn,
		TURNUser:   f.turnUser,
		TURNPass:   f.turnPass,
		ForceRelay: f.relay,
	})
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}
	if cfg.TURNServer != "" && (cfg.TURNUser == "" || cfg.TURNPass == "") {
		ui.PrintWarning("TURN server configured without username or password, relay allocation may be refused")
	}
	if cfg.AutoRelay(config.BehindRestrictedNetwork) {
		ui.PrintInfof("VPN or carrier NAT detected, relaying through %s", cfg.TURNServer)
	}
	return cfg, nil
}

func newSession(cfg *config.Config) *session {
	return &session{
		cfg:         cfg,
		logger:      slog.Default(),
		interactive: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "secureera",
		Short:   "End-to-end encrypted peer-to-peer file transfer",
		Long:    `SecureEra sends files directly between devices over WebRTC. Every chunk is encrypted with a per-file key before it leaves the sender, and the signaling server only ever sees connection metadata.`,
		Version: version.Version,

		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newSendCommand(), newReceiveCommand())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
