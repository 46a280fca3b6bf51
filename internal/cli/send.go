package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secureera/secureera/internal/files"
	"github.com/secureera/secureera/internal/transfer"
	"github.com/secureera/secureera/internal/ui"
)

func newSendCommand() *cobra.Command {
	var (
		conn  connectionFlags
		turbo bool
	)

	cmd := &cobra.Command{
		Use:     "send <file>...",
		Aliases: []string{"s"},
		Short:   "Send files to a receiver",
		Long: `Create a room and send files to whoever joins it.

Examples:
  secureera send report.pdf photo.jpg
  secureera send --turbo big.iso
  secureera send --relay --turn turn.example.com file.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileInfos, err := files.ValidateFiles(args)
			if err != nil {
				return err
			}
			cfg, err := conn.load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([]ui.FileRow, len(fileInfos))
			for i, f := range fileInfos {
				rows[i] = ui.FileRow{Name: f.Name, Size: f.Size, Type: f.Type}
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, ui.FileTable(rows))

			s := newSession(cfg)
			s.onRoom = func(roomID string) {
				fmt.Fprintln(out)
				fmt.Fprintln(out, ui.RoomBox(roomID, cfg.GetRoomLink(roomID)))
				fmt.Fprintln(out)
			}

			res, err := runSend(cmd.Context(), s, fileInfos, transfer.Options{Turbo: turbo})
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			ui.PrintSuccessf("%s Sent %d file(s)", ui.IconComplete, res.Files)
			fmt.Fprintln(out, summarize("Complete", res.Files, res.Bytes, res.Duration))
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVar(&turbo, "turbo", false, "Use 64 KB chunks instead of 16 KB")
	return cmd
}
