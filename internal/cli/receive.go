package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/secureera/secureera/internal/files"
	"github.com/secureera/secureera/internal/rooms"
	"github.com/secureera/secureera/internal/transfer"
	"github.com/secureera/secureera/internal/ui"
)

func newReceiveCommand() *cobra.Command {
	var (
		conn    connectionFlags
		dir     string
		zipMode bool
	)

	cmd := &cobra.Command{
		Use:     "receive <room-id|link>",
		Aliases: []string{"r"},
		Short:   "Receive files from a sender",
		Long: `Join a sender's room and save the files it sends.

Examples:
  secureera receive ABC123
  secureera receive http://localhost:5173/receive/ABC123
  secureera receive ABC123 --dir ~/Downloads`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := ParseRoomInput(args[0])
			if err != nil {
				return err
			}
			cfg, err := conn.load()
			if err != nil {
				return err
			}

			saveDir := dir
			if zipMode {
				tmp, err := os.MkdirTemp("", "secureera-receive-*")
				if err != nil {
					return transfer.NewError("create temp dir", err)
				}
				defer os.RemoveAll(tmp)
				saveDir = tmp
			}

			start := time.Now()
			results, err := runReceive(cmd.Context(), newSession(cfg), roomID, saveDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			ui.PrintSuccessf("%s Received %d file(s)", ui.IconComplete, len(results))
			if zipMode {
				target, err := bundle(results, dir, time.Now())
				if err != nil {
					return err
				}
				ui.PrintSuccessf("Files zipped to %s", target)
			} else {
				fmt.Fprint(out, describeResults(results))
			}
			fmt.Fprintln(out, summarize("Complete", len(results), resultBytes(results), time.Since(start)))
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to save received files")
	cmd.Flags().BoolVarP(&zipMode, "zip", "z", false, "Bundle received files into one zip archive")
	return cmd
}

// bundle zips the received files into dir and returns the archive path.
func bundle(results []transfer.Result, dir string, now time.Time) (string, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", transfer.NewError("create output dir", err)
		}
	}

	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.Path
	}

	target := files.GetUniqueFilename(filepath.Join(dir, fmt.Sprintf("secureera-download-%d.zip", now.UnixMilli())))
	if err := files.ZipFiles(paths, target); err != nil {
		return "", transfer.NewError("zip files", err)
	}
	return target, nil
}

// ParseRoomInput accepts a bare room ID or a share link ending in
// /receive/<id> or /r/<id>. IDs are case-insensitive.
func ParseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	id := input
	if strings.Contains(input, "/") {
		var err error
		if id, err = roomIDFromLink(input); err != nil {
			return "", err
		}
	}

	id = strings.ToUpper(id)
	if !validRoomID(id) {
		return "", fmt.Errorf("invalid room ID %q: expected %d characters from %s", id, rooms.IDLength, rooms.Alphabet)
	}
	return id, nil
}

func roomIDFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse room link: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if (part == "receive" || part == "r") && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not extract room ID from link: %s", link)
}

func validRoomID(id string) bool {
	if len(id) != rooms.IDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(rooms.Alphabet, r) {
			return false
		}
	}
	return true
}
