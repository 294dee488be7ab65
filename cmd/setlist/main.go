// Command setlist exports a day's setlist: as CSV, or as a Spotify playlist that is
// then announced to the configured notification services.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/trackid/announce"
	"github.com/onnwee/trackid/chat"
	"github.com/onnwee/trackid/config"
	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/spotify"
	"github.com/onnwee/trackid/telemetry"
)

func main() {
	_ = godotenv.Load(".env")
	telemetry.SetupLogging(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := rootCommand(cfg, spotify.Config{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCommand builds the CLI. spot carries endpoint overrides; credentials come from cfg.
func rootCommand(cfg *config.Config, spot spotify.Config) *cobra.Command {
	var (
		channel string
		dateArg string
	)
	root := &cobra.Command{
		Use:           "setlist",
		Short:         "Export a stream setlist",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&channel, "channel", cfg.TwitchChannel, "channel whose setlist to read")
	root.PersistentFlags().StringVar(&dateArg, "date", "", "setlist date as YYYY-MM-DD (default today)")

	open := func() (*setlist.Store, error) {
		if channel == "" {
			return nil, fmt.Errorf("no channel: set TWITCH_CHANNEL or --channel")
		}
		date := time.Now()
		if dateArg != "" {
			d, err := time.ParseInLocation(time.DateOnly, dateArg, time.Local)
			if err != nil {
				return nil, fmt.Errorf("invalid --date %q: %w", dateArg, err)
			}
			date = d
		}
		if _, err := os.Stat(setlist.PathFor(cfg.DataDir, channel, date)); err != nil {
			return nil, fmt.Errorf("no setlist for %s on %s: %w", channel, date.Format(time.DateOnly), err)
		}
		return setlist.Open(cfg.DataDir, channel, date)
	}

	root.AddCommand(csvCommand(open), exportCommand(cfg, spot, open))
	return root
}

func csvCommand(open func() (*setlist.Store, error)) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Write the setlist as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer func() {
					if err := f.Close(); err != nil {
						slog.Warn("failed to close csv file", slog.Any("err", err))
					}
				}()
				w = f
			}
			return store.WriteCSV(w)
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func exportCommand(cfg *config.Config, spot spotify.Config, open func() (*setlist.Store, error)) *cobra.Command {
	var (
		prefix      string
		noAnnounce  bool
		searchPause time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Create a Spotify playlist from the setlist and announce it",
		Long: `Search every song of the setlist on Spotify, create "<prefix> YYYY-MM-DD"
with the hits and post the playlist link plus the setlist to ANNOUNCE_URLS.

The prefix defaults to the weekday show name, e.g. "Disco Friday Setlist",
or "<channel> Setlist" on days without a show.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" || cfg.SpotifyRefreshToken == "" {
				return fmt.Errorf("missing spotify env: require SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET, SPOTIFY_REFRESH_TOKEN")
			}
			store, err := open()
			if err != nil {
				return err
			}
			songs := store.Songs()
			if len(songs) == 0 {
				return fmt.Errorf("setlist %s is empty", store.Path())
			}
			if prefix == "" {
				prefix = defaultPrefix(store.Channel(), store.Date().Weekday())
			}

			spot.ClientID, spot.ClientSecret, spot.RefreshToken = cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRefreshToken
			client := spotify.New(cmd.Context(), spot)
			client.SearchPause = searchPause
			res, err := client.ExportSetlist(cmd.Context(), prefix, store.Date(), songs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			url := ""
			if res.Playlist != nil {
				url = res.Playlist.URL()
				fmt.Fprintf(out, "playlist: %s (%d/%d tracks)\n", url, res.Found, len(songs))
			} else {
				fmt.Fprintln(out, "no tracks found, playlist not created")
			}
			for _, s := range res.Missing {
				fmt.Fprintf(out, "missing: %s\n", s.Formatted(false))
			}

			if noAnnounce || len(cfg.AnnounceURLs) == 0 {
				return nil
			}
			poster, err := announce.New(cfg.AnnounceURLs, 30*time.Second)
			if err != nil {
				return err
			}
			title, message := announce.SetlistMessage(prefix, store.Date(), url, store.SetlistText())
			return poster.Post(cmd.Context(), title, message)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "playlist name prefix")
	cmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "skip posting to ANNOUNCE_URLS")
	cmd.Flags().DurationVar(&searchPause, "search-pause", time.Second, "pause between catalog searches")
	return cmd
}

func defaultPrefix(channel string, day time.Weekday) string {
	switch day {
	case time.Monday, time.Wednesday, time.Friday:
		return chat.StreamName(day) + " Setlist"
	}
	return channel + " Setlist"
}
