package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/urfave/cli"
)

const description = `A one-way synchronization tool that mirrors iCal feeds into Google Calendar.
   Each configured feed gets its own destination calendar, created on first use.

   IMPORTANT WARNING: the feed is the source of truth. For events it created,
   this tool will:
   - DELETE events that no longer exist in the feed
   - OVERWRITE manual changes to synced events
   Events it did not create are never touched, and occurrences of a recurring
   event that you declined (cancelled) in Google Calendar stay declined.

CONFIGURATION PRECEDENCE (highest to lowest):
   1. Command-line flags
   2. Environment variables (ICALSYNC_CREDENTIALS_PATH, ICALSYNC_TOKEN_PATH,
      ICALSYNC_STAGGER_DELAY, ICALSYNC_RESTART_DELAY, ICALSYNC_REQUESTS_PER_SECOND)
   3. Config file (--config)
   4. Defaults

CONFIG FILE (YAML):
   credentials_path: /path/to/credentials.json
   token_path: /path/to/token.json
   feeds:
     - name: work
       url: https://outlook.office365.com/owa/calendar/.../calendar.ics
       calendar_name: Work (mirror)
       time_zone: Europe/Berlin
       sync_interval: 5m

   The credentials file is either an OAuth client downloaded from Google Cloud
   Console ("installed" or "web" section; you will be prompted to authorize on
   first run) or a service account key.`

func newApp() *cli.App {
	return &cli.App{
		Name:        "icalsync",
		Usage:       "Mirror iCal feeds into Google Calendar",
		Description: description,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the YAML config file (required)",
			},
			&cli.StringFlag{
				Name:  "credentials-path",
				Usage: "Path to the Google credentials JSON file (overrides config file and ICALSYNC_CREDENTIALS_PATH)",
			},
			&cli.StringFlag{
				Name:  "token-path",
				Usage: "Path to store the OAuth token (overrides config file and ICALSYNC_TOKEN_PATH)",
			},
			&cli.StringFlag{
				Name:  "feed",
				Usage: "Only handle the named feed",
			},
			&cli.BoolFlag{
				Name:  "verbose, v",
				Usage: "Enable verbose output (debug logs)",
			},
		},
		Commands: []cli.Command{
			RunCmd,
			OnceCmd,
			ListCmd,
			InspectCmd,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
