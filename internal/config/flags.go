package config

import (
	"flag"
	"os"

	"github.com/mkalinina/stashkeep/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   path to the local database file
//	-m string   directory for locally captured photos
//	-o string   owner id for local-only mode
//	-t string   signed account token
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-m", "-o", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.LocalDBPath, "d", cfg.LocalDBPath, "path to the local database file")
	fs.StringVar(&cfg.MediaDir, "m", cfg.MediaDir, "directory for locally captured photos")
	fs.StringVar(&cfg.OwnerID, "o", cfg.OwnerID, "owner id for local-only mode")
	fs.StringVar(&cfg.AccountToken, "t", cfg.AccountToken, "signed account token")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
