// Package cli is the terminal front end of the chat coach.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "TYANA"

// NewRootCommand builds the command tree. Flags are bound to a private viper instance,
// so every flag can also be set through a TYANA_ prefixed environment variable.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "tyana-chat",
		Short:         "Talk to the TYANA wellness coach",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.String("server", "http://127.0.0.1:8080", "API base URL")
	flags.String("token", "", "bearer token from `tyana-chat login`")
	flags.String("lang", "en", "greeting and notice language (en, ru, lv)")
	flags.String("local", "", "keep history in this bbolt file instead of the API")
	flags.String("user", "local", "history owner in the --local file")
	flags.Duration("timeout", 2*time.Minute, "limit for one exchange")
	flags.String("log-level", "warn", "log level")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newChatCommand(v),
		newAskCommand(v),
		newHistoryCommand(v),
		newClearCommand(v),
		newLoginCommand(v),
	)
	return root
}

func newLogger(v *viper.Viper, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
