package cli

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tyana/internal/client"
)

func newChatCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation (/clear resets it, /quit leaves)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			printTranscript(out, s.manager.Messages())

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				printf(out, "you> ")
				if !scanner.Scan() {
					printf(out, "\n")
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/clear":
					s.manager.ClearChat(ctx)
					printTranscript(out, s.manager.Messages())
					continue
				}
				printf(out, "tyana> ")
				s.exchange(ctx, out, line)
			}
		},
	}
}

func newAskCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			s.exchange(ctx, cmd.OutOrStdout(), strings.Join(args, " "))
			return nil
		},
	}
}

func newHistoryCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			printTranscript(cmd.OutOrStdout(), s.manager.Messages())
			return nil
		},
	}
}

func newClearCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if s.userID == "" {
				return errors.New("nothing to clear: pass --token or --local")
			}
			s.manager.ClearChat(ctx)
			printf(cmd.OutOrStdout(), "history cleared\n")
			return nil
		},
	}
}

func newLoginCommand(v *viper.Viper) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print a token for TYANA_TOKEN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client.New(v.GetString("server")).Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", res.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
