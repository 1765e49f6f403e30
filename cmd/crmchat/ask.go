package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Desarso/crmstream/sessions"
)

var askFlags struct {
	view         viewFlags
	conversation string
	customer     int
	persist      bool
	raw          bool
	json         bool
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask the assistant and stream the reply",
	Long: `Sends one message to the assistant, prints the reply as it streams and
renders any structured customer data once it completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askFlags.view.register(askCmd)
	askCmd.Flags().StringVarP(&askFlags.conversation, "conversation", "C", "", "conversation to continue (requires --persist to resume history)")
	askCmd.Flags().IntVar(&askFlags.customer, "customer", 0, "scope the question to a customer id")
	askCmd.Flags().BoolVar(&askFlags.persist, "persist", false, "save the conversation to the configured store")
	askCmd.Flags().BoolVar(&askFlags.raw, "raw", false, "print only the streamed text")
	askCmd.Flags().BoolVar(&askFlags.json, "json", false, "print the final update as JSON instead of streaming text")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !askFlags.persist {
		cfg.WithoutStore()
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	logger := commandLogger("[ASK] ")
	manager, err := cfg.Manager(cfg.Client().WithLogger(logger), store)
	if err != nil {
		return err
	}
	manager.Logger = logger

	id := askFlags.conversation
	if id == "" {
		id = uuid.NewString()
	}
	var customer *int
	if cmd.Flags().Changed("customer") {
		customer = &askFlags.customer
	}
	session := manager.Get(id, customer).WithLogger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	updates, unsubscribe, err := session.SendAsync(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	defer unsubscribe()

	out := cmd.OutOrStdout()
	stream := !askFlags.json
	printed := 0
	var final sessions.Update
	for u := range updates {
		// Print from the snapshot so a dropped update never loses text.
		if stream && (u.Kind == sessions.UpdateToken || u.Terminal()) {
			content := u.Message.Content
			if len(content) > printed {
				fmt.Fprint(out, content[printed:])
				printed = len(content)
			}
		}
		if u.Terminal() {
			final = u
			break
		}
	}

	if askFlags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		if final.Structured != nil && !askFlags.raw {
			term, err := askFlags.view.terminal()
			if err != nil {
				return err
			}
			fmt.Fprint(out, term.View(askFlags.view.project(final.Structured)))
		}
	}

	if askFlags.persist {
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", id)
	}
	if final.Kind == sessions.UpdateError {
		return &sessions.StreamError{Message: final.Error}
	}
	return nil
}
