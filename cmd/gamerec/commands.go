package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/gamerec/internal/api"
	"github.com/kalambet/gamerec/internal/config"
	"github.com/kalambet/gamerec/internal/pipeline"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the recommender (keeps conversation context)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, os.Stdin, os.Stdout)
	},
}

// runChat holds one server-side session for the whole REPL. A failed turn is
// reported and the loop continues.
func runChat(ctx context.Context, c *apiClient, in io.Reader, out io.Writer) error {
	resp, err := c.post(ctx, "/v1/sessions", nil)
	if err != nil {
		return err
	}
	var sess api.SessionResponse
	if err := decodeJSON(resp, &sess); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		if resp, err := c.delete(context.WithoutCancel(ctx), "/v1/sessions/"+sess.ID); err == nil {
			resp.Body.Close()
		}
	}()

	fmt.Fprintln(out, colorize(colorBold, pipeline.Greeting))
	fmt.Fprintln(out, "Type 'exit' to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(colorCyan, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp, err := c.post(ctx, "/v1/sessions/"+sess.ID+"/messages", api.MessageRequest{Content: line})
		if err != nil {
			return err
		}
		var reply api.ReplyResponse
		if err := decodeJSON(resp, &reply); err != nil {
			printError("%v", err)
			continue
		}
		fmt.Fprintln(out, reply.Reply)
		fmt.Fprintln(out)
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask for a one-off recommendation",
	Long: `Ask for a one-off recommendation without conversation context.

Examples:
  gamerec ask "cheap indie game under $5 from 2022"
  gamerec ask "co-op survival crafting game with positive reviews"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		reply, err := ask(cmd.Context(), client, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func ask(ctx context.Context, c *apiClient, query string) (string, error) {
	resp, err := c.post(ctx, "/v1/recommend", api.RecommendRequest{Query: query})
	if err != nil {
		return "", err
	}
	var reply api.ReplyResponse
	if err := decodeJSON(resp, &reply); err != nil {
		return "", err
	}
	return reply.Reply, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			printStep("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
