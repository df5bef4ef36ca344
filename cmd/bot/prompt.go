package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xaenox/circle-bot/internal/models"
)

var promptAll bool

var promptCmd = &cobra.Command{
	Use:   "prompt <command>",
	Short: "Manage the prompt library",
}

var promptAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Save a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.CreatePrompt(cmd.Context(), models.PromptPrivate, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("save prompt: %w", err)
		}
		fmt.Printf("Saved prompt #%d\n", p.ID)
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		kind := models.PromptPrivate
		if promptAll {
			kind = ""
		}
		library, err := store.ListPrompts(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("list prompts: %w", err)
		}
		if len(library) == 0 {
			fmt.Println("No prompts.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tCREATED\tCONTENT")
		for _, p := range library {
			content := strings.Join(strings.Fields(p.Content), " ")
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Kind, p.CreatedAt.Format("2006-01-02"), content)
		}
		return w.Flush()
	},
}

var promptDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(strings.TrimPrefix(args[0], "#"))
		if err != nil {
			return err
		}

		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeletePrompt(cmd.Context(), id); err != nil {
			return fmt.Errorf("delete prompt %d: %w", id, err)
		}
		fmt.Printf("Deleted prompt #%d\n", id)
		return nil
	},
}

var audienceCmd = &cobra.Command{
	Use:   "audience <command>",
	Short: "Manage who receives event prompts (empty means the whole workspace)",
}

var audienceAddCmd = &cobra.Command{
	Use:   "add <user_id>...",
	Short: "Add users to the audience",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.AddMembers(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("add members: %w", err)
		}
		fmt.Printf("Added %d member(s)\n", n)
		return nil
	},
}

var audienceRemoveCmd = &cobra.Command{
	Use:   "remove <user_id>",
	Short: "Remove a user from the audience",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.RemoveMember(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("remove member %s: %w", args[0], err)
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var audienceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the audience",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		members, err := store.ListMembers(cmd.Context())
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		if len(members) == 0 {
			fmt.Println("The audience is empty; prompts go to the whole workspace.")
			return nil
		}
		for _, id := range members {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	promptListCmd.Flags().BoolVar(&promptAll, "all", false, "include event recaps")

	promptCmd.AddCommand(promptAddCmd)
	promptCmd.AddCommand(promptListCmd)
	promptCmd.AddCommand(promptDeleteCmd)

	audienceCmd.AddCommand(audienceAddCmd)
	audienceCmd.AddCommand(audienceRemoveCmd)
	audienceCmd.AddCommand(audienceListCmd)
}
