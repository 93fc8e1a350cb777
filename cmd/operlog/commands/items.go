package commands

import (
	"fmt"
	"strconv"

	"operlog-client/lib/platforms/operlog/api"
	"operlog-client/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	addSilent      bool
	editEvent      string
	editAfterEvent string
)

func init() {
	addCmd.Flags().BoolVarP(&addSilent, "silent", "s", false, "Suppress stdout.")
	editCmd.Flags().StringVar(&editEvent, "event", "", "The new event text.")
	editCmd.Flags().StringVar(&editAfterEvent, "after-event", "", "The new after event text.")

	rootCmd.AddCommand(addCmd, getCmd, editCmd, deleteCmd, listCmd, searchCmd)
}

func parseId(arg string) int {
	id, err := strconv.Atoi(arg)
	if err != nil {
		serviceutil.Fatal("item id must be a number", err)
	}
	return id
}

var addCmd = &cobra.Command{
	Use:   "add <msg> [msg2]",
	Short: "Adds an event to the log.",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		client := setup().apiClient(cmd.Context())

		afterEvent := ""
		if len(args) > 1 {
			afterEvent = args[1]
		}
		item, err := client.Add(cmd.Context(), args[0], afterEvent)
		if err != nil {
			serviceutil.Fatal("failed to add event", err)
		}
		if !addSilent {
			fmt.Println(FormatItem(item))
		}
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Shows an event by id.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseId(args[0])
		client := setup().apiClient(cmd.Context())

		item, err := client.Get(cmd.Context(), id)
		if err != nil {
			serviceutil.Fatal("failed to get event", err)
		}
		fmt.Println(FormatItem(item))
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id> [--event <text>] [--after-event <text>]",
	Short: "Changes the text of an event.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseId(args[0])

		var update api.ItemUpdate
		if cmd.Flags().Changed("event") {
			update.Event = &editEvent
		}
		if cmd.Flags().Changed("after-event") {
			update.AfterEvent = &editAfterEvent
		}

		client := setup().apiClient(cmd.Context())
		item, err := client.Edit(cmd.Context(), id, update)
		if err != nil {
			serviceutil.Fatal("failed to edit event", err)
		}
		fmt.Println(FormatItem(item))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Deletes an event from the log and prints the status code.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseId(args[0])
		client := setup().apiClient(cmd.Context())

		status, err := client.Delete(cmd.Context(), id)
		if err != nil {
			serviceutil.Fatal("failed to delete event", err)
		}
		fmt.Println(status)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every event in the log.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := setup().apiClient(cmd.Context())

		items, err := client.ListAll(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to list events", err)
		}
		fmt.Println(RenderItems(items))
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Searches events with a case insensitive regular expression.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := setup().apiClient(cmd.Context())

		matches, err := client.Search(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to search events", err)
		}
		for _, id := range sortedIds(matches) {
			fmt.Println(FormatMatch(matches[id], highlightMatch))
		}
	},
}
