package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"daftar/internal/tools"
)

var (
	storeSubject    string
	storeDate       string
	storeImportance int
	storeSession    string
	storeUser       string
	storeAccess     string

	retrieveQuery string
	retrieveScope []string
	retrieveState string
	retrieveLimit int
	retrieveUser  string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store and retrieve governed memories",
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Propose a memory to the policy engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if storeDate == "" {
			storeDate = time.Now().Format("2006-01-02")
		}
		result := a.memory.StoreMemory(tools.StoreMemoryRequest{
			Content:    args[0],
			MemoryDate: storeDate,
			Subject:    storeSubject,
			Importance: storeImportance,
			SessionID:  storeSession,
			UserID:     storeUser,
			AccessMode: storeAccess,
		})
		return printJSON(result)
	},
}

var memoryEditCmd = &cobra.Command{
	Use:   "edit <memory-id> <new-content>",
	Short: "Append a new content version to an existing memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid memory id %q", args[0])
		}
		if err := a.store.EditMemory(id, args[1]); err != nil {
			return err
		}
		return printJSON(map[string]any{"status": "ok", "memory_id": id})
	},
}

var memoryRetrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Query memories through the governed retrieval contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		result := a.memory.RetrieveMemory(tools.RetrieveMemoryRequest{
			Query:       retrieveQuery,
			Scope:       retrieveScope,
			StateFilter: retrieveState,
			Limit:       retrieveLimit,
			UserID:      retrieveUser,
		})
		return printJSON(result)
	},
}

func init() {
	memoryStoreCmd.Flags().StringVar(&storeSubject, "subject", "", "memory subject category")
	memoryStoreCmd.Flags().StringVar(&storeDate, "date", "", "memory date (YYYY-MM-DD, default today)")
	memoryStoreCmd.Flags().IntVar(&storeImportance, "importance", 3, "importance 1-5")
	memoryStoreCmd.Flags().StringVar(&storeSession, "session", "default", "session id")
	memoryStoreCmd.Flags().StringVar(&storeUser, "user", "default_user", "user id")
	memoryStoreCmd.Flags().StringVar(&storeAccess, "access", "private", "access mode (private or shared)")

	memoryRetrieveCmd.Flags().StringVar(&retrieveQuery, "query", "", "substring to match")
	memoryRetrieveCmd.Flags().StringSliceVar(&retrieveScope, "scope", nil, "subjects to search")
	memoryRetrieveCmd.Flags().StringVar(&retrieveState, "state", "active", "lifecycle state to query")
	memoryRetrieveCmd.Flags().IntVar(&retrieveLimit, "limit", 5, "max results (capped at 20)")
	memoryRetrieveCmd.Flags().StringVar(&retrieveUser, "user", "default_user", "user id")

	memoryCmd.AddCommand(memoryStoreCmd, memoryRetrieveCmd, memoryEditCmd)
	rootCmd.AddCommand(memoryCmd)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
