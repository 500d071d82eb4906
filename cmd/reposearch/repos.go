package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List indexed repositories and their state",
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

var deleteCmd = &cobra.Command{
	Use:   "delete owner/repo",
	Short: "Remove a repository's chunks and state",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all indexed chunks and repository state",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
}

func runRepos(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	infos, err := a.service.Repositories(cmd.Context())
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No repositories indexed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tCOMMIT\tFILES\tCHUNKS\tSTATUS\tLAST INDEXED")
	for _, info := range infos {
		status := "partial"
		if info.FullyIndexed() {
			status = "indexed"
		}
		lastIndexed := "-"
		if info.LastIndexed != nil {
			lastIndexed = info.LastIndexed.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			info.FullName(), shortHash(info.CommitHash), info.NumFiles, info.NumChunks, status, lastIndexed)
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Print("Remove all indexed data? [y/N] ")
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || (answer != "y" && answer != "Y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("All indexed data removed.")
	return nil
}
