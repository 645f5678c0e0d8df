package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llamachat/internal/acquire"
	"llamachat/internal/common/fsutil"
)

func newModelsCmd(a *app) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:     "models",
		Short:   "List models in the model source",
		Example: "  llamachat models\n  llamachat models --source /mnt/usb/models",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, res, cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer store.Close()
			var ds []acquire.Descriptor
			if source != "" {
				ds, err = res.Resolve(source)
			} else {
				ds, err = cat.Models()
			}
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), ds)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Folder or URL to list instead of the saved source (not persisted)")
	return cmd
}

func printModels(w io.Writer, ds []acquire.Descriptor) error {
	if len(ds) == 0 {
		_, err := fmt.Fprintln(w, "no .gguf models found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRESIDENT\tSOURCE")
	for _, d := range ds {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", d.Name, fsutil.NonEmptyFile(d.LocalPath), d.Source.Ref)
	}
	return tw.Flush()
}

func newSourceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "source", Short: "Show or change the saved model source", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("source requires a subcommand: get|set")
	}}
	get := &cobra.Command{Use: "get", Short: "Print the saved model source", Args: cobra.NoArgs, RunE: func(cmd *cobra.Command, args []string) error {
		store, _, cat, err := a.openCatalog()
		if err != nil {
			return err
		}
		defer store.Close()
		src, err := cat.Source()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), src)
		return err
	}}
	set := &cobra.Command{Use: "set <folder|url>", Short: "Scan and save a new model source", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		store, _, cat, err := a.openCatalog()
		if err != nil {
			return err
		}
		defer store.Close()
		ds, err := cat.SetSource(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "source set to %s (%d model(s))\n", args[0], len(ds))
		return nil
	}}
	cmd.AddCommand(get, set)
	return cmd
}
