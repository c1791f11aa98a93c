package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metastore/pkg/metastore"
)

// authorFlags binds --author-name and --author-email.
type authorFlags struct {
	name  string
	email string
}

func (f *authorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "author-name", "", "revision author name (default: configured author)")
	cmd.Flags().StringVar(&f.email, "author-email", "", "revision author email")
}

func (f *authorFlags) author() *metastore.Author {
	if strings.TrimSpace(f.name) == "" && strings.TrimSpace(f.email) == "" {
		return nil
	}
	return &metastore.Author{Name: f.name, Email: f.email}
}

// readMetadata loads a JSON object from path, or from stdin when path is "-".
// An empty path yields empty metadata.
func readMetadata(cmd *cobra.Command, path string) (metastore.Metadata, error) {
	if path == "" {
		return metastore.Metadata{}, nil
	}
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return metastore.DecodeMetadata(raw)
}

func readReadMe(path string) (*string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read readme: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := metastore.MarshalPretty(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		metadataPath string
		readmePath   string
		message      string
		description  string
		author       authorFlags
	)
	cmd := &cobra.Command{
		Use:   "create <object-id>",
		Short: "Create an object from a datapackage.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := readMetadata(cmd, metadataPath)
			if err != nil {
				return err
			}
			readme, err := readReadMe(readmePath)
			if err != nil {
				return err
			}
			b, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			info, err := b.Create(cmd.Context(), args[0], md, metastore.CreateOptions{
				Author:      author.author(),
				Message:     message,
				Description: description,
				ReadMe:      readme,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
	cmd.Flags().StringVarP(&metadataPath, "file", "f", "", "datapackage.json to store (- for stdin)")
	cmd.Flags().StringVar(&readmePath, "readme", "", "README.md to store with the object")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&description, "description", "", "object description")
	author.register(cmd)
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		branch       string
		revision     string
		metadataOnly bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <object-id>",
		Short: "Print an object's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			info, err := b.Fetch(cmd.Context(), args[0], metastore.FetchOptions{
				Branch:      branch,
				RevisionRef: revision,
			})
			if err != nil {
				return err
			}
			if metadataOnly {
				return printJSON(cmd, info.Metadata)
			}
			return printJSON(cmd, info)
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to read (git backends)")
	cmd.Flags().StringVarP(&revision, "revision", "r", "", "revision id to read (filesystem and s3 backends)")
	cmd.Flags().BoolVar(&metadataOnly, "metadata", false, "print only the datapackage.json content")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		metadataPath string
		readmePath   string
		branch       string
		message      string
		author       authorFlags
	)
	cmd := &cobra.Command{
		Use:   "update <object-id>",
		Short: "Merge metadata into an object and bump its revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := readMetadata(cmd, metadataPath)
			if err != nil {
				return err
			}
			readme, err := readReadMe(readmePath)
			if err != nil {
				return err
			}
			b, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			info, err := b.Update(cmd.Context(), args[0], md, metastore.UpdateOptions{
				Author:  author.author(),
				Branch:  branch,
				Message: message,
				ReadMe:  readme,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
	cmd.Flags().StringVarP(&metadataPath, "file", "f", "", "metadata patch to merge (- for stdin)")
	cmd.Flags().StringVar(&readmePath, "readme", "", "replacement README.md")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to update (git backends)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	author.register(cmd)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var (
		resource string
		branch   string
	)
	cmd := &cobra.Command{
		Use:   "delete <object-id>",
		Short: "Delete an object, or one resource file with --resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := b.Delete(cmd.Context(), args[0], metastore.DeleteOptions{
				Path:       resource,
				Branch:     branch,
				IsResource: resource != "",
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "delete only the file at this path")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to delete from (git backends)")
	return cmd
}
