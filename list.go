package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/config"
	"github.com/ossyrian/mixparse/internal/identify"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/mixpath"
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list <mixpath>",
	Short: "List the entries of an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  list,
}

func init() {
	listCmd.Flags().StringP("glob", "g", "", "only list entries whose path matches this pattern (e.g. **/*.shp)")

	viper.BindPFlag("glob", listCmd.Flags().Lookup("glob"))
}

// row is one listed entry. Path is relative to the listed archive, with
// nested archives as directories.
type row struct {
	Path        string               `json:"path"`
	ID          string               `json:"id"`
	Duplicate   uint32               `json:"duplicate,omitempty"`
	Offset      uint64               `json:"offset"`
	Length      uint64               `json:"length"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Type        mixtypes.ContentType `json:"type"`
	Info        string               `json:"info,omitempty"`
}

func newRow(prefix string, e *mix.Entry) row {
	return row{
		Path:        prefix + displayName(e),
		ID:          fmt.Sprintf("%08X", e.ID),
		Duplicate:   e.DuplicateIndex,
		Offset:      e.Offset,
		Length:      e.Length,
		Name:        e.Name,
		Description: e.Description,
		Type:        e.ContentType,
		Info:        e.AnalysisInfo,
	}
}

func displayName(e *mix.Entry) string {
	name := e.Name
	if name == "" {
		name = mixpath.FormatID(e.ID)
	}
	if e.DuplicateIndex > 0 {
		name = fmt.Sprintf("%s~%d", name, e.DuplicateIndex)
	}
	return name
}

// visitFunc receives each entry with the archive it lives in. descended
// is set for entries whose nested archive is walked next.
type visitFunc func(a *archive.Archive, prefix string, e *mix.Entry, descended bool) error

// walk visits every entry of a in header order. With deep set it descends
// into nested archives that were identified.
func walk(a *archive.Archive, res *identify.Result, prefix string, deep bool, fn visitFunc) error {
	for _, e := range res.Entries {
		child, ok := res.Child(e)
		descend := deep && ok

		if err := fn(a, prefix, e, descend); err != nil {
			return err
		}
		if !descend {
			continue
		}
		nested, err := a.OpenArchive(archive.At(e.ID, e.Offset))
		if err != nil {
			slog.Warn("failed to reopen nested archive", "archive", a.Name(), "entry", displayName(e), "error", err)
			continue
		}
		if err := walk(nested, child, prefix+displayName(e)+"/", deep, fn); err != nil {
			return err
		}
	}
	return nil
}

func matchGlob(glob, path string) bool {
	if glob == "" {
		return true
	}
	ok, err := doublestar.Match(strings.ToLower(glob), strings.ToLower(path))
	return err == nil && ok
}

func collectRows(s *session) ([]row, error) {
	var rows []row
	err := walk(s.chain.Leaf, s.result, "", s.cfg.Deep, func(_ *archive.Archive, prefix string, e *mix.Entry, _ bool) error {
		r := newRow(prefix, e)
		if matchGlob(s.cfg.Glob, r.Path) {
			rows = append(rows, r)
		}
		return nil
	})
	return rows, err
}

// list runs the list command
func list(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	rows, err := collectRows(s)
	if err != nil {
		return err
	}

	return writeRows(cmd.OutOrStdout(), s.cfg.OutputFormat(), rows)
}

func writeRows(w io.Writer, format string, rows []row) error {
	if format == config.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []row{}
		}
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("failed to write listing: %w", err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tID\tLENGTH\tTYPE\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Path, r.ID, r.Length, r.Type, r.Description)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write listing: %w", err)
	}
	return nil
}
