package main

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/woozymasta/pathrules"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/mix"
)

var extractCmd = &cobra.Command{
	Use:   "extract <mixpath>",
	Short: "Write the entries of an archive to a directory",
	Long: `Write the entries of an archive to a directory. Entries selected with
"?entry;entry" in the mix path are extracted alone; otherwise every entry
passing the include and exclude rules is written.`,
	Args: cobra.ExactArgs(1),
	RunE: extract,
}

func init() {
	extractCmd.Flags().StringP("extract-dir", "d", ".", "directory to extract entries to")
	extractCmd.Flags().StringSlice("include", nil, "only extract entries matching these patterns")
	extractCmd.Flags().StringSlice("exclude", nil, "skip entries matching these patterns")
	extractCmd.Flags().Bool("dry-run", false, "list what would be written without writing")

	viper.BindPFlag("extract_dir", extractCmd.Flags().Lookup("extract-dir"))
	viper.BindPFlag("include", extractCmd.Flags().Lookup("include"))
	viper.BindPFlag("exclude", extractCmd.Flags().Lookup("exclude"))
	viper.BindPFlag("dry_run", extractCmd.Flags().Lookup("dry-run"))
}

// newEntryMatcher compiles include and exclude patterns. Later rules win,
// so excludes override includes. Without includes every entry is selected.
func newEntryMatcher(include, exclude []string) (*pathrules.Matcher, error) {
	rules := make([]pathrules.Rule, 0, len(include)+len(exclude))
	for _, p := range include {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}
	for _, p := range exclude {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: p})
	}

	def := pathrules.ActionInclude
	if len(include) > 0 {
		def = pathrules.ActionExclude
	}

	m, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   def,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid extract rules: %w", err)
	}
	return m, nil
}

// safeRelPath turns an entry path into a relative file path that cannot
// escape the extraction directory.
func safeRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(path.Clean("/"+p), "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		out = append(out, part)
	}
	return filepath.Join(out...)
}

// extract runs the extract command
func extract(_ *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	written, skipped, err := writeEntries(s)
	if err != nil {
		return err
	}

	slog.Info("extraction finished", "written", written, "skipped", skipped, "dir", s.cfg.ExtractDir, "dry_run", s.cfg.DryRun)
	return nil
}

// writeEntries writes the selected entries of the session below the
// extract directory and returns how many were written and filtered out.
func writeEntries(s *session) (written, skipped int, err error) {
	matcher, err := newEntryMatcher(s.cfg.Include, s.cfg.Exclude)
	if err != nil {
		return 0, 0, err
	}

	dir := os.ExpandEnv(s.cfg.ExtractDir)
	if dir == "" {
		dir = "."
	}

	selected := map[*mix.Entry]bool{}
	for _, ref := range s.path.Resolve(s.chain.Leaf) {
		list := s.chain.Leaf.Lookup(ref.ID)
		if len(list) == 0 {
			return 0, 0, fmt.Errorf("%w: %s", mix.ErrEntryNotFound, s.path)
		}
		selected[list[0]] = true
	}

	// selected entries are written as stored
	deep := s.cfg.Deep && len(selected) == 0

	err = walk(s.chain.Leaf, s.result, "", deep, func(a *archive.Archive, prefix string, e *mix.Entry, descended bool) error {
		if len(selected) > 0 && !selected[e] {
			return nil
		}
		// the contents of a walked archive go below a directory of its name
		if descended {
			return nil
		}

		rel := prefix + displayName(e)
		if !matcher.Included(rel, false) {
			skipped++
			return nil
		}

		target := filepath.Join(dir, safeRelPath(rel))
		if s.cfg.DryRun {
			slog.Info("would extract", "entry", rel, "bytes", e.Length, "to", target)
			written++
			return nil
		}

		data, err := a.ReadEntryData(e)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}

		slog.Debug("extracted entry", "entry", rel, "bytes", len(data), "type", e.ContentType)
		written++
		return nil
	})
	return written, skipped, err
}
