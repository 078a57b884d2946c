package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ossyrian/mixparse/internal/config"
	"github.com/ossyrian/mixparse/internal/mix"
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

var infoCmd = &cobra.Command{
	Use:   "info <mixpath>",
	Short: "Show the header and identification summary of an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  info,
}

// summary describes one opened archive.
type summary struct {
	Archive    string                `json:"archive"`
	NewFormat  bool                  `json:"new_format"`
	Encrypted  bool                  `json:"encrypted"`
	Checksum   bool                  `json:"checksum"`
	Flags      uint16                `json:"flags"`
	FileCount  uint16                `json:"file_count"`
	DataSize   uint32                `json:"data_size"`
	Size       int64                 `json:"size"`
	Game       string                `json:"game,omitempty"`
	HashMethod string                `json:"hash_method,omitempty"`
	Database   mixtypes.DatabaseKind `json:"database"`
	Identified int                   `json:"identified"`
	Total      int                   `json:"total"`
	Named      int                   `json:"named"`
	Nested     int                   `json:"nested"`
	Types      map[string]int        `json:"types"`
}

func newSummary(s *session) summary {
	h := s.chain.Leaf.Header()
	res := s.result

	return summary{
		Archive:    res.Archive,
		NewFormat:  h.IsNewFormat,
		Encrypted:  h.HasEncryption,
		Checksum:   h.HasChecksum,
		Flags:      h.Flags,
		FileCount:  h.FileCount,
		DataSize:   h.DataSize,
		Size:       h.Size,
		Game:       res.Game,
		HashMethod: res.HashMethod,
		Database:   res.Database,
		Identified: res.Identified,
		Total:      res.Total,
		Named:      res.Named,
		Nested:     len(res.Children),
		Types: lo.CountValuesBy(res.Entries, func(e *mix.Entry) string {
			return e.ContentType.String()
		}),
	}
}

// info runs the info command
func info(cmd *cobra.Command, args []string) error {
	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	return writeSummary(cmd.OutOrStdout(), s.cfg.OutputFormat(), newSummary(s))
}

func writeSummary(w io.Writer, format string, sm summary) error {
	if format == config.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sm); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
		return nil
	}

	game := sm.Game
	if game == "" {
		game = "unknown"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Archive:\t%s\n", sm.Archive)
	fmt.Fprintf(tw, "Format:\t%s\n", lo.Ternary(sm.NewFormat, fmt.Sprintf("new (flags 0x%04X)", sm.Flags), "legacy"))
	fmt.Fprintf(tw, "Encrypted:\t%t\n", sm.Encrypted)
	fmt.Fprintf(tw, "Checksum:\t%t\n", sm.Checksum)
	fmt.Fprintf(tw, "Files:\t%d\n", sm.FileCount)
	fmt.Fprintf(tw, "Data size:\t%d\n", sm.DataSize)
	fmt.Fprintf(tw, "Game:\t%s\n", game)
	fmt.Fprintf(tw, "Hash method:\t%s\n", sm.HashMethod)
	fmt.Fprintf(tw, "Names database:\t%s\n", sm.Database)
	fmt.Fprintf(tw, "Identified:\t%d/%d\n", sm.Identified, sm.Total)
	fmt.Fprintf(tw, "Named:\t%d\n", sm.Named)
	fmt.Fprintf(tw, "Nested archives:\t%d\n", sm.Nested)
	fmt.Fprintln(tw, "Types:\t")
	for _, t := range slices.Sorted(maps.Keys(sm.Types)) {
		fmt.Fprintf(tw, "  %s:\t%d\n", t, sm.Types[t])
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
