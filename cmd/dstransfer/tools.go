package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"dstransfer/pkg/ingest"
	"dstransfer/pkg/journal"
	"dstransfer/pkg/storage"
	"dstransfer/pkg/types"

	"github.com/spf13/cobra"
)

type checksumRow struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
	Expected  string `json:"expected,omitempty"`
	Match     *bool  `json:"match,omitempty"`
}

func checksumCmd() *cobra.Command {
	var (
		algorithm string
		expect    string
	)

	cmd := &cobra.Command{
		Use:   "checksum <file>...",
		Short: "Compute file checksums",
		Long: fmt.Sprintf(`Compute checksums the same way transfers are verified.
Supported algorithms: %s`, strings.Join(storage.SupportedAlgorithms(), ", ")),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expect != "" && len(args) != 1 {
				return fmt.Errorf("--expect needs exactly one file")
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			if algorithm == "" {
				algorithm = a.cfg.Transfer.DefaultChecksum
			}
			alg, err := storage.LookupAlgorithm(algorithm)
			if err != nil {
				return err
			}

			var rows []checksumRow
			mismatch := false
			for _, p := range args {
				sum, err := a.verifier.ChecksumFile(alg.Name, p)
				if err != nil {
					return err
				}
				row := checksumRow{Path: p, Algorithm: alg.Name, Checksum: sum}
				if expect != "" {
					ok := storage.Compare(sum, expect)
					row.Expected = expect
					row.Match = &ok
					mismatch = !ok
				}
				rows = append(rows, row)
			}

			if err := printChecksums(rows); err != nil {
				return err
			}
			if mismatch {
				err := &types.ChecksumMismatchError{Algorithm: alg.Name, Local: rows[0].Checksum, Remote: expect}
				return &exitError{code: exitCode(types.OutcomeChecksumMismatch), err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "checksum algorithm (default from config)")
	cmd.Flags().StringVar(&expect, "expect", "", "expected checksum; exit non-zero on mismatch")
	return cmd
}

type manifestRow struct {
	PID          string `json:"pid"`
	File         string `json:"file"`
	ControlGroup string `json:"control_group"`
	MIMEType     string `json:"mime_type"`
	Output       string `json:"output"`
}

func manifestCmd() *cobra.Command {
	var (
		settings ingest.Settings
		external bool
		outDir   string
	)

	cmd := &cobra.Command{
		Use:   "manifest <file>...",
		Short: "Generate FOXML ingest documents for local files",
		Long: `Generate one FOXML 1.1 ingest document per file. Objects get sequential PIDs
in the collection namespace and reference the file by its absolute path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			if settings.ChecksumType == "" {
				settings.ChecksumType = a.cfg.Transfer.DefaultChecksum
			}
			gen, err := ingest.NewGenerator(settings, a.verifier, a.logger)
			if err != nil {
				return err
			}

			var rows []manifestRow
			for _, p := range args {
				out := filepath.Join(outDir, filepath.Base(p)+".foxml.xml")
				obj, err := gen.WriteFile(p, out, !external)
				if err != nil {
					return err
				}
				rows = append(rows, manifestRow{
					PID:          obj.PID,
					File:         p,
					ControlGroup: obj.ControlGroup.String(),
					MIMEType:     obj.MIMEType,
					Output:       out,
				})
			}
			return printManifest(rows)
		},
	}

	cmd.Flags().StringVar(&settings.Collection, "collection", "", "collection namespace for generated PIDs (required)")
	cmd.Flags().StringVar(&settings.DatastreamID, "dsid", "CONTENT", "datastream id for the file content")
	cmd.Flags().StringVar(&settings.MIMEType, "mime", "", "content type (detected per file when empty)")
	cmd.Flags().StringVar(&settings.ChecksumType, "checksum", "", "checksum algorithm (default from config)")
	cmd.Flags().BoolVar(&settings.EmbedDigest, "embed-digest", false, "write the checksum value, not just its type")
	cmd.Flags().IntVar(&settings.FirstSequence, "start", 1, "first PID sequence number")
	cmd.Flags().StringVar(&settings.DC.Creator, "creator", "", "Dublin Core creator")
	cmd.Flags().StringVar(&settings.DC.Publisher, "publisher", "", "Dublin Core publisher")
	cmd.Flags().StringVar(&settings.DC.Subject, "subject", "", "Dublin Core subject")
	cmd.Flags().StringVar(&settings.DC.Description, "description", "", "Dublin Core description")
	cmd.Flags().BoolVar(&external, "external", false, "reference the file instead of copying it into the repository")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory for generated documents")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func historyCmd() *cobra.Command {
	var (
		filter    journal.Filter
		outcome   string
		direction string
		pid       string
		id        string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded transfer results",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.journal == nil {
				return fmt.Errorf("journal is not available")
			}

			if id != "" {
				res, err := a.journal.Get(id)
				if err != nil {
					return err
				}
				return printResult(res)
			}

			filter.Outcome = types.Outcome(strings.ToUpper(outcome))
			filter.Direction = types.Direction(strings.ToLower(direction))
			filter.PID = types.PID(pid)

			results, err := a.journal.List(filter)
			if err != nil {
				return err
			}
			counts, err := a.journal.Summary()
			if err != nil {
				return err
			}
			return printHistory(results, counts)
		},
	}

	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of results (0 for all)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only results with this outcome (e.g. CHECKSUM_MISMATCH)")
	cmd.Flags().StringVar(&direction, "direction", "", "only downloads or uploads")
	cmd.Flags().StringVar(&pid, "pid", "", "only results for this object")
	cmd.Flags().StringVar(&id, "id", "", "show a single result")

	return cmd
}
