package main

import (
	"fmt"
	"strings"

	"dstransfer/pkg/fedora"
	"dstransfer/pkg/types"

	"github.com/spf13/cobra"
)

// parseAddress accepts "pid/dsid" or separate pid and dsid arguments.
func parseAddress(args []string) (types.ObjectAddress, error) {
	var pid, dsid string
	switch len(args) {
	case 1:
		var ok bool
		pid, dsid, ok = strings.Cut(args[0], "/")
		if !ok {
			return types.ObjectAddress{}, fmt.Errorf("expected <pid>/<dsid>, got %q", args[0])
		}
	case 2:
		pid, dsid = args[0], args[1]
	default:
		return types.ObjectAddress{}, fmt.Errorf("expected <pid>/<dsid> or <pid> <dsid>")
	}

	addr := types.NewObjectAddress(strings.TrimSpace(pid), strings.TrimSpace(dsid))
	if err := addr.Validate(); err != nil {
		return types.ObjectAddress{}, err
	}
	return addr, nil
}

func recoverCmd() *cobra.Command {
	var (
		outDir  string
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "recover <pid>/<dsid> | <pid> <dsid>",
		Short: "Download a datastream and verify its checksum",
		Long: `Download a datastream's content to a local file and compare its checksum
with the one the repository reports. The file is named after the datastream
label unless --file is given.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args)
			if err != nil {
				return err
			}

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			conn, err := a.connector(a.cfg.Retrieval)
			if err != nil {
				return err
			}
			c := fedora.NewClient(conn, a.engine(addr.String()), a.verifier, a.logger, fedora.WithRecorder(a.recorder()))

			if outFile != "" {
				return a.report(c.RecoverDatastreamTo(cmd.Context(), addr, outFile))
			}
			return a.report(c.RecoverDatastream(cmd.Context(), addr, outDir))
		},
	}

	cmd.Flags().StringVarP(&outDir, "dir", "d", ".", "directory to write the datastream into")
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "exact local path (overrides --dir and the label)")

	return cmd
}

func postCmd() *cobra.Command {
	var (
		logMessage string
		mimeType   string
		checksum   string
	)

	cmd := &cobra.Command{
		Use:   "post <file> <pid>/<dsid> | <file> <pid> <dsid>",
		Short: "Upload a local file as a managed datastream",
		Long: `Upload a local file as a managed datastream. A new datastream is created with
the file name as its label; an existing one is replaced. The repository's
checksum is read back and compared with the local file.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath := args[0]
			addr, err := parseAddress(args[1:])
			if err != nil {
				return err
			}

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if checksum == "" {
				checksum = a.cfg.Transfer.DefaultChecksum
			}

			conn, err := a.connector(a.cfg.PublishEndpoint())
			if err != nil {
				return err
			}
			c := fedora.NewClient(conn, a.engine(addr.String()), a.verifier, a.logger,
				fedora.WithRecorder(a.recorder()),
				fedora.WithUploadChecksum(checksum))

			return a.report(c.PostDatastream(cmd.Context(), addr, localPath, logMessage, mimeType))
		},
	}

	cmd.Flags().StringVarP(&logMessage, "message", "m", "initial ingest of data", "audit log message (spaces are removed)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "content type (detected from the file when empty)")
	cmd.Flags().StringVar(&checksum, "checksum", "", "checksum algorithm (default from config)")

	return cmd
}
