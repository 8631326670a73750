package main

import (
	"path"
	"path/filepath"

	"dstransfer/pkg/client"
	"dstransfer/pkg/webdav"

	"github.com/spf13/cobra"
)

func webdavCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webdav",
		Short: "Copy plain files to and from a WebDAV store",
	}

	cmd.AddCommand(webdavGetCmd(), webdavPutCmd())
	return cmd
}

// webdavClient connects both WebDAV endpoints. The upload endpoint falls
// back to the download endpoint when not configured separately.
func (a *app) webdavClient(name string, opts ...webdav.Option) (*webdav.Client, error) {
	get, err := a.connector(a.cfg.WebDAVGet)
	if err != nil {
		return nil, err
	}
	var put *client.Connector
	if a.cfg.WebDAVPut.Configured() {
		if put, err = a.connector(a.cfg.WebDAVPutEndpoint()); err != nil {
			return nil, err
		}
	}

	opts = append([]webdav.Option{
		webdav.WithRecorder(a.recorder()),
		webdav.WithChecksum(a.cfg.Transfer.DefaultChecksum),
	}, opts...)
	return webdav.NewClient(get, put, a.engine(name), a.verifier, a.logger, opts...), nil
}

func webdavGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotePath := args[0]
			localPath := path.Base(remotePath)
			if len(args) == 2 {
				localPath = args[1]
			}

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.webdavClient(remotePath)
			if err != nil {
				return err
			}
			return a.report(c.RecoverFile(cmd.Context(), remotePath, localPath))
		},
	}
	return cmd
}

func webdavPutCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file, creating parent collections",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath := args[0]
			remotePath := filepath.Base(localPath)
			if len(args) == 2 {
				remotePath = args[1]
			}

			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.webdavClient(remotePath, webdav.WithOverwrite(overwrite))
			if err != nil {
				return err
			}
			return a.report(c.PostFile(cmd.Context(), localPath, remotePath))
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing remote file")
	return cmd
}
