package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dealfiles/internal/api"
	"dealfiles/internal/config"
)

type attachUploadOptions struct {
	fileName    string
	contentType string
}

func newAttachCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "attach", Short: "Manage deal attachments"}
	cmd.AddCommand(
		newAttachUploadCmd(cfg, out),
		newAttachVersionCmd(cfg, out),
		newAttachDownloadCmd(cfg, out),
		newAttachListCmd(cfg, out),
		newAttachMetaCmd(cfg, out),
		newAttachRenameCmd(cfg, out),
		newAttachRemoveCmd(cfg, out),
		newAttachVersionsCmd(cfg, out),
	)
	return cmd
}

func newAttachUploadCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	opts := &attachUploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <deal-id> <path>",
		Short: "Upload a file to a deal",
		Args:  requireExactlyArgs(2, "deal id and path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer file.Close()

			req := opts.uploadOptions(args[1])
			return withClient(cfg, func(client *api.Client) error {
				attachment, err := client.UploadAttachment(cmd.Context(), args[0], req, file)
				if err != nil {
					return err
				}
				return out.emit(attachment, func() error { return writeAttachmentDetail(attachment) })
			})
		},
	}
	bindAttachUploadFlags(cmd, opts)
	return cmd
}

func newAttachVersionCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	opts := &attachUploadOptions{}
	cmd := &cobra.Command{
		Use:   "version <attachment-id> <path>",
		Short: "Upload a new version of an attachment",
		Args:  requireExactlyArgs(2, "attachment id and path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer file.Close()

			req := opts.uploadOptions(args[1])
			return withClient(cfg, func(client *api.Client) error {
				attachment, err := client.UploadVersion(cmd.Context(), args[0], req, file)
				if err != nil {
					return err
				}
				return out.emit(attachment, func() error { return writeAttachmentDetail(attachment) })
			})
		},
	}
	bindAttachUploadFlags(cmd, opts)
	return cmd
}

func newAttachDownloadCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		outPath string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "download <attachment-id>",
		Short: "Download attachment content",
		Long:  "Download attachment content. Without --output the stored file name is used in the current directory; --output - writes to stdout.",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath = strings.TrimSpace(outPath)
			if outPath == "-" {
				return withClient(cfg, func(client *api.Client) error {
					_, err := client.DownloadAttachment(cmd.Context(), args[0], stdout)
					return err
				})
			}
			if outPath != "" && !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("output file exists (use --force to overwrite)")
				}
			}

			return withClient(cfg, func(client *api.Client) error {
				dir := "."
				if outPath != "" {
					dir = filepath.Dir(outPath)
				}
				tmp, err := os.CreateTemp(dir, ".dealfiles-download-*")
				if err != nil {
					return err
				}
				tmpName := tmp.Name()
				defer os.Remove(tmpName)

				info, err := client.DownloadAttachment(cmd.Context(), args[0], tmp)
				if closeErr := tmp.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return err
				}

				target := outPath
				if target == "" {
					target = localFileName(info.FileName, args[0])
					if !force {
						if _, err := os.Stat(target); err == nil {
							return fmt.Errorf("output file %s exists (use --force to overwrite)", target)
						}
					}
				}
				if err := os.Rename(tmpName, target); err != nil {
					return err
				}
				return out.emit(info, func() error { return writePlain("%s\n", target) })
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output path, or - for stdout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite output path if it exists")
	return cmd
}

func newAttachListCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <deal-id>",
		Short: "List attachments for a deal, oldest first",
		Args:  requireExactlyArgs(1, "deal id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				attachments, err := client.ListAttachments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.emit(attachments, func() error { return writeAttachmentList(attachments) })
			})
		},
	}
}

func newAttachMetaCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <attachment-id>",
		Short: "Show attachment metadata",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				attachment, err := client.GetAttachment(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.emit(attachment, func() error { return writeAttachmentDetail(attachment) })
			})
		},
	}
}

func newAttachRenameCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <attachment-id> <file-name>",
		Short: "Change the display name of an attachment",
		Args:  requireExactlyArgs(2, "attachment id and file name are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				attachment, err := client.RenameAttachment(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return out.emit(attachment, func() error { return writeAttachmentDetail(attachment) })
			})
		},
	}
}

func newAttachRemoveCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <attachment-id>",
		Short: "Delete an attachment and its content",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				if err := client.DeleteAttachment(cmd.Context(), args[0]); err != nil {
					return err
				}
				payload := map[string]any{"attachmentId": args[0], "deleted": true}
				return out.emit(payload, func() error { return writePlain("%s\n", args[0]) })
			})
		},
	}
}

func newAttachVersionsCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <attachment-id>",
		Short: "Show an attachment and its ancestors, newest first",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				chain, err := client.VersionChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.emit(chain, func() error {
					if err := writeAttachmentList(chain.Versions); err != nil {
						return err
					}
					if chain.RootLost {
						return writePlain("(older versions were deleted)\n")
					}
					return nil
				})
			})
		},
	}
}

func bindAttachUploadFlags(cmd *cobra.Command, opts *attachUploadOptions) {
	cmd.Flags().StringVar(&opts.fileName, "name", "", "display filename (default: local file name)")
	cmd.Flags().StringVar(&opts.contentType, "content-type", "", "content type (default: detected)")
}

func (o *attachUploadOptions) uploadOptions(path string) api.UploadOptions {
	return api.UploadOptions{
		FileName:    chooseFirst(o.fileName, filepath.Base(path)),
		ContentType: strings.TrimSpace(o.contentType),
	}
}

// localFileName picks a safe name in the current directory for a download.
func localFileName(serverName, fallback string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(serverName), `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return fallback
	}
	return name
}

func chooseFirst(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
