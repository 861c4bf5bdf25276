package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"

	"github.com/filebeam/filebeam/config"
	"github.com/filebeam/filebeam/network"
	"github.com/filebeam/filebeam/network/rangeupload"
)

// envConfig holds defaults read from the environment; flags override them.
type envConfig struct {
	APIBaseURL string        `env:"FILEBEAM_API_URL"`
	Token      config.Secret `env:"FILEBEAM_TOKEN"`
	Username   string        `env:"FILEBEAM_USERNAME"`
	Password   config.Secret `env:"FILEBEAM_PASSWORD"`
}

func main() {
	logger := log.NewLogger()

	if err := run(logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	var envCfg envConfig
	if err := config.NewInputParser(env.NewRepository()).Parse(&envCfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	app := &cli.App{
		Name:  "filebeam",
		Usage: "Chunked file transfer client for the FileBeam hosting service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api-url", Usage: "API base URL", Value: envCfg.APIBaseURL},
			&cli.StringFlag{Name: "token", Usage: "Session token (skips login)", Value: string(envCfg.Token)},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Account user name", Value: envCfg.Username},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Account password", Value: string(envCfg.Password)},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "Extra request header (\"Name: value\"), repeatable"},
			&cli.BoolFlag{Name: "verbose", Usage: "Enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			logger.EnableDebugLog(c.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			uploadCommand(logger),
			downloadCommand(logger),
		},
	}

	return app.Run(os.Args)
}

func uploadCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a file (or every file matching a glob) in range-addressed chunks",
		ArgsUsage: "<file-or-glob> [remote-path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "chunk-size", Usage: "Chunk size, e.g. 16MiB", Value: "16MiB"},
			&cli.BoolFlag{Name: "secured", Usage: "Request a secured (private) file"},
			&cli.StringFlag{Name: "redirect", Usage: "Redirect mode: follow, manual or error", Value: "follow"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("usage: filebeam upload <file-or-glob> [remote-path]")
			}

			chunkSize, err := units.RAMInBytes(c.String("chunk-size"))
			if err != nil {
				return fmt.Errorf("invalid chunk size %s: %w", c.String("chunk-size"), err)
			}

			redirectMode, err := parseRedirectMode(c.String("redirect"))
			if err != nil {
				return err
			}

			headers, err := parseHeaders(c.StringSlice("header"))
			if err != nil {
				return err
			}

			var uploader network.Uploader = network.DefaultUploader{}
			return uploader.Upload(c.Context, network.UploadParams{
				APIBaseURL:     c.String("api-url"),
				Token:          c.String("token"),
				Username:       c.String("username"),
				Password:       c.String("password"),
				LocalPath:      c.Args().Get(0),
				RemotePath:     c.Args().Get(1),
				Secured:        c.Bool("secured"),
				ChunkSizeBytes: int(chunkSize),
				RedirectMode:   redirectMode,
				Headers:        headers,
			}, logger)
		},
	}
}

func downloadCommand(logger log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a file by ID or URL",
		ArgsUsage: "<url-or-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file"},
			&cli.BoolFlag{Name: "remote-name", Aliases: []string{"O"}, Usage: "Use the remote file name"},
			&cli.BoolFlag{Name: "location", Aliases: []string{"L"}, Value: true, Usage: "Follow the resolved download location (disable to print it instead)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: filebeam download <url-or-id>")
			}

			headers, err := parseHeaders(c.StringSlice("header"))
			if err != nil {
				return err
			}

			var downloader network.Downloader = network.DefaultDownloader{}
			dest, err := downloader.Download(c.Context, network.DownloadParams{
				APIBaseURL:     c.String("api-url"),
				Token:          c.String("token"),
				Username:       c.String("username"),
				Password:       c.String("password"),
				FileRef:        c.Args().Get(0),
				OutputPath:     c.String("output"),
				UseRemoteName:  c.Bool("remote-name"),
				FollowLocation: c.Bool("location"),
				Headers:        headers,
			}, logger)
			if err != nil {
				return err
			}

			if c.Bool("location") {
				logger.Donef("Saved to %s", dest)
			} else {
				logger.Printf("%s", dest)
			}
			return nil
		},
	}
}

func parseRedirectMode(mode string) (rangeupload.RedirectMode, error) {
	switch mode {
	case "follow":
		return rangeupload.RedirectFollow, nil
	case "manual":
		return rangeupload.RedirectManual, nil
	case "error":
		return rangeupload.RedirectError, nil
	}
	return 0, fmt.Errorf("invalid redirect mode %q (follow, manual or error)", mode)
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	headers := make(map[string]string, len(raw))
	for _, header := range raw {
		name, value, found := strings.Cut(header, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", header)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return headers, nil
}
