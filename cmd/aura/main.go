// Command aura is the command line client for Aura photo frames.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/striglia/auraframes/internal/aura"
	"github.com/striglia/auraframes/internal/config"
	"github.com/striglia/auraframes/internal/models"
	"github.com/striglia/auraframes/internal/observability/logging"
	"github.com/striglia/auraframes/internal/upload"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "aura: %v\n", err)
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand: the persistent flag
// values, the resolved settings, and the wired client.
type app struct {
	configPath string
	baseURL    string
	logLevel   string
	logFormat  string

	settings config.Config
	logger   *slog.Logger
	client   *aura.Client
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "aura",
		Short: "Unofficial command line client for Aura photo frames",
		Long: `aura talks to the photo-frame vendor's private API: list the frames on
an account, walk their photo catalogs, push new photos through the
vendor's upload sequence, and export full-resolution originals with
their metadata embedded.

Settings load from ` + "`~/.config/auraframes/config.toml`" + `, AURA_*
environment variables, and an optional .env file in the working
directory. Flags take precedence over all of them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the config file")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "override the API base URL")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text or json)")

	root.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newFramesCommand(a),
		newAssetsCommand(a),
		newUploadCommand(a),
		newExportCommand(a),
		newPurgeCommand(a),
	)

	return root
}

// setup loads settings and wires the client. Every subcommand calls it
// before doing work; flag values beat environment values, which beat the
// config file.
func (a *app) setup(cmd *cobra.Command) error {
	if a.client != nil {
		return nil
	}

	godotenv.Load()

	settings, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(&settings, a.baseURL, a.logLevel, a.logFormat)

	logger := logging.Init(logging.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Writer: cmd.ErrOrStderr(),
	})

	client, err := aura.New(aura.Config{
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	a.settings = settings
	a.logger = logging.WithComponent(logger, "cli")
	a.client = client
	a.logger.Debug("client configured",
		"base_url", settings.BaseURL,
		"session_path", settings.SessionPath,
		"cache_dir", settings.CacheDir)
	return nil
}

// applyFlagOverrides layers flag values over the loaded settings. Empty
// flags leave the resolved value alone.
func applyFlagOverrides(settings *config.Config, baseURL, logLevel, logFormat string) {
	settings.BaseURL = firstNonEmpty(baseURL, settings.BaseURL)
	settings.LogLevel = firstNonEmpty(logLevel, settings.LogLevel)
	settings.LogFormat = firstNonEmpty(logFormat, settings.LogFormat)
}

func newLoginCommand(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			resolvedEmail := firstNonEmpty(email, a.settings.Email)
			if resolvedEmail == "" {
				return fmt.Errorf("email is required: pass --email, set AURA_EMAIL, or add it to the config file")
			}
			resolvedPassword := firstNonEmpty(password, a.settings.Password)
			if resolvedPassword == "" {
				prompted, err := promptPassword(os.Stdin, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				resolvedPassword = prompted
			}
			user, err := a.client.Login(cmd.Context(), resolvedEmail, resolvedPassword)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func newFramesCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "frames",
		Short: "List the frames this account can post to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			frames, err := a.client.Frames(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), frames)
			}
			formatFrames(cmd.OutOrStdout(), frames)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw frame records as JSON")
	return cmd
}

func newAssetsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "assets [frame-id]",
		Short: "List every photo on a frame",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			frameID, err := a.resolveFrameID(cmd.Context(), argAt(args, 0))
			if err != nil {
				return err
			}
			assets, err := a.client.AllAssets(cmd.Context(), frameID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), assets)
			}
			formatAssets(cmd.OutOrStdout(), assets)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw asset records as JSON")
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var (
		frameID  string
		location string
		favorite bool
	)

	cmd := &cobra.Command{
		Use:   "upload [flags] <photo>...",
		Short: "Push photos onto a frame",
		Long: `upload drives each photo through the vendor's upload sequence: draft an
asset record, put the bytes in the vendor's object store, confirm
processing over the frame's event queue, and attach the finished asset
to the frame. Photos upload concurrently; one failed photo does not
stop the rest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			photos := make([]upload.Photo, 0, len(args))
			for _, path := range args {
				photo, err := photoFromFile(path)
				if err != nil {
					return err
				}
				photo.LocationName = location
				photo.Favorite = favorite
				photos = append(photos, photo)
			}
			resolved, err := a.resolveFrameID(cmd.Context(), frameID)
			if err != nil {
				return err
			}
			results, err := a.client.UploadPhotos(cmd.Context(), resolved, photos)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for i, result := range results {
				if result.Err != nil {
					failed++
					fmt.Fprintf(out, "failed    %s: %v\n", args[i], result.Err)
					continue
				}
				fmt.Fprintf(out, "uploaded  %s as asset %s\n", args[i], result.Asset.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&frameID, "frame", "", "frame id (defaults to the only frame on the account)")
	cmd.Flags().StringVar(&location, "location", "", "place name recorded on the uploaded photos")
	cmd.Flags().BoolVar(&favorite, "favorite", false, "mark the uploaded photos as favorites")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		dir         string
		ignoreCache bool
	)

	cmd := &cobra.Command{
		Use:   "export [frame-id]",
		Short: "Download a frame's originals with embedded metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			target := firstNonEmpty(dir, a.settings.ExportDir)
			if target == "" {
				return fmt.Errorf("export directory is required: pass --dir or set export_dir in the config file")
			}
			frameID, err := a.resolveFrameID(cmd.Context(), argAt(args, 0))
			if err != nil {
				return err
			}
			result, err := a.client.Export(cmd.Context(), frameID, target, ignoreCache)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d, skipped %d, failed %d (%s)\n",
				result.Exported, result.Skipped, result.Failed, target)
			if result.Failed > 0 {
				return fmt.Errorf("%d assets failed to export", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "destination directory (defaults to export_dir from the config)")
	cmd.Flags().BoolVar(&ignoreCache, "ignore-cache", false, "re-download files that already exist locally")
	return cmd
}

func newPurgeCommand(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Sweep the local response cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			removed, err := a.client.PurgeCache(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only remove entries older than this (0 removes everything)")
	return cmd
}

// resolveFrameID picks the frame to operate on. Without an explicit id the
// account must own exactly one frame.
func (a *app) resolveFrameID(ctx context.Context, arg string) (string, error) {
	if trimmed := strings.TrimSpace(arg); trimmed != "" {
		return trimmed, nil
	}
	frames, err := a.client.Frames(ctx)
	if err != nil {
		return "", err
	}
	return defaultFrame(frames)
}

func defaultFrame(frames []models.Frame) (string, error) {
	switch len(frames) {
	case 0:
		return "", fmt.Errorf("account has no frames")
	case 1:
		return frames[0].ID, nil
	default:
		return "", fmt.Errorf("account has %d frames; pass a frame id (see 'aura frames')", len(frames))
	}
}

// photoFromFile reads an image and fills in the metadata the backend
// records: pixel dimensions from the encoded header, taken-at from the file
// modification time.
func photoFromFile(path string) (upload.Photo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return upload.Photo{}, fmt.Errorf("read photo: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return upload.Photo{}, fmt.Errorf("stat photo: %w", err)
	}
	dims, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return upload.Photo{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return upload.Photo{
		Data:     data,
		Filename: filepath.Base(path),
		TakenAt:  info.ModTime(),
		Width:    dims.Width,
		Height:   dims.Height,
	}, nil
}

// promptPassword reads the password from the terminal without echo.
func promptPassword(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is required: pass --password, set AURA_PASSWORD, or run interactively")
	}
	fmt.Fprint(out, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("password is empty")
	}
	return string(raw), nil
}

func formatFrames(w io.Writer, frames []models.Frame) {
	if len(frames) == 0 {
		fmt.Fprintln(w, "No frames.")
		return
	}
	for _, frame := range frames {
		fmt.Fprintf(w, "%-36s  %s\n", frame.ID, frame.Name)
	}
}

func formatAssets(w io.Writer, assets []models.Asset) {
	if len(assets) == 0 {
		fmt.Fprintln(w, "No assets.")
		return
	}
	for _, asset := range assets {
		takenAt := asset.TakenAt
		if takenAt == "" {
			takenAt = "-"
		}
		fmt.Fprintf(w, "%-26s  %-10s  %s\n", takenAt, asset.Status, asset.FileName)
	}
	fmt.Fprintf(w, "%d assets\n", len(assets))
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func argAt(args []string, index int) string {
	if index < len(args) {
		return args[index]
	}
	return ""
}
