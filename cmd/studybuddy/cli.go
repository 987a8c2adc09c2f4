package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/studybuddy/internal/app"
	"github.com/hpungsan/studybuddy/internal/auth"
	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/db"
	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/export"
	"github.com/hpungsan/studybuddy/internal/ocr"
	"github.com/hpungsan/studybuddy/internal/pipeline"
	"github.com/hpungsan/studybuddy/internal/server"
	"github.com/hpungsan/studybuddy/internal/session"
	"github.com/hpungsan/studybuddy/internal/staging"
	"github.com/hpungsan/studybuddy/internal/summarize"
)

// tokenIssuer is the iss claim of backend session tokens.
const tokenIssuer = "studybuddy"

// upstreamTimeout bounds the backend's calls to the OCR and summary providers.
const upstreamTimeout = 2 * time.Minute

// newCLIApp creates the CLI application with all commands.
// a is nil when only help or version output is needed.
func newCLIApp(a *app.App, baseDir string, secrets *config.Secrets) *cli.App {
	cliApp := &cli.App{
		Name:    "studybuddy",
		Usage:   "Turn photos and PDFs of notes into summaries",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(a),
			extractCmd(a),
			summarizeCmd(a),
			historyCmd(a),
			whoamiCmd(a),
			loginCmd(a),
			logoutCmd(a),
			serveCmd(a, baseDir, secrets),
			tokenCmd(a, baseDir, secrets),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// runCmd creates the run command: stage, extract, summarize and optionally save.
func runCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Extract and summarize files, then save under --title",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Save the result to history under this title"},
			&cli.StringFlag{Name: "download", Aliases: []string{"d"}, Usage: "Also write an artifact: txt|md"},
			&cli.StringFlag{Name: "filename", Aliases: []string{"o"}, Usage: "Artifact name without extension (default StudyNotes)"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			a.Start(ctx)
			// Let the initial history load land before saving into the cache
			a.Wait()

			extracted, err := stageAndExtract(ctx, a, c.Args().Slice())
			if err != nil {
				return outputError(err)
			}

			summarized, err := a.Orchestrator.Summarize(ctx)
			if err != nil {
				return outputError(err)
			}

			out := runOutput{Extracted: extracted.Text, Summary: summarized.Summary}

			if title := c.String("title"); title != "" {
				saved, err := a.Orchestrator.Save(ctx, pipeline.SaveInput{Title: title})
				if err != nil {
					return outputError(err)
				}
				a.Wait()
				if saved.Entry != nil {
					if e, ok := a.History.Get(saved.Entry.ID); ok {
						out.Entry = &e
					}
				}
			}

			if format := c.String("download"); format != "" {
				dl, err := a.Orchestrator.Download(ctx, pipeline.DownloadInput{
					Format:   format,
					Filename: c.String("filename"),
				})
				if err != nil {
					return outputError(err)
				}
				out.Download = dl
			}

			return outputJSON(out)
		},
	}
}

// runOutput is printed by the run command.
type runOutput struct {
	Extracted string                 `json:"extracted"`
	Summary   string                 `json:"summary"`
	Entry     *session.Entry         `json:"entry,omitempty"`
	Download  *export.DownloadOutput `json:"download,omitempty"`
}

// extractCmd creates the extract command.
func extractCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract text from images and PDFs",
		ArgsUsage: "<file>...",
		Action: func(c *cli.Context) error {
			out, err := stageAndExtract(c.Context, a, c.Args().Slice())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// summarizeCmd creates the summarize command.
func summarizeCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "summarize",
		Usage: "Summarize text (reads text from stdin)",
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewValidation("text must be piped via stdin"))
			}
			text, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			a.Orchestrator.LoadSession(session.Entry{Extracted: text})
			out, err := a.Orchestrator.Summarize(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// historyCmd creates the history command and its subcommands.
func historyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Browse saved sessions (requires sign-in)",
		Before: func(c *cli.Context) error {
			if !a.Start(c.Context).Identified() {
				return outputError(errors.NewAuthorizationRequired("history", a.Gate.LoginURL()))
			}
			a.Wait()
			return nil
		},
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List saved sessions, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "include-text", Usage: "Include extracted text and summary"},
				},
				Action: func(c *cli.Context) error {
					if err := a.History.Load(c.Context); err != nil {
						return outputError(err)
					}
					entries := a.History.Entries()
					if !c.Bool("include-text") {
						for i := range entries {
							entries[i].Extracted = ""
							entries[i].Summary = ""
						}
					}
					return outputJSON(map[string]any{"entries": entries, "count": len(entries)})
				},
			},
			{
				Name:      "show",
				Usage:     "Show one saved session",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					entry, err := a.Orchestrator.LoadByID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(entry)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a saved session",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if !a.History.Delete(c.Context, id) {
						return outputError(errors.NewNotFound(id))
					}
					a.Wait()
					return outputJSON(map[string]any{"id": id, "deleted": true})
				},
			},
			{
				Name:      "download",
				Usage:     "Write a saved session to a local file",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "txt", Usage: "Artifact format: txt|md"},
					&cli.StringFlag{Name: "filename", Aliases: []string{"o"}, Usage: "Artifact name without extension (default StudyNotes)"},
				},
				Action: func(c *cli.Context) error {
					if _, err := a.Orchestrator.LoadByID(c.Args().First()); err != nil {
						return outputError(err)
					}
					out, err := a.Orchestrator.Download(c.Context, pipeline.DownloadInput{
						Format:   c.String("format"),
						Filename: c.String("filename"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "export",
				Usage:     "Create an external document from a saved session",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Document title (default: the session title)"},
				},
				Action: func(c *cli.Context) error {
					entry, err := a.Orchestrator.LoadByID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					title := c.String("title")
					if title == "" {
						title = entry.Title
					}
					out, err := a.Orchestrator.ExportExternal(c.Context, title)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// whoamiCmd creates the whoami command.
func whoamiCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in identity",
		Action: func(c *cli.Context) error {
			id := a.Start(c.Context)
			out := map[string]any{"state": id.State}
			if id.Identified() {
				out["label"] = id.Label
			} else {
				out["login_url"] = a.Gate.LoginURL()
			}
			return outputJSON(out)
		},
	}
}

// loginCmd creates the login command.
func loginCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Print the sign-in URL",
		Action: func(c *cli.Context) error {
			return outputJSON(map[string]any{"login_url": a.Gate.LoginURL()})
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Invalidate the backend session",
		Action: func(c *cli.Context) error {
			a.Gate.Logout(c.Context)
			return outputJSON(a.Gate.Current())
		},
	}
}

// serveCmd creates the serve command, which runs the HTTP backend.
func serveCmd(a *app.App, baseDir string, secrets *config.Secrets) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP backend (OCR, summaries, history, documents)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Listen address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			cfg := a.Config
			if secrets.SessionSecret == "" {
				return outputError(errors.NewValidation("STUDYBUDDY_SESSION_SECRET must be set"))
			}

			database, err := db.Init(baseDir)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer database.Close()
			db.ConfigurePool(database, cfg)

			authSvc := auth.NewService(secrets.SessionSecret, tokenIssuer, database)
			if n, err := authSvc.PurgeExpired(c.Context); err != nil {
				a.Log.WithError(err).Warn("failed to purge expired revocations")
			} else if n > 0 {
				a.Log.WithField("purged", n).Debug("purged expired revocations")
			}

			hc := &http.Client{Timeout: upstreamTimeout}
			deps := server.Deps{
				DB:         database,
				Config:     cfg,
				Auth:       authSvc,
				Extractor:  ocr.NewExtractor(ocr.NewVisionClient(cfg.VisionEndpoint, secrets.GoogleAPIKey, hc), a.Log),
				Summarizer: summarize.New(secrets.GeminiAPIKey, cfg.SummaryBaseURL, cfg.SummaryModel, hc),
				Log:        a.Log,
			}

			bind := cfg.Bind
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			port := cfg.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			return server.Run(server.NewServer(deps, bind, port), a.Log)
		},
	}
}

// tokenCmd creates the token command, which mints a backend session token.
func tokenCmd(a *app.App, baseDir string, secrets *config.Secrets) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a session token for an email (for STUDYBUDDY_SESSION_TOKEN)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true, Usage: "Identity to sign in as"},
		},
		Action: func(c *cli.Context) error {
			if secrets.SessionSecret == "" {
				return outputError(errors.NewValidation("STUDYBUDDY_SESSION_SECRET must be set"))
			}
			database, err := db.Init(baseDir)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer database.Close()

			token, claims, err := auth.NewService(secrets.SessionSecret, tokenIssuer, database).Issue(c.String("email"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"token":      token,
				"email":      claims.Email,
				"expires_at": claims.ExpiresAt.Unix(),
			})
		},
	}
}

// Helper functions

// stageAndExtract reads paths into the staging buffer and extracts them.
func stageAndExtract(ctx context.Context, a *app.App, paths []string) (*pipeline.ExtractOutput, error) {
	if len(paths) == 0 {
		return nil, errors.NewValidation("at least one file is required")
	}
	files := make([]staging.File, 0, len(paths))
	for _, p := range paths {
		f, err := staging.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	a.Buffer.Add(files...)
	return a.Orchestrator.Extract(ctx)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		msg := fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message)
		if u := sErr.RedirectURL(); u != "" {
			msg += " (sign in at " + u + ")"
		}
		return cli.Exit(msg, 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
