// Command provision provisions a user's team from the command line and can
// issue an API key for the team's default project.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/joho/godotenv"

	"github.com/stackstart/stackstart/internal/config"
	"github.com/stackstart/stackstart/internal/identity"
	"github.com/stackstart/stackstart/internal/model"
	"github.com/stackstart/stackstart/internal/provisioning"
	"github.com/stackstart/stackstart/internal/repository"
)

type options struct {
	databaseURL   string
	migrate       bool
	userID        string
	email         string
	displayName   string
	emailVerified bool
	issueKey      bool
	expiresIn     time.Duration
	format        string
}

type output struct {
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id"`
	KeyID     string `json:"key_id,omitempty"`
	Key       string `json:"key,omitempty"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

func main() {
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:], os.Getenv("DATABASE_URL"))
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if opts.migrate {
		if err := repository.RunMigrations(opts.databaseURL); err != nil {
			fmt.Fprintln(os.Stderr, "run migrations:", config.SanitizeError(err, opts.databaseURL))
			os.Exit(1)
		}
	}

	repo, err := repository.New(ctx, opts.databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", config.SanitizeError(err, opts.databaseURL))
		os.Exit(1)
	}
	defer repo.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := provisioning.NewService(repo, nil, logger, nil)

	out, err := provision(ctx, svc, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := writeOutput(os.Stdout, out, opts.format); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func parseFlags(args []string, defaultDatabaseURL string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	fs.StringVar(&opts.databaseURL, "database-url", defaultDatabaseURL, "PostgreSQL connection string")
	fs.BoolVar(&opts.migrate, "migrate", false, "Apply pending migrations first")
	fs.StringVar(&opts.userID, "user-id", "", "Identity-provider user id (required)")
	fs.StringVar(&opts.email, "email", "", "Primary email")
	fs.StringVar(&opts.displayName, "name", "", "Display name")
	fs.BoolVar(&opts.emailVerified, "email-verified", false, "Mark the primary email as verified")
	fs.BoolVar(&opts.issueKey, "issue-key", false, "Issue an API key for the default project")
	fs.DurationVar(&opts.expiresIn, "expires-in", 0, "API key lifetime, e.g. 720h (0 means never)")
	fs.StringVar(&opts.format, "format", "plain", "Output format: plain or json")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.userID = strings.TrimSpace(opts.userID)
	opts.email = strings.TrimSpace(opts.email)
	opts.format = strings.ToLower(opts.format)
	switch {
	case opts.databaseURL == "":
		return options{}, errors.New("DATABASE_URL or -database-url is required")
	case opts.userID == "":
		return options{}, errors.New("-user-id is required")
	case opts.format != "plain" && opts.format != "json":
		return options{}, errors.New("invalid format; use plain or json")
	case opts.expiresIn < 0:
		return options{}, errors.New("-expires-in must not be negative")
	case opts.expiresIn > 0 && !opts.issueKey:
		return options{}, errors.New("-expires-in requires -issue-key")
	case opts.emailVerified && opts.email == "":
		return options{}, errors.New("-email-verified requires -email")
	}
	if opts.email != "" {
		if err := checkmail.ValidateFormat(opts.email); err != nil {
			return options{}, fmt.Errorf("invalid -email: %w", err)
		}
	}
	return opts, nil
}

// provision ensures the user's team and optionally issues a key for the
// team's default project.
func provision(ctx context.Context, svc *provisioning.Service, opts options) (*output, error) {
	id := identity.Identity{ID: opts.userID}
	if opts.email != "" {
		id.PrimaryEmail = &opts.email
		id.PrimaryEmailVerified = &opts.emailVerified
	}
	if opts.displayName != "" {
		id.DisplayName = &opts.displayName
	}

	teamID, err := svc.EnsureUserHasTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("provision team: %w", err)
	}

	projects, err := svc.GetTeamProjects(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	project := defaultProject(projects)
	if project == nil {
		return nil, fmt.Errorf("team %s has no projects", teamID)
	}

	out := &output{UserID: opts.userID, TeamID: teamID, ProjectID: project.ID}
	if !opts.issueKey {
		return out, nil
	}

	var expiresIn *time.Duration
	if opts.expiresIn > 0 {
		expiresIn = &opts.expiresIn
	}
	created, err := svc.CreateAPIKey(ctx, project.ID, expiresIn)
	if err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	out.KeyID, out.Key, out.ExpiresAt = created.ID, created.Key, created.ExpiresAt
	return out, nil
}

// writeOutput prints the key alone in plain format when one was issued,
// otherwise the team id.
// defaultProject picks the project created with the team. Listing order is
// not defined, so the oldest project named DefaultProjectName wins, falling
// back to the oldest project of any name.
func defaultProject(projects []*model.Project) *model.Project {
	var oldest, named *model.Project
	for _, p := range projects {
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
		if p.Name == model.DefaultProjectName && (named == nil || p.CreatedAt.Before(named.CreatedAt)) {
			named = p
		}
	}
	if named != nil {
		return named
	}
	return oldest
}

func writeOutput(w io.Writer, out *output, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if out.Key != "" {
		_, err := fmt.Fprintln(w, out.Key)
		return err
	}
	_, err := fmt.Fprintln(w, out.TeamID)
	return err
}
