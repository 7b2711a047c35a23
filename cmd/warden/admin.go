// ABOUTME: Provisioning commands for users, machine clients and the permission catalog
// ABOUTME: Talk to the database directly through the engine; no server needs to run

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/warden/internal/authn"
	"github.com/2389/warden/internal/store"
)

const cliActor = "cli"

func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return errors.New("usage: warden user create --email <email> --org <organisation> [--name <name>] [--privileges a,b]")
	}
	flags, err := parseArgs(args[1:], []string{"email", "org", "name", "display-name", "privileges"}, nil)
	if err != nil {
		return err
	}

	engine, s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := engine.CreateUser(ctx, cliActor, authn.NewUser{
		Email:          flags["email"],
		Name:           flags["name"],
		DisplayName:    flags["display-name"],
		OrganisationID: flags["org"],
		Privileges:     splitList(flags["privileges"]),
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	fmt.Println()
	green.Println("  User created")
	fmt.Println()
	cyan.Println("  ID:          " + user.ID)
	cyan.Println("  Email:       " + user.Email)
	cyan.Println("  Privileges:  " + strings.Join(user.Privileges, " "))
	fmt.Println()
	return nil
}

func runClient(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return errors.New("usage: warden client create --id <client-id> [--name <name>] [--secret <secret>] [--privileges a,b] [--trusted]")
	}
	flags, err := parseArgs(args[1:], []string{"id", "name", "secret", "privileges"}, []string{"trusted"})
	if err != nil {
		return err
	}

	engine, s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	created, err := engine.CreateClient(ctx, cliActor, authn.NewClient{
		ClientID:   flags["id"],
		Secret:     flags["secret"],
		Name:       flags["name"],
		Privileges: splitList(flags["privileges"]),
		Trusted:    flags["trusted"] == "true",
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	fmt.Println()
	green.Println("  Client created successfully")
	fmt.Println()
	cyan.Println("  Client ID:   " + created.Client.ClientID)
	cyan.Println("  Privileges:  " + strings.Join(created.Client.Privileges, " "))
	cyan.Println("  Trusted:     " + strconv.FormatBool(created.Client.Trusted))
	fmt.Println()
	fmt.Println("  Client secret (keep this secret, it is not stored):")
	fmt.Println()
	fmt.Println("  " + created.Secret)
	fmt.Println()
	return nil
}

func runPermission(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: warden permission <list|add>")
	}

	engine, s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "list":
		perms, err := s.ListPermissions(ctx)
		if err != nil {
			return fmt.Errorf("listing permissions: %w", err)
		}
		printPermissions("Permissions", perms)
		return nil
	case "add":
		flags, err := parseArgs(args[1:], []string{"scope", "description"}, nil)
		if err != nil {
			return err
		}
		resource, action, ok := strings.Cut(flags["scope"], ":")
		if !ok || resource == "" || action == "" {
			return errors.New("usage: warden permission add --scope <resource:action> [--description <text>]")
		}
		p := store.Permission{Resource: resource, Action: action, Description: flags["description"]}
		if err := engine.SeedPermissions(ctx, []store.Permission{p}); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("  ✓ Added %s\n", p.Scope())
		return nil
	default:
		return fmt.Errorf("unknown permission command: %s", args[0])
	}
}

// runCatalog shows the scopes the engine will grant, or seeds the defaults.
func runCatalog(ctx context.Context, args []string) error {
	engine, s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) > 0 {
		if args[0] != "seed" {
			return errors.New("usage: warden catalog [seed]")
		}
		if err := engine.SeedPermissions(ctx, append([]store.Permission{}, authn.DefaultPermissions...)); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("  ✓ Seeded %d permissions\n", len(authn.DefaultPermissions))
	}

	perms, err := engine.Catalog().Permissions(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	printPermissions("Scope Catalog", perms)
	return nil
}

func printPermissions(title string, perms []store.Permission) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  " + title)
	cyan.Println("  " + strings.Repeat("-", len(title)))

	if len(perms) == 0 {
		fmt.Println("  (none, run `warden catalog seed`)")
		fmt.Println()
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SCOPE\tDESCRIPTION")
	fmt.Fprintln(w, "  -----\t-----------")
	for _, p := range perms {
		fmt.Fprintf(w, "  %s\t%s\n", p.Scope(), p.Description)
	}
	w.Flush()
	fmt.Println()
}

func runAudit(ctx context.Context, args []string) error {
	flags, err := parseArgs(args, []string{"limit", "action", "actor"}, nil)
	if err != nil {
		return err
	}
	filter := store.AuditFilter{Limit: 50}
	if v := flags["limit"]; v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
	}
	if v := flags["action"]; v != "" {
		action := store.AuditAction(v)
		filter.Action = &action
	}
	if v := flags["actor"]; v != "" {
		filter.ActorID = &v
	}

	_, s, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")
	if len(entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tACTOR\tTARGET")
	fmt.Fprintln(w, "  ----\t------\t-----\t------")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s/%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Action, truncate(e.ActorID, 28), e.TargetType, truncate(e.TargetID, 28))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
