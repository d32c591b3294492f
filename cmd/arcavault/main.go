// Command arcavault is the operator CLI for the local authorization engine:
// checking and granting entitlements, redeeming activation codes, managing
// admin access and inspecting the audit trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"arcavault/internal/app"
	"arcavault/internal/config"
	"arcavault/internal/entitlement"
	"arcavault/internal/infrastructure"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if _, err := infrastructure.InitializeLogger(cfg.Logging); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	engine, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, engine, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, engine *app.Engine, command string, args []string) error {
	if err := engine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("startup elevation failed: %w", err)
	}

	switch command {
	case "check":
		return cmdCheck(ctx, engine, args)
	case "grant":
		return cmdGrant(ctx, engine, args)
	case "revoke":
		return cmdRevoke(ctx, engine, args)
	case "redeem":
		return cmdRedeem(ctx, engine, args)
	case "purge":
		return cmdPurge(ctx, engine)
	case "consent":
		return cmdConsent(ctx, engine, args)
	case "breakglass":
		return cmdBreakGlass(ctx, engine, args)
	case "admin":
		return cmdAdmin(ctx, engine, args)
	case "audit":
		return cmdAudit(ctx, engine, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdCheck(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	action := fs.String("action", "", "capability action to check")
	scope := fs.String("scope", "", "game scope")
	fs.Parse(args)

	if entitlement.HasCapability(ctx, engine.Entitlements, *action, *scope) {
		fmt.Println("entitled")
		return nil
	}
	fmt.Println("not entitled")
	return nil
}

func cmdGrant(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	action := fs.String("action", "", "capability action to grant")
	scope := fs.String("scope", "", "game scope")
	lifetime := fs.Duration("lifetime", 0, "capability lifetime (0 = no expiry)")
	fs.Parse(args)

	c, err := engine.Entitlements.GrantCapability(ctx, *action, *scope, *lifetime)
	if err != nil {
		return err
	}
	fmt.Println("granted", c.ID)
	return nil
}

func cmdRevoke(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	id := fs.String("id", "", "capability id to revoke")
	fs.Parse(args)

	if err := engine.Entitlements.RevokeCapability(ctx, *id); err != nil {
		return err
	}
	fmt.Println("revoked", *id)
	return nil
}

func cmdRedeem(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("redeem", flag.ExitOnError)
	code := fs.String("code", "", "activation code (ARCA-XXXX-...)")
	scope := fs.String("scope", "", "game scope to redeem for")
	fs.Parse(args)

	granted, err := engine.Redeemer.Redeem(ctx, *code, *scope)
	if err != nil {
		return err
	}
	fmt.Println("granted actions:")
	for _, a := range granted {
		fmt.Println("  ", a)
	}
	return nil
}

func cmdPurge(ctx context.Context, engine *app.Engine) error {
	n, err := engine.Entitlements.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired capabilities\n", n)
	return nil
}

func cmdConsent(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("consent", flag.ExitOnError)
	scope := fs.String("scope", "", "game scope to record consent for")
	fs.Parse(args)

	if err := engine.Entitlements.RecordConsent(ctx, *scope, "cli"); err != nil {
		return err
	}
	fmt.Println("consent recorded for", *scope)
	return nil
}

func cmdBreakGlass(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("breakglass", flag.ExitOnError)
	respond := fs.String("respond", "", "response to today's challenge")
	challenge := fs.String("challenge", "", "challenge the response answers")
	scope := fs.String("scope", "", "scope for the recovery token")
	fs.Parse(args)

	if *respond == "" {
		c, err := engine.Admin.GenerateChallenge()
		if err != nil {
			return err
		}
		fmt.Println("challenge:", c)
		fmt.Println("quote this challenge to support to obtain today's response")
		return nil
	}

	t, err := engine.Admin.ValidateResponse(ctx, *challenge, *respond, *scope)
	if err != nil {
		return err
	}
	fmt.Println("recovery token issued, expires", t.ExpiresAt.Format(time.RFC3339))
	return nil
}

func cmdAdmin(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	activate := fs.Bool("activate", false, "mint and persist an admin token")
	revoke := fs.Bool("revoke", false, "revoke admin access")
	scope := fs.String("scope", "", "scope for the admin token")
	lifetime := fs.Duration("lifetime", 24*time.Hour, "requested token lifetime (clamped to 30 days)")
	fs.Parse(args)

	switch {
	case *activate:
		t, err := engine.Admin.Activate(ctx, *scope, *lifetime)
		if err != nil {
			return err
		}
		fmt.Println("admin token issued, expires", t.ExpiresAt.Format(time.RFC3339))
		return nil
	case *revoke:
		return engine.Admin.RevokeAdmin(ctx)
	default:
		if t, ok := engine.Admin.Current(); ok {
			fmt.Printf("admin token %s (%s) for scope %s, expires %s\n",
				t.ID, t.Method, t.Scope, t.ExpiresAt.Format(time.RFC3339))
			return nil
		}
		fmt.Println("no live admin token")
		return nil
	}
}

func cmdAudit(ctx context.Context, engine *app.Engine, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	n := fs.Int("n", 20, "number of entries to show")
	fs.Parse(args)

	entries, err := engine.Audit.Tail(ctx, *n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-22s %-16s %s  %s\n",
			e.Timestamp.Format(time.RFC3339), e.Action, e.Outcome, e.GameScope, e.Detail)
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: arcavault <command> [flags]

commands:
  check      -action A -scope S         report whether an action is entitled
  grant      -action A -scope S         grant a capability
  revoke     -id ID                     revoke a capability by id
  redeem     -code C -scope S           redeem an activation code
  purge                                 remove expired capabilities
  consent    -scope S                   record consent for a scope
  breakglass [-respond R -challenge C -scope S]
                                        print today's challenge, or answer it
  admin      [-activate|-revoke] -scope S -lifetime D
                                        manage the admin token
  audit      [-n N]                     show recent audit entries`)
}
