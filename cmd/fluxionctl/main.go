// Command fluxionctl is the offline operator CLI for the Fluxion core
// (Expansion, §4.12): migrations, backup/restore, license activation,
// and appointment lifecycle operations against the local embedded
// store. Grounded on the teacher's cmd/slctl (flag-based subcommand
// dispatch, env-first flag defaults, a root usage banner printed on any
// unrecognized command) — reworked from an HTTP API client into a
// direct caller of the core's own services, since this CLI drives a
// local process rather than a remote one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/appointment"
	"github.com/lukeeterna/fluxion-core/infrastructure/auditstore"
	"github.com/lukeeterna/fluxion-core/infrastructure/config"
	"github.com/lukeeterna/fluxion-core/infrastructure/licensestore"
	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
	"github.com/lukeeterna/fluxion-core/infrastructure/repository"
	"github.com/lukeeterna/fluxion-core/infrastructure/scheduling"
	"github.com/lukeeterna/fluxion-core/infrastructure/storage"
	appointmentsvc "github.com/lukeeterna/fluxion-core/services/appointment"
	auditsvc "github.com/lukeeterna/fluxion-core/services/audit"
	licensesvc "github.com/lukeeterna/fluxion-core/services/license"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(config.GetEnv("FLUXION_CONFIG", ""))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	root := flag.NewFlagSet("fluxionctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	dbPath := root.String("db", cfg.DBPath, "Path to the Fluxion SQLite store (env FLUXION_DB_PATH)")
	backupDir := root.String("backup-dir", cfg.BackupDir, "Backups directory (env FLUXION_BACKUP_DIR)")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	switch remaining[0] {
	case "migrate":
		return handleMigrate(ctx, *dbPath)
	case "backup":
		return handleBackup(ctx, *dbPath, *backupDir)
	case "restore":
		return handleRestore(*dbPath, remaining[1:])
	case "list-backups":
		return handleListBackups(*backupDir)
	case "license":
		return handleLicense(ctx, *dbPath, remaining[1:])
	case "appointment":
		return handleAppointment(ctx, *dbPath, remaining[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`fluxionctl — Fluxion offline operator CLI

Usage:
  fluxionctl [global flags] <command> [subcommand] [flags]

Global Flags:
  --db           Path to the SQLite store (env FLUXION_DB_PATH, default ./fluxion.db)
  --backup-dir   Backups directory (env FLUXION_BACKUP_DIR, default ./backups)

Commands:
  migrate                        Apply embedded migrations and exit
  backup                         Write a timestamped backup of the store
  restore <path>                  Restore the store from a backup file
  list-backups                    List available backups, newest first
  license activate <path>         Activate a signed license envelope
  license status                  Show the cached license status
  license tier-info               Print the tier pricing/feature table
  appointment create               Create a Draft appointment
  appointment propose <id>         Run validation and propose an appointment
  appointment confirm-client <id>  Confirm an appointment as the client
  appointment confirm-operator <id> Confirm an appointment as the operator
  appointment cancel <id>           Cancel an appointment
  appointment complete <id>        Mark a confirmed appointment as completed`)
}

func openEngine(ctx context.Context, dbPath string) (*storage.Engine, error) {
	return storage.Open(ctx, dbPath)
}

// ---------------------------------------------------------------------
// Storage lifecycle

func handleMigrate(ctx context.Context, dbPath string) error {
	engine, err := openEngine(ctx, dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()
	fmt.Printf("Migrations applied to %s\n", dbPath)
	return nil
}

func handleBackup(ctx context.Context, dbPath, backupDir string) error {
	engine, err := openEngine(ctx, dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	path, err := engine.Backup(ctx, backupDir, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Backup written to %s\n", path)
	return nil
}

func handleRestore(dbPath string, args []string) error {
	if len(args) == 0 {
		return errors.New("restore requires a backup file path")
	}
	sourcePath := args[0]
	if err := storage.Restore(dbPath, sourcePath); err != nil {
		return err
	}
	fmt.Printf("Restored %s from %s\n", dbPath, sourcePath)
	return nil
}

func handleListBackups(backupDir string) error {
	backups, err := storage.ListBackups(backupDir)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("(no backups found)")
		return nil
	}
	for _, b := range backups {
		fmt.Printf("%s\t%d bytes\t%s\n", b.Path, b.Size, b.Modified.Format(time.RFC3339))
	}
	return nil
}

// ---------------------------------------------------------------------
// License

func handleLicense(ctx context.Context, dbPath string, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  fluxionctl license activate <envelope-path>
  fluxionctl license status
  fluxionctl license tier-info`)
		return nil
	}

	engine, err := openEngine(ctx, dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	log := logging.NewFromEnv("fluxionctl")
	verifier, err := licensesvc.New(licensestore.New(engine.DB()), licensesvc.WithLogger(log))
	if err != nil {
		return err
	}

	switch args[0] {
	case "activate":
		if len(args) < 2 {
			return errors.New("license activate requires an envelope file path")
		}
		envelopeBytes, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read license envelope: %w", err)
		}
		if err := verifier.Activate(ctx, envelopeBytes); err != nil {
			return err
		}
		fmt.Println("License activated.")
		return nil
	case "status":
		status, err := verifier.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Status: %s\n", status.Status)
		fmt.Printf("Tier: %s\n", status.Tier)
		if status.Perpetual {
			fmt.Println("Expiry: perpetual")
		} else if status.DaysRemaining != nil {
			fmt.Printf("Days remaining: %d\n", *status.DaysRemaining)
		}
		return nil
	case "tier-info":
		for _, info := range verifier.TierInfo() {
			fmt.Printf("%s (%s): %s — %s\n", info.DisplayName, info.Tier, info.PriceAnchor, info.Summary)
		}
		return nil
	default:
		return fmt.Errorf("unknown license subcommand %q", args[0])
	}
}

// ---------------------------------------------------------------------
// Appointment

func newAppointmentService(engine *storage.Engine, log *logging.Logger) *appointmentsvc.Service {
	repo := repository.New(engine.DB(), repository.WithLogger(log))
	audit := auditsvc.New(auditstore.New(engine.DB()), auditsvc.WithLogger(log))
	holidays := scheduling.New(engine.DB())
	workingHours := scheduling.NewWorkingHours(engine.DB())
	return appointmentsvc.New(repo,
		appointmentsvc.WithAudit(audit),
		appointmentsvc.WithLogger(log),
		appointmentsvc.WithHolidayLookup(holidays.Lookup),
		appointmentsvc.WithWorkingHoursLookup(workingHours.Lookup),
	)
}

func handleAppointment(ctx context.Context, dbPath string, args []string) error {
	if len(args) == 0 {
		fmt.Println(`Usage:
  fluxionctl appointment create --client <id> --operator <id> --service <id> --start <RFC3339> --duration <minutes>
  fluxionctl appointment propose <id>
  fluxionctl appointment confirm-client <id>
  fluxionctl appointment confirm-operator <id>
  fluxionctl appointment cancel <id>
  fluxionctl appointment complete <id>`)
		return nil
	}

	engine, err := openEngine(ctx, dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	log := logging.NewFromEnv("fluxionctl")
	svc := newAppointmentService(engine, log)

	switch args[0] {
	case "create":
		return handleAppointmentCreate(ctx, svc, args[1:])
	case "propose":
		return requireID(args[1:], func(id string) error {
			a, result, err := svc.Propose(ctx, id)
			if err != nil {
				return err
			}
			printAppointment(a)
			if result.IsBlocked() {
				fmt.Println("Blocked:")
				for _, issue := range result.HardErrors {
					fmt.Printf("  - [%s] %s\n", issue.Code, issue.Message)
				}
			}
			for _, issue := range result.Warnings {
				fmt.Printf("  ! [%s] %s\n", issue.Code, issue.Message)
			}
			for _, issue := range result.Suggestions {
				fmt.Printf("  ~ [%s] %s\n", issue.Code, issue.Message)
			}
			return nil
		})
	case "confirm-client":
		return requireID(args[1:], func(id string) error {
			a, err := svc.ConfirmClient(ctx, id)
			if err != nil {
				return err
			}
			printAppointment(a)
			return nil
		})
	case "confirm-operator":
		return requireID(args[1:], func(id string) error {
			a, err := svc.ConfirmOperator(ctx, id)
			if err != nil {
				return err
			}
			printAppointment(a)
			return nil
		})
	case "cancel":
		return requireID(args[1:], func(id string) error {
			a, err := svc.Cancel(ctx, id)
			if err != nil {
				return err
			}
			printAppointment(a)
			return nil
		})
	case "complete":
		return requireID(args[1:], func(id string) error {
			a, err := svc.Complete(ctx, id)
			if err != nil {
				return err
			}
			printAppointment(a)
			return nil
		})
	default:
		return fmt.Errorf("unknown appointment subcommand %q", args[0])
	}
}

func requireID(args []string, fn func(id string) error) error {
	if len(args) == 0 {
		return errors.New("appointment id is required")
	}
	return fn(args[0])
}

func handleAppointmentCreate(ctx context.Context, svc *appointmentsvc.Service, args []string) error {
	fs := flag.NewFlagSet("appointment create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var clientID, operatorID, serviceID, startStr string
	var duration int
	fs.StringVar(&clientID, "client", "", "Client ID (required)")
	fs.StringVar(&operatorID, "operator", "", "Operator ID (required)")
	fs.StringVar(&serviceID, "service", "", "Service ID (required)")
	fs.StringVar(&startStr, "start", "", "Start instant, RFC3339 (required)")
	fs.IntVar(&duration, "duration", 0, "Duration in minutes (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if clientID == "" || operatorID == "" || serviceID == "" || startStr == "" || duration <= 0 {
		return errors.New("client, operator, service, start, and a positive duration are required")
	}
	startAt, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}

	a, err := svc.CreateDraft(ctx, clientID, operatorID, serviceID, startAt, duration)
	if err != nil {
		return err
	}
	printAppointment(a)
	return nil
}

func printAppointment(a *appointment.Appointment) {
	fmt.Printf("id=%s state=%s client=%s operator=%s service=%s start=%s duration=%dm\n",
		a.ID, a.State, a.ClientID, a.OperatorID, a.ServiceID, a.StartAt.Format(time.RFC3339), a.DurationMinutes)
}
