// lease-ops runs one-off maintenance against the lease database: migrations,
// template seeding, the expiry sweep, outbox replay and user bootstrap.
//
// Usage (from backend directory):
//
//	DB_DRIVER=mysql DB_USER=... DB_PASSWORD=... DB_HOST=... DB_NAME=... go run ./cmd/lease-ops migrate
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/notify"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "lease-ops",
		Short: "Lease backend operations tool",
	}
	rootCmd.AddCommand(
		migrateCmd(),
		seedTemplatesCmd(),
		sweepCmd(),
		replayOutboxCmd(),
		processOutboxCmd(),
		createUserCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect opens the database, and redis when REDIS_ADDRESS is set.
func connect() (*gorm.DB, error) {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized; set DB_* env vars")
	}
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}
	return db, nil
}

func systemContext() context.Context {
	return models.ContextWithActor(context.Background(), models.SystemActor())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			if err := models.MigrateTable(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending reservations and unsigned contracts once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := connect(); err != nil {
				return err
			}
			result, err := workflow.NewExpirySweep(config.GetLogger()).RunOnce(systemContext())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d reservations, %d contracts\n", result.Reservations, result.Contracts)
			return nil
		},
	}
}

func replayOutboxCmd() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "replay-outbox",
		Short: "Make a FAILED or DEAD notification eligible for delivery again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return fmt.Errorf("--id is required")
			}
			if _, err := connect(); err != nil {
				return err
			}
			evt, err := models.ReplayOutboxEvent(systemContext(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outbox %d: publish=%s processing=%s\n", evt.ID, evt.PublishStatus, evt.ProcessingStatus)
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "outbox event id")
	return cmd
}

func processOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-outbox",
		Short: "Deliver every due notification once, without Pub/Sub",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			logger := config.GetLogger()
			proc := workflow.NewNotificationProcessor(db, logger, &notify.Dispatcher{
				Templates:  models.NotificationTemplateStore{DB: db},
				Transports: notify.TransportsFromEnv(logger),
				Logger:     logger,
			})
			n, err := proc.ProcessDue(systemContext())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d notifications\n", n)
			return nil
		},
	}
}

func createUserCmd() *cobra.Command {
	var input models.NewUser
	var role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a login",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := connect(); err != nil {
				return err
			}
			input.Role = models.ActorRole(role)
			user, err := models.CreateUser(systemContext(), &input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) id=%s\n", user.Username, user.Role, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Username, "username", "", "login name")
	cmd.Flags().StringVar(&input.Password, "password", "", "password")
	cmd.Flags().StringVar(&input.Name, "name", "", "display name")
	cmd.Flags().StringVar(&input.Email, "email", "", "email")
	cmd.Flags().StringVar(&input.Phone, "phone", "", "phone")
	cmd.Flags().StringVar(&role, "role", string(models.ActorRoleAdmin), "tenant|owner|accounting|admin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
