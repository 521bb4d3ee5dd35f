package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/palma21/mr-comments-bot/internal/dbtalert"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: dbt-alert [model_name]")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() < 1 {
		pflag.Usage()
		os.Exit(1)
	}
	model := pflag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	alerter := dbtalert.NewAlerter(os.Getenv("SLACK_WEBHOOK_URL"), dbtalert.ExecRunner{})
	found, err := alerter.CheckModel(ctx, model)
	if err != nil {
		logrus.Fatalf("Failed to send duplicate alert for %s: %v", model, err)
	}

	if found {
		fmt.Println("Duplicates found! Alert sent.")
	} else {
		fmt.Println("No duplicates found.")
	}
}
