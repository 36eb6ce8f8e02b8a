package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/cipher"
	"github.com/nurpe/sealed-bids/internal/config"
	"github.com/nurpe/sealed-bids/internal/db"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/report"
	"github.com/nurpe/sealed-bids/internal/repository"
)

var (
	dsnFlag = &cli.StringFlag{
		Name:     "dsn",
		Usage:    "postgres connection string",
		EnvVars:  []string{"DB_DSN"},
		Required: true,
	}
	keyIDFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "identifier of the new sealing key",
		Value: "k1",
	}
	signingKeyOutFlag = &cli.StringFlag{
		Name:  "signing-key-out",
		Usage: "also write a P-256 report signing key to this file",
	}
	keyFileFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "PEM file with the report signing key or its public half",
		Required: true,
	}
)

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "generate a sealing key entry for SEALING_KEYS",
	Flags: []cli.Flag{keyIDFlag, signingKeyOutFlag},
	Action: func(cctx *cli.Context) error {
		id := strings.TrimSpace(cctx.String(keyIDFlag.Name))
		if id == "" || strings.ContainsAny(id, ":,") {
			return fmt.Errorf("key id must be non-empty and must not contain ':' or ','")
		}

		material, err := cipher.GenerateKeyMaterial()
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "SEALING_KEYS=%s:%s\n", id, base64.StdEncoding.EncodeToString(material))
		fmt.Fprintf(cctx.App.Writer, "SEALING_ACTIVE_KEY_ID=%s\n", id)

		path := cctx.String(signingKeyOutFlag.Name)
		if path == "" {
			return nil
		}
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}
		private, err := report.EncodePrivateKeyPEM(key)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, private, 0o600); err != nil {
			return fmt.Errorf("write signing key: %w", err)
		}
		public, err := report.EncodePublicKeyPEM(&key.PublicKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "REPORT_SIGNING_KEY_FILE=%s\n%s", path, public)
		return nil
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply database migrations",
	Flags: []cli.Flag{dsnFlag},
	Action: func(cctx *cli.Context) error {
		database, err := db.Open(dbConfig(cctx))
		if err != nil {
			return err
		}
		if err := db.Migrate(database); err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, "migrations applied")
		return nil
	},
}

var verifyAuditCmd = &cli.Command{
	Name:  "verify-audit",
	Usage: "recompute the audit hash chain stored in postgres",
	Flags: []cli.Flag{dsnFlag},
	Action: func(cctx *cli.Context) error {
		database, err := db.Open(dbConfig(cctx))
		if err != nil {
			return err
		}
		events, err := repository.NewPostgresAuditRepository(database).List(context.Background(), model.AuditFilter{})
		if err != nil {
			return err
		}
		return reportChain(cctx, events)
	},
}

var verifyReportCmd = &cli.Command{
	Name:      "verify-report",
	Usage:     "check the signature of an exported signed opening report",
	ArgsUsage: "<report.cose>",
	Flags:     []cli.Flag{keyFileFlag},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one report file")
		}
		keyPEM, err := os.ReadFile(cctx.String(keyFileFlag.Name))
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		pub, err := report.ParseVerificationKeyPEM(keyPEM)
		if err != nil {
			return err
		}
		signed, err := os.ReadFile(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("read report: %w", err)
		}

		payload, err := report.Verify(signed, pub)
		if err != nil {
			return err
		}
		rep, err := report.Decode(payload)
		if err != nil {
			return err
		}
		gen, err := report.NewGenerator()
		if err != nil {
			return err
		}
		digest, err := gen.Digest(rep)
		if err != nil {
			return err
		}

		fmt.Fprintf(cctx.App.Writer, "signature valid\ntender %s (%s)\nbids %d\ndigest %s\n",
			rep.TenderRef, rep.TenderID, rep.Summary.Count, digest)
		return nil
	},
}

func dbConfig(cctx *cli.Context) *config.Config {
	return &config.Config{
		Environment: "production",
		DB: config.DBConfig{
			Driver: config.DriverPostgres,
			DSN:    cctx.String(dsnFlag.Name),
		},
	}
}

func reportChain(cctx *cli.Context, events []model.AuditEvent) error {
	if err := audit.VerifyChain(events); err != nil {
		return cli.Exit(fmt.Sprintf("audit chain broken after %d events: %v", len(events), err), 2)
	}
	head := ""
	if len(events) > 0 {
		head = events[len(events)-1].Hash
	}
	fmt.Fprintf(cctx.App.Writer, "audit chain valid: %d events, head %s\n", len(events), head)
	return nil
}
