package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v2"

	"github.com/nurpe/sealed-bids/internal/audit"
	"github.com/nurpe/sealed-bids/internal/keystore"
	"github.com/nurpe/sealed-bids/internal/model"
	"github.com/nurpe/sealed-bids/internal/report"
	"github.com/nurpe/sealed-bids/internal/repository"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"sealctl"}, args...))
	return out.String(), err
}

func TestKeygenOutputIsAcceptedByKeystore(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.pem")

	out, err := run(t, "keygen", "--id", "2026-q1", "--signing-key-out", keyPath)
	require.NoError(t, err)

	var entry string
	for _, line := range strings.Split(out, "\n") {
		if value, ok := strings.CutPrefix(line, "SEALING_KEYS="); ok {
			entry = value
		}
	}
	require.NotEmpty(t, entry)

	keys, err := keystore.ParseKeyList(entry)
	require.NoError(t, err)
	material, err := base64.StdEncoding.DecodeString(keys["2026-q1"])
	require.NoError(t, err)
	assert.Len(t, material, 32)

	assert.Contains(t, out, "SEALING_ACTIVE_KEY_ID=2026-q1")
	assert.Contains(t, out, "BEGIN PUBLIC KEY")

	data, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	_, err = report.ParsePrivateKeyPEM(data)
	assert.NoError(t, err)
}

func TestKeygenRejectsBadID(t *testing.T) {
	_, err := run(t, "keygen", "--id", "a:b")
	assert.Error(t, err)
}

func signedReport(t *testing.T, dir string) (reportPath, keyPath string, key *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	gen, err := report.NewGenerator()
	require.NoError(t, err)
	signer, err := report.NewSigner(gen, key, "ops")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tenderID := uuid.New()
	session := model.OpeningSession{
		ID:          uuid.New(),
		TenderID:    tenderID,
		TenderRef:   "T-9",
		ScheduledAt: now.Add(-time.Hour),
		StartedAt:   &now,
		CompletedAt: &now,
		Status:      model.SessionStatusCompleted,
	}
	bid := model.SealedBid{
		ID:           uuid.New(),
		TenderID:     tenderID,
		SupplierID:   uuid.New(),
		SupplierName: "Alpha",
		Status:       model.BidStatusOpened,
		SealedAt:     now.Add(-2 * time.Hour),
		OpenedAt:     &now,
		DecryptedBid: &model.BidPayload{Amount: decimal.RequireFromString("99.90"), Currency: "KZT", ValidityDays: 30},
	}
	rep, err := gen.Generate(session, []model.SealedBid{bid}, now)
	require.NoError(t, err)
	signed, err := signer.Sign(rep)
	require.NoError(t, err)

	reportPath = filepath.Join(dir, "report.cose")
	require.NoError(t, os.WriteFile(reportPath, signed, 0o600))

	public, err := report.EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	keyPath = filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(keyPath, public, 0o600))
	return reportPath, keyPath, key
}

func TestVerifyReport(t *testing.T) {
	dir := t.TempDir()
	reportPath, keyPath, _ := signedReport(t, dir)

	out, err := run(t, "verify-report", "--key", keyPath, reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "signature valid")
	assert.Contains(t, out, "tender T-9")
	assert.Contains(t, out, "bids 1")
}

func TestVerifyReportWithWrongKey(t *testing.T) {
	dir := t.TempDir()
	reportPath, _, _ := signedReport(t, dir)

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	public, err := report.EncodePublicKeyPEM(&other.PublicKey)
	require.NoError(t, err)
	otherPath := filepath.Join(dir, "other.pem")
	require.NoError(t, os.WriteFile(otherPath, public, 0o600))

	_, err = run(t, "verify-report", "--key", otherPath, reportPath)
	assert.ErrorIs(t, err, report.ErrSignatureInvalid)
}

func TestVerifyReportNeedsFile(t *testing.T) {
	dir := t.TempDir()
	_, keyPath, _ := signedReport(t, dir)

	_, err := run(t, "verify-report", "--key", keyPath)
	assert.Error(t, err)
}

func TestReportChain(t *testing.T) {
	store := repository.NewMemoryStore()
	emitter := audit.NewEmitter(clockwork.NewFakeClock(), zerolog.Nop())
	ctx := context.Background()
	for _, eventType := range []model.AuditEventType{model.AuditSessionScheduled, model.AuditSessionStarted} {
		_, err := emitter.Record(ctx, store.Audit(), model.AuditEvent{Type: eventType})
		require.NoError(t, err)
	}
	events, err := store.Audit().List(ctx, model.AuditFilter{})
	require.NoError(t, err)

	var out bytes.Buffer
	cctx := cli.NewContext(newApp(&out), nil, nil)
	require.NoError(t, reportChain(cctx, events))
	assert.Contains(t, out.String(), "audit chain valid: 2 events")

	events[1].Detail = "rewritten"
	err = reportChain(cctx, events)
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.ExitCode())
}
