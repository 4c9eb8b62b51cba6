package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

const samplePolicy = `
passport_issuers:
  - name: https://waiter.example.com
    secret_env: TEST_PASSPORT_SECRET
public_group: Customer
staff_groups: [Staff, BoxOffice]
payment_reconcile: latest
admission_limits:
  - category: Wheelchair
    unit_seconds: 60
task_tries:
  cancelCreditCard: 10
`

func TestParsePolicy(t *testing.T) {
	t.Setenv("TEST_PASSPORT_SECRET", "s3cret")
	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	require.Equal(t, ReconcileLatest, p.PaymentReconcile)
	require.True(t, p.IsStaff("boxoffice"))
	require.False(t, p.IsStaff("Customer"))
	require.True(t, p.IsPublic("Customer"))
	require.True(t, p.IsRestricted(model.PaymentInvoice))
	require.False(t, p.IsRestricted(model.PaymentCash))

	unit, ok := p.AdmissionUnit("Wheelchair")
	require.True(t, ok)
	require.Equal(t, int64(60), unit)
	_, ok = p.AdmissionUnit("Standard")
	require.False(t, ok)

	require.Equal(t, 10, p.Tries(model.TaskCancelCreditCard))
	require.Equal(t, 3, p.Tries(model.TaskSendOrderEvent))

	secret, ok := p.IssuerSecret("https://waiter.example.com")
	require.True(t, ok)
	require.Equal(t, "s3cret", secret)
}

func TestParsePolicyRejectsUnknownReconcile(t *testing.T) {
	_, err := ParsePolicy([]byte("payment_reconcile: first\n"))
	require.Error(t, err)
}

func TestParsePolicyRejectsIssuerWithoutSecret(t *testing.T) {
	_, err := ParsePolicy([]byte("passport_issuers:\n  - name: x\n"))
	require.Error(t, err)
}

func TestLoadPolicyMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultPolicy().PaymentReconcile, p.PaymentReconcile)
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("currency: EUR\nstaff_groups: [Ops]\n"), 0o600))
	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Equal(t, "EUR", p.Currency)
	require.True(t, p.IsStaff("Ops"))
}
