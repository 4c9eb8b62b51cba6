package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// ReconcilePolicy decides which completed card authorizations enter the
// price check when a transaction holds several of them.
type ReconcilePolicy string

const (
	ReconcileAll    ReconcilePolicy = "all"    // every completed card authorization counts
	ReconcileLatest ReconcilePolicy = "latest" // only the most recently completed one counts
)

// PassportIssuer is a trusted issuer of admission passports.
type PassportIssuer struct {
	Name      string `yaml:"name"`
	Secret    string `yaml:"secret"`
	SecretEnv string `yaml:"secret_env"`
}

// AdmissionLimit allows one holder per category per unit window.
type AdmissionLimit struct {
	Category    string `yaml:"category"`
	UnitSeconds int64  `yaml:"unit_seconds"`
}

// Policy is the business policy of the saga, loaded from YAML.
type Policy struct {
	PassportIssuers          []PassportIssuer       `yaml:"passport_issuers"`
	PassportRequired         bool                   `yaml:"passport_required"`
	PublicGroup              string                 `yaml:"public_group"`
	StaffGroups              []string               `yaml:"staff_groups"`
	RestrictedPaymentMethods []model.PaymentMethod  `yaml:"restricted_payment_methods"`
	PaymentReconcile         ReconcilePolicy        `yaml:"payment_reconcile"`
	AdmissionLimits          []AdmissionLimit       `yaml:"admission_limits"`
	TaskTries                map[model.TaskName]int `yaml:"task_tries"`
	DefaultTaskTries         int                    `yaml:"default_task_tries"`
	Currency                 string                 `yaml:"currency"`
	TransactionTTLMinutes    int                    `yaml:"transaction_ttl_minutes"`
}

// DefaultPolicy is used when no policy file is present.
func DefaultPolicy() Policy {
	return Policy{
		PublicGroup:              "Customer",
		StaffGroups:              []string{"Staff"},
		RestrictedPaymentMethods: []model.PaymentMethod{model.PaymentInvoice, model.PaymentCharter, model.PaymentComp},
		PaymentReconcile:         ReconcileAll,
		DefaultTaskTries:         3,
		Currency:                 "USD",
		TransactionTTLMinutes:    15,
	}
}

// LoadPolicy reads the policy file at path.  A missing file yields the
// default policy; a malformed one is an error.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := p.normalize(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// ParsePolicy parses YAML policy text on top of the defaults.
func ParsePolicy(b []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("policy: parse: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p *Policy) normalize() error {
	switch p.PaymentReconcile {
	case "":
		p.PaymentReconcile = ReconcileAll
	case ReconcileAll, ReconcileLatest:
	default:
		return fmt.Errorf("policy: payment_reconcile must be %q or %q, got %q", ReconcileAll, ReconcileLatest, p.PaymentReconcile)
	}
	for i, iss := range p.PassportIssuers {
		if iss.Secret == "" && iss.SecretEnv != "" {
			p.PassportIssuers[i].Secret = os.Getenv(iss.SecretEnv)
		}
		if p.PassportIssuers[i].Secret == "" {
			return fmt.Errorf("policy: passport issuer %q has no secret", iss.Name)
		}
	}
	for _, l := range p.AdmissionLimits {
		if l.Category == "" || l.UnitSeconds <= 0 {
			return fmt.Errorf("policy: invalid admission limit %+v", l)
		}
	}
	if p.DefaultTaskTries < 1 {
		p.DefaultTaskTries = 1
	}
	if p.TransactionTTLMinutes < 1 {
		p.TransactionTTLMinutes = 15
	}
	return nil
}

// IsStaff reports whether group is an internal group.
func (p Policy) IsStaff(group string) bool {
	for _, g := range p.StaffGroups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// IsPublic reports whether group is the general public.
func (p Policy) IsPublic(group string) bool { return strings.EqualFold(p.PublicGroup, group) }

// IsRestricted reports whether m may only be used by staff.
func (p Policy) IsRestricted(m model.PaymentMethod) bool {
	for _, r := range p.RestrictedPaymentMethods {
		if r == m {
			return true
		}
	}
	return false
}

// AdmissionUnit returns the window length for a limited category.
func (p Policy) AdmissionUnit(category string) (int64, bool) {
	for _, l := range p.AdmissionLimits {
		if l.Category == category {
			return l.UnitSeconds, true
		}
	}
	return 0, false
}

// Tries returns how many attempts a task of the given name gets.
func (p Policy) Tries(name model.TaskName) int {
	if n, ok := p.TaskTries[name]; ok && n > 0 {
		return n
	}
	return p.DefaultTaskTries
}

// IssuerSecret returns the secret of a trusted passport issuer.
func (p Policy) IssuerSecret(issuer string) (string, bool) {
	for _, iss := range p.PassportIssuers {
		if iss.Name == issuer {
			return iss.Secret, true
		}
	}
	return "", false
}
