package econ

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the tunable engine parameters. Admin updates take effect
// on the next call; every operation works from a snapshot taken at entry
// so a mid-operation update cannot produce a half-old, half-new result.
type Settings struct {
	StartingBalance      decimal.Decimal
	MaxCompaniesPerOwner int

	ReportCooldown      time.Duration
	CEOSalaryCapPublic  decimal.Decimal
	CEOSalaryCapPrivate decimal.Decimal
	CorporateTaxRate    decimal.Decimal

	TradeCooldown   time.Duration
	ShortFeeRate    decimal.Decimal
	FluctuationSpan decimal.Decimal

	MaxPersonalLoan      decimal.Decimal
	MaxCompanyLoan       decimal.Decimal
	LoanInterestRate     decimal.Decimal
	LoanDuration         time.Duration
	LateFeeRatePerDay    decimal.Decimal
	MaxLateFeeMultiplier decimal.Decimal
}

// DefaultSettings mirrors the values the game has always shipped with.
func DefaultSettings() Settings {
	return Settings{
		StartingBalance:      decimal.NewFromInt(50000),
		MaxCompaniesPerOwner: 3,

		ReportCooldown:      48 * time.Hour,
		CEOSalaryCapPublic:  decimal.NewFromInt(50000),
		CEOSalaryCapPrivate: decimal.NewFromInt(20000),
		CorporateTaxRate:    decimal.NewFromFloat(0.25),

		TradeCooldown:   300 * time.Second,
		ShortFeeRate:    decimal.NewFromFloat(0.03),
		FluctuationSpan: decimal.NewFromFloat(0.05),

		MaxPersonalLoan:      decimal.NewFromInt(100000),
		MaxCompanyLoan:       decimal.NewFromInt(500000),
		LoanInterestRate:     decimal.NewFromFloat(0.10),
		LoanDuration:         7 * 24 * time.Hour,
		LateFeeRatePerDay:    decimal.NewFromFloat(0.05),
		MaxLateFeeMultiplier: decimal.NewFromInt(2),
	}
}

// DefaultTaxBrackets is the progressive personal-tax table seeded when
// the store holds none.
func DefaultTaxBrackets() []Bracket {
	upTo := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	return []Bracket{
		{Min: decimal.Zero, Max: upTo(10000), Rate: decimal.NewFromFloat(0.05)},
		{Min: decimal.NewFromInt(10000), Max: upTo(50000), Rate: decimal.NewFromFloat(0.10)},
		{Min: decimal.NewFromInt(50000), Max: upTo(150000), Rate: decimal.NewFromFloat(0.20)},
		{Min: decimal.NewFromInt(150000), Max: nil, Rate: decimal.NewFromFloat(0.30)},
	}
}

// settingsHolder hands out snapshots and swaps them atomically on admin
// update.
type settingsHolder struct {
	mu sync.RWMutex
	s  Settings
}

func (h *settingsHolder) snapshot() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.s
}

func (h *settingsHolder) update(s Settings) {
	h.mu.Lock()
	h.s = s
	h.mu.Unlock()
}
