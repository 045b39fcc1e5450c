package certificate

import (
	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
)

var (
	// ErrInvalidTariff is returned when mail postage must be computed with a non-positive bracket size.
	ErrInvalidTariff          = errors.New("invalid mailing tariff")
	ErrUnknownCertificateType = errors.New("unknown certificate type")
	ErrInvalidQuantity        = errors.New("certificate quantity must be positive")
)

// Tariff is the postal price list for mailed certificates: FeePerBracket per started
// MaxWeightPerBracket of total weight.
type Tariff struct {
	FeePerBracket       int `json:"fee_per_bracket"`
	MaxWeightPerBracket int `json:"max_weight_per_bracket"`
}

func TariffFromConfig(conf core.MailTariffConfig) Tariff {
	return Tariff{FeePerBracket: conf.FeePerBracket, MaxWeightPerBracket: conf.MaxWeightPerBracket}
}

// Postage is FeePerBracket × ceil(weight / MaxWeightPerBracket).
func (t Tariff) Postage(weight int) int {
	if weight <= 0 {
		return 0
	}
	brackets := (weight + t.MaxWeightPerBracket - 1) / t.MaxWeightPerBracket
	return t.FeePerBracket * brackets
}

// LineRow is one denormalized store row per certificate type of an issuance.
// PartialFee is the store's own Σ(quantity × unit fee) for the type.
// Known is false when the type columns came back null (dangling certificate type).
type LineRow struct {
	IssuanceID        int
	CertificateTypeID int
	Quantity          int
	UnitWeight        int
	UnitFee           int
	PartialFee        int
	Known             bool
}

type Totals struct {
	Weight  int `json:"total_weight"`
	Fee     int `json:"total_fee"` // includes Postage
	Postage int `json:"postage"`
}

// DroppedRow is a row the fold skipped, with the reason.
type DroppedRow struct {
	Row LineRow
	Err error
}

// Accumulator folds the rows of a single issuance.
// Postage is added as a delta on every row since ceil is not additive:
// per-line postage would over-charge, and re-adding full postage would double it.
type Accumulator struct {
	mail   bool
	tariff Tariff
	seeded bool
	totals Totals
}

func NewAccumulator(media MediaKind, tariff Tariff) (*Accumulator, error) {
	mail := media == MediaMail
	if mail && tariff.MaxWeightPerBracket <= 0 {
		return nil, errors.Wrapf(ErrInvalidTariff, "max weight per bracket %d", tariff.MaxWeightPerBracket)
	}
	return &Accumulator{mail: mail, tariff: tariff}, nil
}

// Add folds a row in. Rows of unknown types or with a non-positive quantity are rejected
// and leave the totals untouched.
func (a *Accumulator) Add(row LineRow) error {
	if !row.Known {
		return errors.Wrapf(ErrUnknownCertificateType, "type %d", row.CertificateTypeID)
	}
	if row.Quantity <= 0 {
		return errors.Wrapf(ErrInvalidQuantity, "type %d: %d", row.CertificateTypeID, row.Quantity)
	}

	weight := row.Quantity * row.UnitWeight
	if !a.seeded {
		a.seeded = true
		a.totals.Weight = weight
		a.totals.Fee = row.PartialFee
		if a.mail {
			a.totals.Postage = a.tariff.Postage(a.totals.Weight)
			a.totals.Fee += a.totals.Postage
		}
		return nil
	}

	before := a.totals.Weight
	a.totals.Weight += weight
	a.totals.Fee += row.PartialFee
	if a.mail {
		delta := a.tariff.Postage(a.totals.Weight) - a.tariff.Postage(before)
		a.totals.Postage += delta
		a.totals.Fee += delta
	}
	return nil
}

func (a *Accumulator) Totals() Totals { return a.totals }

// Aggregate folds rows of any number of issuances, grouped by issuance id.
// mediaOf gives each issuance's media kind. Every issuance seen in rows gets an entry,
// even if all its rows were dropped.
func Aggregate(rows []LineRow, tariff Tariff, mediaOf func(issuanceID int) MediaKind) (map[int]Totals, []DroppedRow, error) {
	accs := make(map[int]*Accumulator)
	var dropped []DroppedRow

	for _, row := range rows {
		acc, ok := accs[row.IssuanceID]
		if !ok {
			var err error
			if acc, err = NewAccumulator(mediaOf(row.IssuanceID), tariff); err != nil {
				return nil, nil, errors.Wrapf(err, "issuance %d", row.IssuanceID)
			}
			accs[row.IssuanceID] = acc
		}
		if err := acc.Add(row); err != nil {
			dropped = append(dropped, DroppedRow{Row: row, Err: err})
		}
	}

	totals := make(map[int]Totals, len(accs))
	for id, acc := range accs {
		totals[id] = acc.Totals()
	}
	return totals, dropped, nil
}
