package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/karani/core"
	"github.com/trezcool/karani/core/certificate"
)

type certificateRepository struct {
	db *certificateTable
}

var _ certificate.Repository = (*certificateRepository)(nil) // interface compliance check

func NewCertificateRepository(db *DB) *certificateRepository {
	return &certificateRepository{db: db.certificate}
}

// SaveCertificateType inserts or replaces a certificate type.
func (repo *certificateRepository) SaveCertificateType(_ context.Context, ct certificate.CertificateType) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	repo.db.types[ct.ID] = ct
}

// DeleteCertificateType leaves dangling lines behind, as a store without foreign keys would.
func (repo *certificateRepository) DeleteCertificateType(_ context.Context, id int) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	delete(repo.db.types, id)
}

func (repo *certificateRepository) CreateIssuance(_ context.Context, iss certificate.Issuance) (certificate.Issuance, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.pk++
	iss.ID = repo.db.pk
	iss.Lines = append([]certificate.Line(nil), iss.Lines...)
	repo.db.table[iss.ID] = &iss
	return iss, nil
}

func (repo *certificateRepository) GetIssuance(_ context.Context, id int) (certificate.Issuance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	iss, ok := repo.db.table[id]
	if !ok {
		return certificate.Issuance{}, certificate.ErrNotFound
	}
	return *iss, nil
}

func (repo *certificateRepository) QueryIssuances(_ context.Context, filter certificate.QueryFilter) ([]certificate.Issuance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	statuses := make(map[certificate.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	issuances := make([]certificate.Issuance, 0)
	for _, iss := range repo.db.table {
		if filter.StudentID != 0 && iss.StudentID != filter.StudentID {
			continue
		}
		if filter.OfficeUserID != 0 && iss.OfficeUserID != filter.OfficeUserID {
			continue
		}
		if len(statuses) > 0 && !statuses[iss.Status] {
			continue
		}
		issuances = append(issuances, *iss)
	}
	sort.Slice(issuances, func(i, j int) bool { return issuances[i].ID < issuances[j].ID })
	return issuances, nil
}

// QueryLineRows groups lines per (issuance, type) like the SQL repositories do.
func (repo *certificateRepository) QueryLineRows(_ context.Context, issuanceIDs ...int) ([]certificate.LineRow, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]certificate.LineRow, 0)
	for _, id := range issuanceIDs {
		iss, ok := repo.db.table[id]
		if !ok {
			continue
		}
		byType := make(map[int]*certificate.LineRow)
		var order []int
		for _, line := range iss.Lines {
			row, ok := byType[line.CertificateTypeID]
			if !ok {
				row = &certificate.LineRow{IssuanceID: id, CertificateTypeID: line.CertificateTypeID}
				if ct, known := repo.db.types[line.CertificateTypeID]; known {
					row.Known = true
					row.UnitFee = ct.UnitFee
					row.UnitWeight = ct.UnitWeight
				}
				byType[line.CertificateTypeID] = row
				order = append(order, line.CertificateTypeID)
			}
			row.Quantity += line.Quantity
			row.PartialFee += line.Quantity * row.UnitFee
		}
		for _, typeID := range order {
			rows = append(rows, *byType[typeID])
		}
	}
	return rows, nil
}

func (repo *certificateRepository) TransitionIssuance(_ context.Context, t certificate.Transition) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	iss, ok := repo.db.table[t.IssuanceID]
	if !ok || iss.Status != t.From {
		return errors.Wrapf(core.ErrPrecondition, "issuance %d is not at status %d", t.IssuanceID, t.From)
	}
	iss.Status = t.To
	if t.ApprovalDate != nil {
		iss.ApprovalDate = t.ApprovalDate
	}
	if t.DeliveryDate != nil {
		iss.DeliveryDate = t.DeliveryDate
	}
	if t.PostDate != nil {
		iss.PostDate = t.PostDate
	}
	if t.SendDate != nil {
		iss.SendDate = t.SendDate
	}
	if t.TotalFee != nil {
		iss.TotalFee = t.TotalFee
	}
	if t.OfficeUserID != nil {
		iss.OfficeUserID = *t.OfficeUserID
	}
	return nil
}
