package fee

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/pkg/errors"
)

// Consultation is a doctor's billable fee.
type Consultation struct {
	DoctorName string
	Amount     decimal.Decimal
}

// Directory answers consultation fee lookups from a short-lived cache in
// front of the doctor records. Doctors without a fee are cached too.
//
// Doctor records are edited outside this service, so a changed fee is only
// picked up once its entry expires: dues may show the old amount for up to
// ttl. A ttl of zero or less reads the doctor record on every lookup.
type Directory struct {
	doctors repository.DoctorRepository
	cache   *cache.Cache
}

func NewDirectory(doctors repository.DoctorRepository, ttl time.Duration) *Directory {
	d := &Directory{doctors: doctors}
	if ttl > 0 {
		d.cache = cache.New(ttl, 2*ttl)
	}
	return d
}

type entry struct {
	fee Consultation
	ok  bool
}

// ConsultationFee returns the doctor's fee. ok is false when the doctor is
// unknown or has no fee configured.
func (d *Directory) ConsultationFee(ctx context.Context, doctorID uuid.UUID) (Consultation, bool, error) {
	key := doctorID.String()
	if d.cache != nil {
		if cached, found := d.cache.Get(key); found {
			e := cached.(entry)
			return e.fee, e.ok, nil
		}
	}

	doctor, err := d.doctors.Get(ctx, doctorID)
	if err != nil {
		if errors.IsNotFound(err) {
			d.remember(key, entry{})
			return Consultation{}, false, nil
		}
		return Consultation{}, false, fmt.Errorf("failed to load doctor: %w", err)
	}

	e := entry{}
	if amount, ok := doctor.Fee(); ok {
		e = entry{fee: Consultation{DoctorName: doctor.Name, Amount: amount}, ok: true}
	}
	d.remember(key, e)
	return e.fee, e.ok, nil
}

func (d *Directory) remember(key string, e entry) {
	if d.cache != nil {
		d.cache.SetDefault(key, e)
	}
}

// Invalidate drops a cached fee after the doctor record changes.
func (d *Directory) Invalidate(doctorID uuid.UUID) {
	if d.cache != nil {
		d.cache.Delete(doctorID.String())
	}
}

// Register stores a doctor and primes the cache.
func (d *Directory) Register(ctx context.Context, doctor *model.Doctor) error {
	if err := d.doctors.Create(ctx, doctor); err != nil {
		return fmt.Errorf("failed to create doctor: %w", err)
	}
	d.Invalidate(doctor.ID)
	return nil
}
