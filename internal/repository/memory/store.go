package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/pkg/errors"
)

// Store holds every ledger collection in memory.
type Store struct {
	patients    *Collection[model.Patient]
	doctors     *Collection[model.Doctor]
	visits      *Collection[model.Visit]
	packages    *Collection[model.Package]
	assignments *Collection[model.PatientPackage]
	invoices    *Collection[model.Invoice]
	inventory   *Collection[model.InventoryItem]
	movements   *Collection[model.StockMovement]
	outbox      *Collection[model.OutboxEvent]
	audit       *Collection[model.AuditLog]
}

func NewStore() *Store {
	return &Store{
		patients:    NewCollection[model.Patient]("patient", nil),
		doctors:     NewCollection[model.Doctor]("doctor", nil),
		visits:      NewCollection("visit", model.Visit.Clone),
		packages:    NewCollection[model.Package]("package", clonePackage),
		assignments: NewCollection[model.PatientPackage]("package assignment", nil),
		invoices:    NewCollection("invoice", model.Invoice.Clone),
		inventory:   NewCollection("inventory item", model.InventoryItem.Clone),
		movements:   NewCollection[model.StockMovement]("stock movement", nil),
		outbox:      NewCollection[model.OutboxEvent]("outbox event", nil),
		audit:       NewCollection[model.AuditLog]("audit log", nil),
	}
}

func clonePackage(p model.Package) model.Package {
	p.Items = append(model.StringList(nil), p.Items...)
	return p
}

// Ledger exposes the store through the repository interfaces.
func (s *Store) Ledger() repository.Ledger {
	return repository.Ledger{
		Patients:  &patientRepository{s.patients},
		Doctors:   &doctorRepository{s.doctors},
		Visits:    &visitRepository{s.visits},
		Packages:  &packageRepository{packages: s.packages, assignments: s.assignments},
		Invoices:  &invoiceRepository{s.invoices},
		Inventory: &inventoryRepository{s.inventory},
		Movements: &movementRepository{s.movements},
		Outbox:    &outboxRepository{s.outbox},
		Audit:     &auditRepository{s.audit},
	}
}

type patientRepository struct{ c *Collection[model.Patient] }

func (r *patientRepository) Create(_ context.Context, p *model.Patient) error {
	return r.c.Insert(p.ID, *p)
}

func (r *patientRepository) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	return r.c.Find(id)
}

type doctorRepository struct{ c *Collection[model.Doctor] }

func (r *doctorRepository) Create(_ context.Context, d *model.Doctor) error {
	return r.c.Insert(d.ID, *d)
}

func (r *doctorRepository) Get(_ context.Context, id uuid.UUID) (*model.Doctor, error) {
	return r.c.Find(id)
}

func (r *doctorRepository) List(_ context.Context) ([]*model.Doctor, error) {
	return r.c.Filter(nil), nil
}

type visitRepository struct{ c *Collection[model.Visit] }

func (r *visitRepository) Create(_ context.Context, v *model.Visit) error {
	return r.c.Insert(v.ID, *v)
}

func (r *visitRepository) Get(_ context.Context, id uuid.UUID) (*model.Visit, error) {
	return r.c.Find(id)
}

func (r *visitRepository) Update(_ context.Context, v *model.Visit) error {
	return r.c.Replace(v.ID, *v)
}

func (r *visitRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*model.Visit, error) {
	return r.c.Filter(func(v *model.Visit) bool { return v.PatientID == patientID }), nil
}

type packageRepository struct {
	packages    *Collection[model.Package]
	assignments *Collection[model.PatientPackage]
}

func (r *packageRepository) CreatePackage(_ context.Context, p *model.Package) error {
	return r.packages.Insert(p.ID, *p)
}

func (r *packageRepository) GetPackage(_ context.Context, id uuid.UUID) (*model.Package, error) {
	return r.packages.Find(id)
}

func (r *packageRepository) CreateAssignment(_ context.Context, a *model.PatientPackage) error {
	return r.assignments.Insert(a.ID, *a)
}

func (r *packageRepository) GetAssignment(_ context.Context, id uuid.UUID) (*model.PatientPackage, error) {
	return r.assignments.Find(id)
}

func (r *packageRepository) ListAssignmentsByPatient(_ context.Context, patientID uuid.UUID, status model.PackageStatus) ([]*model.PatientPackage, error) {
	return r.assignments.Filter(func(a *model.PatientPackage) bool {
		return a.PatientID == patientID && (status == "" || a.Status == status)
	}), nil
}

func (r *packageRepository) UpdateAssignmentStatus(_ context.Context, id uuid.UUID, status model.PackageStatus) error {
	return r.assignments.Mutate(id, func(a *model.PatientPackage) {
		a.Status = status
		a.UpdatedAt = time.Now().UTC()
	})
}

type invoiceRepository struct{ c *Collection[model.Invoice] }

func (r *invoiceRepository) Create(_ context.Context, inv *model.Invoice) error {
	return r.c.Insert(inv.ID, *inv)
}

func (r *invoiceRepository) Get(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	return r.c.Find(id)
}

func (r *invoiceRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*model.Invoice, error) {
	return r.c.Filter(func(inv *model.Invoice) bool { return inv.PatientID == patientID }), nil
}

func (r *invoiceRepository) Count(_ context.Context) (int, error) {
	return r.c.Len(), nil
}

type inventoryRepository struct{ c *Collection[model.InventoryItem] }

func (r *inventoryRepository) Create(_ context.Context, item *model.InventoryItem) error {
	item.NameKey = model.NameKey(item.Name)
	if _, exists := r.c.First(func(i *model.InventoryItem) bool { return i.NameKey == item.NameKey }); exists {
		return errors.Conflict("inventory item "+item.Name+" already exists", nil)
	}
	return r.c.Insert(item.ID, *item)
}

func (r *inventoryRepository) Get(_ context.Context, id uuid.UUID) (*model.InventoryItem, error) {
	return r.c.Find(id)
}

func (r *inventoryRepository) GetByName(_ context.Context, name string) (*model.InventoryItem, error) {
	key := model.NameKey(name)
	item, ok := r.c.First(func(i *model.InventoryItem) bool { return i.NameKey == key })
	if !ok {
		return nil, errors.NotFound("inventory item", nil)
	}
	return item, nil
}

func (r *inventoryRepository) List(_ context.Context) ([]*model.InventoryItem, error) {
	items := r.c.Filter(nil)
	sort.SliceStable(items, func(i, j int) bool { return items[i].NameKey < items[j].NameKey })
	return items, nil
}

func (r *inventoryRepository) Update(_ context.Context, item *model.InventoryItem) error {
	item.NameKey = model.NameKey(item.Name)
	return r.c.Replace(item.ID, *item)
}

type movementRepository struct{ c *Collection[model.StockMovement] }

func (r *movementRepository) Create(_ context.Context, m *model.StockMovement) error {
	return r.c.Insert(m.ID, *m)
}

func (r *movementRepository) ListByItem(_ context.Context, itemID uuid.UUID) ([]*model.StockMovement, error) {
	return r.c.Filter(func(m *model.StockMovement) bool { return m.ItemID == itemID }), nil
}

type outboxRepository struct{ c *Collection[model.OutboxEvent] }

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = string(model.OutboxStatusPending)
	}
	return r.c.Insert(event.ID, *event)
}

func (r *outboxRepository) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	now := time.Now()
	events := r.c.Filter(func(e *model.OutboxEvent) bool {
		return isDue(e, now)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func isDue(e *model.OutboxEvent, now time.Time) bool {
	switch model.OutboxStatus(e.Status) {
	case model.OutboxStatusPending:
		return true
	case model.OutboxStatusFailed:
		return e.RetryAt != nil && !e.RetryAt.After(now)
	}
	return false
}

func (r *outboxRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	return r.c.Mutate(id, func(e *model.OutboxEvent) {
		now := time.Now()
		e.Status = string(status)
		e.ErrorMessage = errorMessage
		e.RetryAt = retryAt
		e.UpdatedAt = now
		switch status {
		case model.OutboxStatusProcessed:
			e.ProcessedAt = &now
		case model.OutboxStatusFailed:
			e.RetryCount++
		}
	})
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	return r.c.RemoveWhere(func(e *model.OutboxEvent) bool {
		return e.Status == string(model.OutboxStatusProcessed) && e.ProcessedAt != nil && e.ProcessedAt.Before(before)
	}), nil
}

type auditRepository struct{ c *Collection[model.AuditLog] }

func (r *auditRepository) Create(_ context.Context, log *model.AuditLog) error {
	return r.c.Insert(log.ID, *log)
}

func (r *auditRepository) List(_ context.Context, f model.AuditFilter) ([]*model.AuditLog, error) {
	logs := r.c.Filter(func(l *model.AuditLog) bool {
		if f.EntityType != "" && l.EntityType != f.EntityType {
			return false
		}
		if f.EntityID != nil && l.EntityID != *f.EntityID {
			return false
		}
		if f.UserID != "" && l.UserID != f.UserID {
			return false
		}
		return f.Since.IsZero() || !l.CreatedAt.Before(f.Since)
	})
	if f.Limit > 0 && len(logs) > f.Limit {
		logs = logs[:f.Limit]
	}
	return logs, nil
}

func (r *auditRepository) Cleanup(_ context.Context, before time.Time) (int64, error) {
	return r.c.RemoveWhere(func(l *model.AuditLog) bool { return l.CreatedAt.Before(before) }), nil
}
