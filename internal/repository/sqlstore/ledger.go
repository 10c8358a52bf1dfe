package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/billing-api/internal/model"
	"github.com/jwalitptl/billing-api/internal/repository"
	"github.com/jwalitptl/billing-api/pkg/errors"
)

// BaseRepository provides common functionality for all repositories.
// Queries are written with ? placeholders and rebound per driver.
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

func (r *BaseRepository) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.db.Rebind(query), args...)
}

func (r *BaseRepository) get(ctx context.Context, resource string, dest interface{}, query string, args ...interface{}) error {
	err := r.db.GetContext(ctx, dest, r.db.Rebind(query), args...)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource, err)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", resource, err)
	}
	return nil
}

func (r *BaseRepository) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return r.db.SelectContext(ctx, dest, r.db.Rebind(query), args...)
}

// mustAffect turns an update that matched nothing into a NotFound error.
func mustAffect(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFound(resource, nil)
	}
	return nil
}

// rawBytes binds JSON documents as blobs; an absent document is stored
// empty rather than NULL so it scans back into json.RawMessage.
func rawBytes(m json.RawMessage) []byte {
	if m == nil {
		return []byte{}
	}
	return m
}

// NewLedger exposes db through the repository interfaces. Run Migrate first.
func NewLedger(db *sqlx.DB) repository.Ledger {
	base := NewBaseRepository(db)
	return repository.Ledger{
		Patients:  &patientRepository{base},
		Doctors:   &doctorRepository{base},
		Visits:    &visitRepository{base},
		Packages:  &packageRepository{base},
		Invoices:  &invoiceRepository{base},
		Inventory: &inventoryRepository{base},
		Movements: &movementRepository{base},
		Outbox:    &outboxRepository{base},
		Audit:     &auditRepository{base},
	}
}

type patientRepository struct{ BaseRepository }

func (r *patientRepository) Create(ctx context.Context, p *model.Patient) error {
	_, err := r.exec(ctx, `
		INSERT INTO patients (id, name, phone, gender, date_of_birth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Phone, p.Gender, p.DateOfBirth, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var p model.Patient
	if err := r.get(ctx, "patient", &p, `SELECT * FROM patients WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

type doctorRepository struct{ BaseRepository }

func (r *doctorRepository) Create(ctx context.Context, d *model.Doctor) error {
	_, err := r.exec(ctx, `
		INSERT INTO doctors (id, name, department, consultation_fee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Department, d.ConsultationFee, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create doctor: %w", err)
	}
	return nil
}

func (r *doctorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	var d model.Doctor
	if err := r.get(ctx, "doctor", &d, `SELECT * FROM doctors WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepository) List(ctx context.Context) ([]*model.Doctor, error) {
	var doctors []*model.Doctor
	if err := r.selectAll(ctx, &doctors, `SELECT * FROM doctors ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}

type visitRepository struct{ BaseRepository }

func (r *visitRepository) Create(ctx context.Context, v *model.Visit) error {
	_, err := r.exec(ctx, `
		INSERT INTO visits (id, patient_id, visit_date, consultations, payment_status, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PatientID, v.VisitDate.UTC(), v.Consultations, v.PaymentStatus, v.Status, v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

func (r *visitRepository) Get(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	var v model.Visit
	if err := r.get(ctx, "visit", &v, `SELECT * FROM visits WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *visitRepository) Update(ctx context.Context, v *model.Visit) error {
	res, err := r.exec(ctx, `
		UPDATE visits SET visit_date = ?, consultations = ?, payment_status = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		v.VisitDate.UTC(), v.Consultations, v.PaymentStatus, v.Status, v.UpdatedAt.UTC(), v.ID)
	if err != nil {
		return fmt.Errorf("failed to update visit: %w", err)
	}
	return mustAffect(res, "visit")
}

func (r *visitRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Visit, error) {
	var visits []*model.Visit
	err := r.selectAll(ctx, &visits, `SELECT * FROM visits WHERE patient_id = ? ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, nil
}

type packageRepository struct{ BaseRepository }

func (r *packageRepository) CreatePackage(ctx context.Context, p *model.Package) error {
	_, err := r.exec(ctx, `
		INSERT INTO packages (id, name, total_price, items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.TotalPrice, p.Items, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (r *packageRepository) GetPackage(ctx context.Context, id uuid.UUID) (*model.Package, error) {
	var p model.Package
	if err := r.get(ctx, "package", &p, `SELECT * FROM packages WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *packageRepository) CreateAssignment(ctx context.Context, a *model.PatientPackage) error {
	_, err := r.exec(ctx, `
		INSERT INTO patient_packages (id, patient_id, package_id, status, assigned_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.PackageID, a.Status, a.AssignedAt.UTC(), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create package assignment: %w", err)
	}
	return nil
}

func (r *packageRepository) GetAssignment(ctx context.Context, id uuid.UUID) (*model.PatientPackage, error) {
	var a model.PatientPackage
	if err := r.get(ctx, "package assignment", &a, `SELECT * FROM patient_packages WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *packageRepository) ListAssignmentsByPatient(ctx context.Context, patientID uuid.UUID, status model.PackageStatus) ([]*model.PatientPackage, error) {
	query := `SELECT * FROM patient_packages WHERE patient_id = ?`
	args := []interface{}{patientID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	var assignments []*model.PatientPackage
	if err := r.selectAll(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list package assignments: %w", err)
	}
	return assignments, nil
}

func (r *packageRepository) UpdateAssignmentStatus(ctx context.Context, id uuid.UUID, status model.PackageStatus) error {
	res, err := r.exec(ctx, `UPDATE patient_packages SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update package assignment: %w", err)
	}
	return mustAffect(res, "package assignment")
}

type invoiceRepository struct{ BaseRepository }

func (r *invoiceRepository) Create(ctx context.Context, inv *model.Invoice) error {
	_, err := r.exec(ctx, `
		INSERT INTO invoices (
			id, invoice_number, patient_id, patient_name, items, total_amount,
			payment_mode, payment_breakdown, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.PatientName, inv.Items, inv.TotalAmount,
		inv.PaymentMode, inv.PaymentBreakdown, inv.CreatedBy, inv.CreatedAt.UTC(), inv.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	if err := r.get(ctx, "invoice", &inv, `SELECT * FROM invoices WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Invoice, error) {
	var invoices []*model.Invoice
	err := r.selectAll(ctx, &invoices, `SELECT * FROM invoices WHERE patient_id = ? ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (r *invoiceRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM invoices`); err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return n, nil
}

type inventoryRepository struct{ BaseRepository }

func (r *inventoryRepository) Create(ctx context.Context, item *model.InventoryItem) error {
	item.NameKey = model.NameKey(item.Name)

	var exists int
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT COUNT(*) FROM inventory_items WHERE name_key = ?`), item.NameKey)
	if err != nil {
		return fmt.Errorf("failed to check inventory item: %w", err)
	}
	if exists > 0 {
		return errors.Conflict("inventory item "+item.Name+" already exists", nil)
	}

	_, err = r.exec(ctx, `
		INSERT INTO inventory_items (id, name, name_key, category, unit_price, batches, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.NameKey, item.Category, item.UnitPrice, item.Batches, item.CreatedAt.UTC(), item.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create inventory item: %w", err)
	}
	return nil
}

func (r *inventoryRepository) Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error) {
	var item model.InventoryItem
	if err := r.get(ctx, "inventory item", &item, `SELECT * FROM inventory_items WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *inventoryRepository) GetByName(ctx context.Context, name string) (*model.InventoryItem, error) {
	var item model.InventoryItem
	err := r.get(ctx, "inventory item", &item, `SELECT * FROM inventory_items WHERE name_key = ?`, model.NameKey(name))
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *inventoryRepository) List(ctx context.Context) ([]*model.InventoryItem, error) {
	var items []*model.InventoryItem
	if err := r.selectAll(ctx, &items, `SELECT * FROM inventory_items ORDER BY name_key`); err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	return items, nil
}

func (r *inventoryRepository) Update(ctx context.Context, item *model.InventoryItem) error {
	item.NameKey = model.NameKey(item.Name)
	res, err := r.exec(ctx, `
		UPDATE inventory_items SET name = ?, name_key = ?, category = ?, unit_price = ?, batches = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.NameKey, item.Category, item.UnitPrice, item.Batches, item.UpdatedAt.UTC(), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update inventory item: %w", err)
	}
	return mustAffect(res, "inventory item")
}

type movementRepository struct{ BaseRepository }

func (r *movementRepository) Create(ctx context.Context, m *model.StockMovement) error {
	_, err := r.exec(ctx, `
		INSERT INTO stock_movements (id, item_id, item_name, type, quantity, change, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ItemID, m.ItemName, m.Type, m.Quantity, m.Change, m.Reason, m.CreatedBy, m.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to create stock movement: %w", err)
	}
	return nil
}

func (r *movementRepository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*model.StockMovement, error) {
	var movements []*model.StockMovement
	err := r.selectAll(ctx, &movements, `SELECT * FROM stock_movements WHERE item_id = ? ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock movements: %w", err)
	}
	return movements, nil
}

type outboxRepository struct{ BaseRepository }

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = string(model.OutboxStatusPending)
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	_, err := r.exec(ctx, `
		INSERT INTO outbox_events (id, event_type, payload, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EventType, rawBytes(event.Payload), event.Status, event.RetryCount, event.CreatedAt.UTC(), event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents returns pending events plus failed ones whose retry time
// has come, oldest first.
func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT * FROM outbox_events
		WHERE status = ? OR (status = ? AND retry_at IS NOT NULL AND retry_at <= ?)
		ORDER BY created_at, id`
	args := []interface{}{model.OutboxStatusPending, model.OutboxStatusFailed, time.Now().UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var events []*model.OutboxEvent
	if err := r.selectAll(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	now := time.Now().UTC()
	var processedAt *time.Time
	if status == model.OutboxStatusProcessed {
		processedAt = &now
	}
	if retryAt != nil {
		t := retryAt.UTC()
		retryAt = &t
	}
	increment := 0
	if status == model.OutboxStatusFailed {
		increment = 1
	}

	res, err := r.exec(ctx, `
		UPDATE outbox_events
		SET status = ?, error_message = ?, retry_at = ?, updated_at = ?,
			processed_at = COALESCE(?, processed_at), retry_count = retry_count + ?
		WHERE id = ?`,
		status, errorMessage, retryAt, now, processedAt, increment, id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return mustAffect(res, "outbox event")
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM outbox_events WHERE status = ? AND processed_at < ?`,
		model.OutboxStatusProcessed, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return res.RowsAffected()
}

type auditRepository struct{ BaseRepository }

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	_, err := r.exec(ctx, `
		INSERT INTO audit_logs (
			id, user_id, action, entity_type, entity_id,
			changes, metadata, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.Action, log.EntityType, log.EntityID,
		rawBytes(log.Changes), rawBytes(log.Metadata), log.IPAddress, log.UserAgent, log.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditLog, error) {
	query := `SELECT * FROM audit_logs WHERE 1 = 1`
	var args []interface{}
	if f.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, f.EntityType)
	}
	if f.EntityID != nil {
		query += ` AND entity_id = ?`
		args = append(args, *f.EntityID)
	}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var logs []*model.AuditLog
	if err := r.selectAll(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return res.RowsAffected()
}
