package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"go.uber.org/zap"
)

// RecordIncident stores the incident and its outbox event in one transaction.
func (r *Repository) RecordIncident(ctx context.Context, incident *domain.Incident) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO incidents (id, patient_id, pharmacy_id, attempt_id, provider_order_id, transaction_id,
	                                 amount, currency, reason, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = tx.ExecContext(ctx, r.rebind(query),
		incident.ID,
		incident.PatientID,
		incident.PharmacyID,
		incident.AttemptID,
		incident.ProviderOrderID,
		incident.TransactionID,
		incident.Amount,
		incident.Currency,
		incident.Reason,
		incident.Status,
		incident.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIncident
		}
		return fmt.Errorf("insert incident: %w", err)
	}

	if err := r.insertOutboxEvent(ctx, tx, incident.AttemptID, EventCaptureWithoutOrder, incident); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit incident: %w", err)
	}
	r.logger.Info("incident recorded",
		zap.String("incident_id", incident.ID),
		zap.String("transaction_id", incident.TransactionID))
	return nil
}

// RecordOrderCompleted queues the completion event for the relay.
func (r *Repository) RecordOrderCompleted(ctx context.Context, event *domain.OrderCompleted) error {
	return r.insertOutboxEvent(ctx, r.db, event.AttemptID, EventOrderCompleted, event)
}

func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	incident, err := scanIncident(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query incident by id: %w", err)
	}
	return incident, nil
}

func (r *Repository) ListOpenIncidents(ctx context.Context, patientID string) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
	          WHERE patient_id = $1 AND status = $2 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), patientID, domain.IncidentOpen)
	if err != nil {
		return nil, fmt.Errorf("query incidents by patient id: %w", err)
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return incidents, nil
}

// ResolveIncident closes an open incident once support has reconciled the payment.
func (r *Repository) ResolveIncident(ctx context.Context, id string) (*domain.Incident, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	query := `UPDATE incidents SET status = $1, resolved_at = $2 WHERE id = $3 AND status = $4`
	res, err := tx.ExecContext(ctx, r.rebind(query), domain.IncidentResolved, now, id, domain.IncidentOpen)
	if err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrIncidentNotFound
	}

	query = `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	incident, err := scanIncident(tx.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		return nil, fmt.Errorf("query resolved incident: %w", err)
	}
	if err := r.insertOutboxEvent(ctx, tx, incident.AttemptID, EventIncidentResolved, incident); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit incident: %w", err)
	}
	return incident, nil
}

const incidentColumns = `id, patient_id, pharmacy_id, attempt_id, provider_order_id, transaction_id,
	amount, currency, reason, status, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*domain.Incident, error) {
	var (
		incident domain.Incident
		resolved sql.NullTime
	)
	err := row.Scan(
		&incident.ID,
		&incident.PatientID,
		&incident.PharmacyID,
		&incident.AttemptID,
		&incident.ProviderOrderID,
		&incident.TransactionID,
		&incident.Amount,
		&incident.Currency,
		&incident.Reason,
		&incident.Status,
		&incident.CreatedAt,
		&resolved,
	)
	if err != nil {
		return nil, err
	}
	if resolved.Valid {
		t := resolved.Time
		incident.ResolvedAt = &t
	}
	return &incident, nil
}
