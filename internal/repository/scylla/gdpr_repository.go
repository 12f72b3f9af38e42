package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// GDPRRepository stores consent records, data subject requests, and the
// personal-data field catalog, and performs catalog-driven reads and
// erasures against the named tables.
type GDPRRepository struct {
	client *ScyllaClient
}

func NewGDPRRepository(client *ScyllaClient, logger *zap.Logger) *GDPRRepository {
	return &GDPRRepository{client: client}
}

// ==============================
// Consent records
// ==============================

func (r *GDPRRepository) InsertConsent(ctx context.Context, consent *models.ConsentRecord) error {
	if consent.ID == "" {
		consent.ID = uuid.New().String()
	}
	if consent.GivenAt.IsZero() {
		consent.GivenAt = time.Now().UTC()
	}
	consent.IsActive = true

	query := r.client.Query(`
        INSERT INTO consent_records (
            user_id, consent_id, consent_type, purpose, given_at, withdrawn_at,
            is_active, legal_basis, evidence_data
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		consent.UserID, consent.ID, consent.ConsentType, consent.Purpose,
		consent.GivenAt, consent.WithdrawnAt, consent.IsActive, consent.LegalBasis,
		consent.EvidenceData).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert consent record",
			zap.String("user_id", consent.UserID),
			zap.String("consent_type", consent.ConsentType),
			zap.Error(err))
		return fmt.Errorf("failed to insert consent record: %w", err)
	}

	util.Info("Consent recorded",
		zap.String("user_id", consent.UserID),
		zap.String("consent_type", consent.ConsentType))

	return nil
}

// WithdrawConsent marks the record withdrawn. The row itself is retained as
// legal evidence.
func (r *GDPRRepository) WithdrawConsent(ctx context.Context, userID, consentID string, withdrawnAt time.Time) error {
	query := r.client.Query(`
        UPDATE consent_records SET withdrawn_at = ?, is_active = ?
        WHERE user_id = ? AND consent_id = ?`,
		withdrawnAt, false, userID, consentID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to withdraw consent: %w", err)
	}

	util.Info("Consent withdrawn",
		zap.String("user_id", userID),
		zap.String("consent_id", consentID))

	return nil
}

func (r *GDPRRepository) ListConsentsByUser(ctx context.Context, userID string) ([]*models.ConsentRecord, error) {
	iter := r.client.Query(`
        SELECT user_id, consent_id, consent_type, purpose, given_at, withdrawn_at,
            is_active, legal_basis, evidence_data
        FROM consent_records WHERE user_id = ?`,
		userID).WithContext(ctx).Iter()

	var out []*models.ConsentRecord
	for {
		c := &models.ConsentRecord{}
		if !iter.Scan(&c.UserID, &c.ID, &c.ConsentType, &c.Purpose, &c.GivenAt,
			&c.WithdrawnAt, &c.IsActive, &c.LegalBasis, &c.EvidenceData) {
			break
		}
		out = append(out, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	return out, nil
}

// ==============================
// Data subject requests
// ==============================

func (r *GDPRRepository) InsertRequest(ctx context.Context, request *models.DataSubjectRequest) error {
	if request.ID == "" {
		request.ID = uuid.New().String()
	}

	query := r.client.Query(`
        INSERT INTO data_subject_requests (
            request_id, user_id, request_type, status, requested_at, deadline,
            completed_at, verification_status, payload, response_data,
            rejection_reason, exceptions_applied
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID, request.UserID, request.RequestType, request.Status,
		request.RequestedAt, request.Deadline, request.CompletedAt,
		request.VerificationStatus, request.Payload, request.ResponseData,
		request.RejectionReason, request.ExceptionsApplied).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert data subject request",
			zap.String("user_id", request.UserID),
			zap.String("request_type", request.RequestType),
			zap.Error(err))
		return fmt.Errorf("failed to insert data subject request: %w", err)
	}

	util.Info("Data subject request created",
		zap.String("request_id", request.ID),
		zap.String("request_type", request.RequestType),
		zap.Time("deadline", request.Deadline))

	return nil
}

func (r *GDPRRepository) GetRequestByID(ctx context.Context, requestID string) (*models.DataSubjectRequest, error) {
	request := &models.DataSubjectRequest{}

	query := r.client.Query(`
        SELECT request_id, user_id, request_type, status, requested_at, deadline,
            completed_at, verification_status, payload, response_data,
            rejection_reason, exceptions_applied
        FROM data_subject_requests WHERE request_id = ?`,
		requestID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&request.ID, &request.UserID, &request.RequestType, &request.Status,
		&request.RequestedAt, &request.Deadline, &request.CompletedAt,
		&request.VerificationStatus, &request.Payload, &request.ResponseData,
		&request.RejectionReason, &request.ExceptionsApplied)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("data subject request %s: %w", requestID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get data subject request: %w", err)
	}

	return request, nil
}

// UpdateRequestStatus writes the request's terminal or intermediate state.
func (r *GDPRRepository) UpdateRequestStatus(ctx context.Context, request *models.DataSubjectRequest) error {
	query := r.client.Query(`
        UPDATE data_subject_requests
        SET status = ?, completed_at = ?, verification_status = ?, response_data = ?,
            rejection_reason = ?, exceptions_applied = ?, payload = ?
        WHERE request_id = ?`,
		request.Status, request.CompletedAt, request.VerificationStatus,
		request.ResponseData, request.RejectionReason, request.ExceptionsApplied,
		request.Payload, request.ID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update data subject request",
			zap.String("request_id", request.ID),
			zap.String("status", request.Status),
			zap.Error(err))
		return fmt.Errorf("failed to update data subject request: %w", err)
	}

	return nil
}

// CountRequestsInRange counts requests created inside a reporting period.
func (r *GDPRRepository) CountRequestsInRange(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	query := r.client.Query(`
        SELECT COUNT(*) FROM data_subject_requests
        WHERE requested_at >= ? AND requested_at <= ? ALLOW FILTERING`,
		start, end).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		return 0, fmt.Errorf("failed to count data subject requests: %w", err)
	}
	return count, nil
}

// ==============================
// Personal data field catalog
// ==============================

func (r *GDPRRepository) SeedField(ctx context.Context, field *models.PersonalDataField) error {
	query := r.client.Query(`
        INSERT INTO personal_data_fields (
            table_name, column_name, sensitivity, legal_basis, retention_days,
            user_provided, legally_retained, third_party_shared
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		field.TableName, field.ColumnName, field.Sensitivity, field.LegalBasis,
		field.RetentionDays, field.UserProvided, field.LegallyRetained,
		field.ThirdPartyShared).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to seed personal data field: %w", err)
	}
	return nil
}

func (r *GDPRRepository) ListFields(ctx context.Context) ([]*models.PersonalDataField, error) {
	iter := r.client.Query(`
        SELECT table_name, column_name, sensitivity, legal_basis, retention_days,
            user_provided, legally_retained, third_party_shared
        FROM personal_data_fields`).WithContext(ctx).Iter()

	var out []*models.PersonalDataField
	for {
		f := &models.PersonalDataField{}
		if !iter.Scan(&f.TableName, &f.ColumnName, &f.Sensitivity, &f.LegalBasis,
			&f.RetentionDays, &f.UserProvided, &f.LegallyRetained, &f.ThirdPartyShared) {
			break
		}
		out = append(out, f)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list personal data fields: %w", err)
	}
	return out, nil
}

// ==============================
// Catalog-driven field access
// ==============================

// CollectFieldValue reads the catalogued column for a user. Table and column
// names come from the operator-seeded catalog and are still validated before
// interpolation.
func (r *GDPRRepository) CollectFieldValue(ctx context.Context, field *models.PersonalDataField, userID string) (string, bool, error) {
	if err := validIdentifier(field.TableName); err != nil {
		return "", false, err
	}
	if err := validIdentifier(field.ColumnName); err != nil {
		return "", false, err
	}

	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ? LIMIT 1 ALLOW FILTERING`,
		field.ColumnName, field.TableName)

	var value string
	err := r.client.Query(stmt, userID).WithContext(ctx).Scan(&value)
	if err != nil {
		if err == gocql.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to collect %s: %w", field.Qualified(), err)
	}
	return value, true, nil
}

// EraseFieldValue nulls the catalogued column for a user.
func (r *GDPRRepository) EraseFieldValue(ctx context.Context, field *models.PersonalDataField, userID string) error {
	if err := validIdentifier(field.TableName); err != nil {
		return err
	}
	if err := validIdentifier(field.ColumnName); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`UPDATE %s SET %s = null WHERE user_id = ?`,
		field.TableName, field.ColumnName)

	query := r.client.Query(stmt, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to erase %s: %w", field.Qualified(), err)
	}

	util.Info("Personal data field erased",
		zap.String("field", field.Qualified()),
		zap.String("user_id", userID))

	return nil
}

// RectifyFieldValue overwrites the catalogued column for a user with a
// corrected value.
func (r *GDPRRepository) RectifyFieldValue(ctx context.Context, field *models.PersonalDataField, userID, value string) error {
	if err := validIdentifier(field.TableName); err != nil {
		return err
	}
	if err := validIdentifier(field.ColumnName); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE user_id = ?`,
		field.TableName, field.ColumnName)

	query := r.client.Query(stmt, value, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to rectify %s: %w", field.Qualified(), err)
	}

	util.Info("Personal data field rectified",
		zap.String("field", field.Qualified()),
		zap.String("user_id", userID))

	return nil
}
