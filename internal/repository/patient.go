package repository

import (
	"context"

	"github.com/nvasilev/careminder/internal/database"
	"github.com/nvasilev/careminder/internal/models"
)

type PatientRepository struct {
	db *database.DB
}

func NewPatientRepository(db *database.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) GetOrCreate(ctx context.Context, patientID int64, name string) (*models.Patient, error) {
	patient := &models.Patient{}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO patients (patient_id, name) VALUES ($1, $2)
		 ON CONFLICT (patient_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING patient_id, name, created_at`,
		patientID, name,
	).Scan(&patient.PatientID, &patient.Name, &patient.CreatedAt)
	if err != nil {
		return nil, err
	}
	return patient, nil
}

func (r *PatientRepository) GetByID(ctx context.Context, patientID int64) (*models.Patient, error) {
	patient := &models.Patient{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT patient_id, name, created_at FROM patients WHERE patient_id = $1`,
		patientID,
	).Scan(&patient.PatientID, &patient.Name, &patient.CreatedAt)
	if err != nil {
		return nil, err
	}
	return patient, nil
}
