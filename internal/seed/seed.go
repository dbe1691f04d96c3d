// Package seed fills an empty development database with one class, a few
// students and a priced fee schedule so the bill endpoints have data.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	"github.com/smallbiznis/feeledger/internal/latefee"
	"github.com/smallbiznis/feeledger/internal/roster"
	"gorm.io/gorm"
)

const demoClassName = "Grade 5"

type demoStudent struct {
	Name            string
	FatherName      string
	RollNo          string
	AdmissionNumber string
}

var demoStudents = []demoStudent{
	{Name: "Asha Rao", FatherName: "Ravi Rao", RollNo: "1", AdmissionNumber: "ADM-001"},
	{Name: "Bilal Khan", FatherName: "Imran Khan", RollNo: "2", AdmissionNumber: "ADM-002"},
	{Name: "Chitra Nair", FatherName: "Suresh Nair", RollNo: "3", AdmissionNumber: "ADM-003"},
}

type demoFee struct {
	Name      string
	Type      feeconfigdomain.CategoryType
	Frequency feeconfigdomain.Frequency
	Amount    int64
	Penalty   int64
}

var demoFees = []demoFee{
	{Name: "Tuition Fee", Type: feeconfigdomain.CategoryTypeTuition, Frequency: feeconfigdomain.FrequencyMonthly, Amount: 5000, Penalty: 200},
	{Name: "Exam Fee", Type: feeconfigdomain.CategoryTypeExam, Frequency: feeconfigdomain.FrequencyQuarterly, Amount: 1500},
	{Name: "Library Fee", Type: feeconfigdomain.CategoryTypeLibrary, Frequency: feeconfigdomain.FrequencyAnnual, Amount: 1200},
	{Name: "Admission Fee", Type: feeconfigdomain.CategoryTypeAdmission, Frequency: feeconfigdomain.FrequencyOneTime, Amount: 3000},
}

// EnsureDemoSchool seeds the demo class, its students and fee structures for
// academicYear. Existing rows are left alone, so it is safe on every start.
func EnsureDemoSchool(ctx context.Context, db *gorm.DB, node *snowflake.Node, schoolID snowflake.ID, academicYear string) error {
	if db == nil || node == nil {
		return errors.New("seed database handle is required")
	}
	if schoolID <= 0 || academicYear == "" {
		return errors.New("seed school and academic year are required")
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		class, err := ensureClassTx(ctx, tx, node, schoolID)
		if err != nil {
			return err
		}
		for _, s := range demoStudents {
			if err := ensureStudentTx(ctx, tx, node, class, s); err != nil {
				return err
			}
		}
		for _, fee := range demoFees {
			category, err := ensureCategoryTx(ctx, tx, node, schoolID, fee)
			if err != nil {
				return err
			}
			if err := ensureStructureTx(ctx, tx, node, class, category, academicYear, fee); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureClassTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, schoolID snowflake.ID) (roster.Class, error) {
	var class roster.Class
	err := tx.WithContext(ctx).Where("school_id = ? AND name = ?", schoolID, demoClassName).First(&class).Error
	if err == nil {
		return class, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return class, err
	}
	class = roster.Class{
		ID:        node.Generate(),
		SchoolID:  schoolID,
		Name:      demoClassName,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&class).Error; err != nil {
		return class, err
	}
	return class, nil
}

func ensureStudentTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, class roster.Class, s demoStudent) error {
	var student roster.Student
	err := tx.WithContext(ctx).
		Where("school_id = ? AND admission_number = ?", class.SchoolID, s.AdmissionNumber).
		First(&student).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	student = roster.Student{
		ID:              node.Generate(),
		SchoolID:        class.SchoolID,
		ClassID:         class.ID,
		Name:            s.Name,
		FatherName:      s.FatherName,
		RollNo:          s.RollNo,
		AdmissionNumber: s.AdmissionNumber,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&student).Error
}

func ensureCategoryTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, schoolID snowflake.ID, fee demoFee) (feeconfigdomain.FeeCategory, error) {
	code := slug.Make(fee.Name)
	var category feeconfigdomain.FeeCategory
	err := tx.WithContext(ctx).Where("school_id = ? AND code = ?", schoolID, code).First(&category).Error
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return category, err
	}
	now := time.Now().UTC()
	category = feeconfigdomain.FeeCategory{
		ID:          node.Generate(),
		SchoolID:    schoolID,
		Code:        code,
		Name:        fee.Name,
		Type:        fee.Type,
		Frequency:   fee.Frequency,
		IsMandatory: true,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(&category).Error; err != nil {
		return category, err
	}
	return category, nil
}

func ensureStructureTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, class roster.Class, category feeconfigdomain.FeeCategory, academicYear string, fee demoFee) error {
	var count int64
	err := tx.WithContext(ctx).Model(&feeconfigdomain.FeeStructure{}).
		Where("school_id = ? AND academic_year = ? AND class_id = ? AND category_id = ?",
			class.SchoolID, academicYear, class.ID, category.ID).
		Count(&count).Error
	if err != nil || count > 0 {
		return err
	}
	now := time.Now().UTC()
	structure := feeconfigdomain.FeeStructure{
		ID:                  node.Generate(),
		SchoolID:            class.SchoolID,
		AcademicYear:        academicYear,
		ClassID:             class.ID,
		CategoryID:          category.ID,
		Amount:              fee.Amount,
		DueDateDay:          10,
		LateFeePenaltyValue: decimal.Zero,
		Active:              true,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if fee.Penalty > 0 {
		structure.LateFeePenaltyType = latefee.PenaltyTypeFixed
		structure.LateFeePenaltyValue = decimal.NewFromInt(fee.Penalty)
	}
	return tx.WithContext(ctx).Create(&structure).Error
}
