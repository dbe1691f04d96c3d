package roster

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/feeerr"
)

// Student is the roster view the fee engine reads. It never writes it.
type Student struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID        snowflake.ID `gorm:"not null;index:ix_students_class,priority:1" json:"school_id"`
	ClassID         snowflake.ID `gorm:"not null;index:ix_students_class,priority:2" json:"class_id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	FatherName      string       `gorm:"type:text" json:"father_name"`
	RollNo          string       `gorm:"type:text" json:"roll_no"`
	AdmissionNumber string       `gorm:"type:text" json:"admission_number"`
	Active          bool         `gorm:"not null" json:"active"`
	CreatedAt       time.Time    `json:"created_at"`

	ClassName string `gorm:"-" json:"class_name"`
}

func (Student) TableName() string { return "students" }

type Class struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	SchoolID  snowflake.ID `gorm:"not null;index" json:"school_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Class) TableName() string { return "school_classes" }

// Directory resolves students and classes. Implementations return active
// students only, ordered by roll number then id.
type Directory interface {
	GetStudent(ctx context.Context, schoolID, studentID snowflake.ID) (Student, error)
	GetStudentsByClass(ctx context.Context, schoolID, classID snowflake.ID) ([]Student, error)
	GetClass(ctx context.Context, schoolID, classID snowflake.ID) (Class, error)
}

var (
	ErrStudentNotFound = feeerr.NotFound("student_not_found", "student not found")
	ErrClassNotFound   = feeerr.NotFound("class_not_found", "class not found")
)
