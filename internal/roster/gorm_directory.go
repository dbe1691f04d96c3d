package roster

import (
	"context"
	"errors"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"gorm.io/gorm"
)

type gormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory reads the roster tables of the school database.
func NewGormDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) GetStudent(ctx context.Context, schoolID, studentID snowflake.ID) (Student, error) {
	var student Student
	err := d.db.WithContext(ctx).
		Where("school_id = ? AND id = ? AND active = ?", schoolID, studentID, true).
		First(&student).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, feeerr.Wrap(err, "load student")
	}

	class, err := d.GetClass(ctx, schoolID, student.ClassID)
	if err != nil && !errors.Is(err, ErrClassNotFound) {
		return Student{}, err
	}
	student.ClassName = class.Name
	return student, nil
}

func (d *gormDirectory) GetStudentsByClass(ctx context.Context, schoolID, classID snowflake.ID) ([]Student, error) {
	class, err := d.GetClass(ctx, schoolID, classID)
	if err != nil {
		return nil, err
	}

	var students []Student
	if err := d.db.WithContext(ctx).
		Where("school_id = ? AND class_id = ? AND active = ?", schoolID, classID, true).
		Find(&students).Error; err != nil {
		return nil, feeerr.Wrap(err, "load class roster")
	}
	for i := range students {
		students[i].ClassName = class.Name
	}
	SortStudents(students)
	return students, nil
}

func (d *gormDirectory) GetClass(ctx context.Context, schoolID, classID snowflake.ID) (Class, error) {
	var class Class
	err := d.db.WithContext(ctx).
		Where("school_id = ? AND id = ?", schoolID, classID).
		First(&class).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Class{}, ErrClassNotFound
		}
		return Class{}, feeerr.Wrap(err, "load class")
	}
	return class, nil
}

// SortStudents orders students by roll number, then id.
func SortStudents(students []Student) {
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].RollNo != students[j].RollNo {
			return lessRoll(students[i].RollNo, students[j].RollNo)
		}
		return students[i].ID < students[j].ID
	})
}

// lessRoll compares numeric roll numbers numerically and everything else
// lexically, so "2" sorts before "10".
func lessRoll(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
