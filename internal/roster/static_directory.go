package roster

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// StaticDirectory is an in-memory roster, used for seeding and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	classes  map[snowflake.ID]Class
	students map[snowflake.ID]Student
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		classes:  map[snowflake.ID]Class{},
		students: map[snowflake.ID]Student{},
	}
}

func (d *StaticDirectory) AddClass(class Class) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classes[class.ID] = class
}

func (d *StaticDirectory) AddStudent(student Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.students[student.ID] = student
}

func (d *StaticDirectory) GetStudent(_ context.Context, schoolID, studentID snowflake.ID) (Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	student, ok := d.students[studentID]
	if !ok || student.SchoolID != schoolID || !student.Active {
		return Student{}, ErrStudentNotFound
	}
	student.ClassName = d.classes[student.ClassID].Name
	return student, nil
}

func (d *StaticDirectory) GetStudentsByClass(_ context.Context, schoolID, classID snowflake.ID) ([]Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	class, ok := d.classes[classID]
	if !ok || class.SchoolID != schoolID {
		return nil, ErrClassNotFound
	}
	out := []Student{}
	for _, student := range d.students {
		if student.SchoolID == schoolID && student.ClassID == classID && student.Active {
			student.ClassName = class.Name
			out = append(out, student)
		}
	}
	SortStudents(out)
	return out, nil
}

func (d *StaticDirectory) GetClass(_ context.Context, schoolID, classID snowflake.ID) (Class, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	class, ok := d.classes[classID]
	if !ok || class.SchoolID != schoolID {
		return Class{}, ErrClassNotFound
	}
	return class, nil
}

var _ Directory = (*StaticDirectory)(nil)
