package locking

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	keyClassGeneration = "feeledger:generate:%s:%s:%s"
	keyReminderSent    = "feeledger:reminder:%s:%s:%s"
)

// ClassGenerationKey guards one batch generation of a class for a period.
func ClassGenerationKey(schoolID, classID snowflake.ID, periodLabel string) string {
	return fmt.Sprintf(keyClassGeneration, schoolID, classID, periodLabel)
}

// ReminderKey marks a reminder as dispatched to a student on a calendar day.
func ReminderKey(schoolID, studentID snowflake.ID, day time.Time) string {
	return fmt.Sprintf(keyReminderSent, schoolID, studentID, day.Format("2006-01-02"))
}
