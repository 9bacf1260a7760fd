package boxes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// BoxCount is the number of seeded boxes. Box ids run 1..BoxCount.
	BoxCount = 18

	// NoneOfTheAbove is the fixed text of condition slot four.
	NoneOfTheAbove = "None of the above/Unsure"

	StatusHolding = "holding"
	StatusPending = "pending"
)

// Box is a numbered reservable slot with four condition descriptors.
type Box struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement:false"`
	Condition1 string `gorm:"column:condition1;not null;default:'Condition 1'"`
	Condition2 string `gorm:"column:condition2;not null;default:'Condition 2'"`
	Condition3 string `gorm:"column:condition3;not null;default:'Condition 3'"`
	Condition4 string `gorm:"column:condition4;not null;default:'None of the above/Unsure'"`
}

// TableName provides the explicit table binding for GORM.
func (Box) TableName() string {
	return "boxes"
}

// Holder records the user currently occupying a box.
type Holder struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BoxID         uint      `gorm:"column:box_id;not null;index"`
	UserID        uint      `gorm:"column:user_id;not null;index"`
	ConditionsMet string    `gorm:"column:conditions_met;type:text"`
	Status        string    `gorm:"column:status;size:16;not null;default:holding"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Holder) TableName() string {
	return "box_holders"
}

// Application is a pending request by a user to occupy a box.
type Application struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BoxID         uint      `gorm:"column:box_id;not null;index"`
	UserID        uint      `gorm:"column:user_id;not null;index"`
	ConditionsMet string    `gorm:"column:conditions_met;type:text"`
	Status        string    `gorm:"column:status;size:16;not null;default:pending"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Application) TableName() string {
	return "applications"
}

// SeedBoxes returns the initial box rows with placeholder condition text.
func SeedBoxes() []Box {
	seeded := make([]Box, 0, BoxCount)
	for id := 1; id <= BoxCount; id++ {
		seeded = append(seeded, Box{
			ID:         uint(id),
			Condition1: fmt.Sprintf("Post %d Condition 1", id),
			Condition2: fmt.Sprintf("Post %d Condition 2", id),
			Condition3: fmt.Sprintf("Post %d Condition 3", id),
			Condition4: NoneOfTheAbove,
		})
	}
	return seeded
}

// normalizeConditions trims claimed conditions and drops blanks.
func normalizeConditions(conditions []string) []string {
	cleaned := make([]string, 0, len(conditions))
	for _, condition := range conditions {
		trimmed := strings.TrimSpace(condition)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}

func encodeConditions(conditions []string) (string, error) {
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeConditions parses a stored conditions_met value. Malformed text yields nil.
func DecodeConditions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var decoded []string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	return decoded
}
