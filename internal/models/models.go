package models

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Tier is the subscription tier. Detection is identical for every tier; only the
// adjustment action differs.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// ParseTier accepts the stored values plus the "pro" alias used by billing.
func ParseTier(value string) (Tier, bool) {
	switch value {
	case "free":
		return TierFree, true
	case "paid", "pro":
		return TierPaid, true
	default:
		return "", false
	}
}

type User struct {
	ID          string
	OIDCSubject string
	Email       string
	Name        string
	AvatarURL   string
	Role        Role
	Tier        Tier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type APIToken struct {
	ID              string
	Name            string
	TokenHash       string
	CreatedByUserID string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

type Constraints struct {
	UserID                  string    `json:"-"`
	WorkoutsPerWeek         int       `json:"workoutsPerWeek"`
	SessionMinutes          int       `json:"sessionMinutes"`
	EquipmentAccess         string    `json:"equipmentAccess"`
	PreferredWorkoutDays    []string  `json:"preferredWorkoutDays"`
	WeeklyFoodBudget        float64   `json:"weeklyFoodBudget"`
	MealsPerDay             int       `json:"mealsPerDay"`
	MaxCookingMinutes       int       `json:"maxCookingMinutes"`
	ProteinTargetGrams      *int      `json:"proteinTargetGrams"`
	SimplifyAfterDeviations int       `json:"simplifyAfterDeviations"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// DefaultConstraints is what a user without a stored row is planned against.
func DefaultConstraints(userID string, simplifyAfter int) Constraints {
	return Constraints{
		UserID:                  userID,
		WorkoutsPerWeek:         3,
		SessionMinutes:          45,
		EquipmentAccess:         "none",
		PreferredWorkoutDays:    []string{},
		WeeklyFoodBudget:        100,
		MealsPerDay:             3,
		MaxCookingMinutes:       30,
		SimplifyAfterDeviations: simplifyAfter,
	}
}
