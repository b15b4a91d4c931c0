package models

// PlayerProfile is the candidate-facing part of a player's profile
type PlayerProfile struct {
	UserID     int64   `dynamodbav:"userId" json:"userId"`                             // Partition Key
	Name       string  `dynamodbav:"name" json:"name"`                                 // Display name
	Age        int     `dynamodbav:"age" json:"age"`                                   // Age in years
	SkillLevel string  `dynamodbav:"skillLevel" json:"skillLevel"`                     // NTRP-style label, e.g. "3.5"
	Bio        string  `dynamodbav:"bio,omitempty" json:"bio,omitempty"`               // Short description
	PhotoKey   string  `dynamodbav:"photoKey,omitempty" json:"photoKey,omitempty"`     // Object key of the primary photo
	Latitude   float64 `dynamodbav:"latitude,omitempty" json:"latitude,omitempty"`     // Last known location
	Longitude  float64 `dynamodbav:"longitude,omitempty" json:"longitude,omitempty"`   // Last known location
}

// PlayersTable is the DynamoDB table name for player profiles
const PlayersTable = "Players"

// ProfileUpdate is the PATCH /me/profile body; nil fields are left unchanged
type ProfileUpdate struct {
	Name       *string  `json:"name,omitempty" validate:"omitempty,min=1,max=60"`
	Age        *int     `json:"age,omitempty" validate:"omitempty,min=18,max=120"`
	SkillLevel *string  `json:"skillLevel,omitempty" validate:"omitempty,oneof=1.5 2.0 2.5 3.0 3.5 4.0 4.5 5.0 5.5 6.0 7.0"`
	Bio        *string  `json:"bio,omitempty" validate:"omitempty,max=500"`
	PhotoKey   *string  `json:"photoKey,omitempty" validate:"omitempty,max=512"`
	Latitude   *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude  *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}
