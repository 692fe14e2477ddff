package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tag labels recipes of one user. Tags are owned by exactly one user and
// may be attached to any number of that user's recipes.
type Tag struct {
	ID     int64  `json:"id" db:"id"`
	UserID int64  `json:"-" db:"user_id"`
	Name   string `json:"name" db:"name"`
}

// Ingredient is a named component of recipes, owned by exactly one user.
type Ingredient struct {
	ID     int64  `json:"id" db:"id"`
	UserID int64  `json:"-" db:"user_id"`
	Name   string `json:"name" db:"name"`
}

// Recipe is the central entity: a titled dish with preparation time,
// a fixed-point price, and many-to-many links to tags and ingredients.
type Recipe struct {
	ID     int64 `json:"id" db:"id"`
	UserID int64 `json:"-" db:"user_id"`

	// Title is required and non-empty.
	Title string `json:"title" db:"title"`

	// TimeMin is the preparation time in minutes, never negative.
	TimeMin int `json:"time_min" db:"time_min"`

	// Price is a two-decimal-place fixed-point amount.
	Price decimal.Decimal `json:"price" db:"price"`

	// Link is an optional URL pointing at the recipe source.
	Link string `json:"link" db:"link"`

	// ImagePath is the object storage key of the attached image,
	// empty until an image has been uploaded.
	ImagePath string `json:"image_path" db:"image_path"`

	// Tags and Ingredients hold the associated rows when the recipe
	// was loaded with its relations.
	Tags        []Tag        `json:"tags,omitempty"`
	Ingredients []Ingredient `json:"ingredients,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TagIDs returns the IDs of the loaded tags.
func (r Recipe) TagIDs() []int64 {
	ids := make([]int64, 0, len(r.Tags))
	for _, t := range r.Tags {
		ids = append(ids, t.ID)
	}
	return ids
}

// IngredientIDs returns the IDs of the loaded ingredients.
func (r Recipe) IngredientIDs() []int64 {
	ids := make([]int64, 0, len(r.Ingredients))
	for _, i := range r.Ingredients {
		ids = append(ids, i.ID)
	}
	return ids
}
