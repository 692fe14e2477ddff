package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// attributeDescriptor names the tables backing one recipe attribute kind.
// Tags and ingredients share the same shape (id, user_id, name) and the same
// query logic, so a single repository serves both.
type attributeDescriptor struct {
	table      string
	joinTable  string
	joinColumn string
}

var (
	tagDescriptor = attributeDescriptor{
		table:      "tags",
		joinTable:  "recipe_tags",
		joinColumn: "tag_id",
	}
	ingredientDescriptor = attributeDescriptor{
		table:      "ingredients",
		joinTable:  "recipe_ingredients",
		joinColumn: "ingredient_id",
	}
)

// Attribute is one owner-scoped tag or ingredient row.
type Attribute struct {
	ID     int64
	UserID int64
	Name   string
}

// AttributeRepository handles persistence for one attribute kind.
type AttributeRepository struct {
	db   *sql.DB
	desc attributeDescriptor
}

func NewTagRepository(db *sql.DB) *AttributeRepository {
	return &AttributeRepository{db: db, desc: tagDescriptor}
}

func NewIngredientRepository(db *sql.DB) *AttributeRepository {
	return &AttributeRepository{db: db, desc: ingredientDescriptor}
}

// List returns the user's attributes ordered by name descending. With
// assignedOnly set, only attributes linked to at least one recipe are
// returned; the EXISTS predicate keeps multiply-linked rows unique.
func (r *AttributeRepository) List(ctx context.Context, userID int64, assignedOnly bool) ([]Attribute, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select("id", "user_id", "name").
		From(r.desc.table).
		Where(sq.Eq{"user_id": userID})

	if assignedOnly {
		sb = sb.Where(fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s j WHERE j.%s = %s.id)",
			r.desc.joinTable, r.desc.joinColumn, r.desc.table,
		))
	}

	query, args, err := sb.OrderBy("name DESC", "id DESC").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make([]Attribute, 0, 16)
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Create inserts a new attribute owned by the given user.
func (r *AttributeRepository) Create(ctx context.Context, userID int64, name string) (Attribute, error) {
	query := fmt.Sprintf(`INSERT INTO %s (user_id, name) VALUES ($1, $2) RETURNING id`, r.desc.table)

	attr := Attribute{UserID: userID, Name: name}
	if err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&attr.ID); err != nil {
		return Attribute{}, err
	}
	return attr, nil
}

