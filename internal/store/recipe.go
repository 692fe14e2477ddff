package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/recipebox/apiserver/types"
	"github.com/shopspring/decimal"
)

// RecipeFilter narrows a recipe listing by association membership. A non-empty
// ID set keeps recipes linked to at least one of the given IDs; both sets, if
// present, must match independently.
type RecipeFilter struct {
	TagIDs        []int64
	IngredientIDs []int64
}

// RecipePatch describes a recipe update. Nil fields are left untouched. A
// non-nil TagIDs or IngredientIDs replaces the association set entirely; an
// empty slice clears it.
type RecipePatch struct {
	Title         *string
	TimeMin       *int
	Price         *decimal.Decimal
	Link          *string
	TagIDs        *[]int64
	IngredientIDs *[]int64
}

// RecipeRepository handles persistence for recipes and their
// tag/ingredient associations.
type RecipeRepository struct {
	db *sql.DB
}

func NewRecipeRepository(db *sql.DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

const recipeColumns = "id, user_id, title, time_min, price, link, image_path, created_at, updated_at"

// List returns the user's recipes matching the filter, relations loaded.
// Membership is tested with EXISTS subqueries so a recipe matching several
// requested IDs still appears once.
func (r *RecipeRepository) List(ctx context.Context, userID int64, filter RecipeFilter) ([]types.Recipe, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select(
		"id", "user_id", "title", "time_min", "price", "link", "image_path", "created_at", "updated_at",
	).From("recipes").Where(sq.Eq{"user_id": userID})

	if len(filter.TagIDs) > 0 {
		sb = sb.Where(
			"EXISTS (SELECT 1 FROM recipe_tags rt WHERE rt.recipe_id = recipes.id AND rt.tag_id = ANY(?))",
			pq.Array(filter.TagIDs),
		)
	}
	if len(filter.IngredientIDs) > 0 {
		sb = sb.Where(
			"EXISTS (SELECT 1 FROM recipe_ingredients ri WHERE ri.recipe_id = recipes.id AND ri.ingredient_id = ANY(?))",
			pq.Array(filter.IngredientIDs),
		)
	}

	query, args, err := sb.OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipes := make([]types.Recipe, 0, 16)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadRelations(ctx, recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

// Get returns one of the user's recipes with relations loaded.
func (r *RecipeRepository) Get(ctx context.Context, userID, id int64) (types.Recipe, error) {
	query := fmt.Sprintf(`SELECT %s FROM recipes WHERE user_id = $1 AND id = $2`, recipeColumns)

	row := r.db.QueryRowContext(ctx, query, userID, id)
	recipe, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Recipe{}, ErrNotFound
		}
		return types.Recipe{}, err
	}

	recipes := []types.Recipe{recipe}
	if err := r.loadRelations(ctx, recipes); err != nil {
		return types.Recipe{}, err
	}
	return recipes[0], nil
}

// Create inserts the recipe and its associations in one transaction. Tag and
// ingredient IDs are resolved within the owner's scope; an unknown or
// foreign ID aborts the whole write with ErrUnknownAttribute.
func (r *RecipeRepository) Create(ctx context.Context, recipe types.Recipe, tagIDs, ingredientIDs []int64) (types.Recipe, error) {
	now := time.Now()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Recipe{}, err
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO recipes (user_id, title, time_min, price, link, image_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		query,
		recipe.UserID,
		recipe.Title,
		recipe.TimeMin,
		recipe.Price,
		recipe.Link,
		recipe.ImagePath,
		recipe.CreatedAt,
		recipe.UpdatedAt,
	).Scan(&recipe.ID); err != nil {
		return types.Recipe{}, err
	}

	if err := replaceLinks(ctx, tx, tagDescriptor, recipe.UserID, recipe.ID, tagIDs); err != nil {
		return types.Recipe{}, err
	}
	if err := replaceLinks(ctx, tx, ingredientDescriptor, recipe.UserID, recipe.ID, ingredientIDs); err != nil {
		return types.Recipe{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Recipe{}, err
	}

	return r.Get(ctx, recipe.UserID, recipe.ID)
}

// Update applies the patch to one of the user's recipes. The scalar update
// and any association replacement commit atomically.
func (r *RecipeRepository) Update(ctx context.Context, userID, id int64, patch RecipePatch) (types.Recipe, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Recipe{}, err
	}
	defer tx.Rollback()

	var existing int64
	const lockQuery = `SELECT id FROM recipes WHERE user_id = $1 AND id = $2 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQuery, userID, id).Scan(&existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Recipe{}, ErrNotFound
		}
		return types.Recipe{}, err
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	ub := psql.Update("recipes").Set("updated_at", time.Now())
	if patch.Title != nil {
		ub = ub.Set("title", *patch.Title)
	}
	if patch.TimeMin != nil {
		ub = ub.Set("time_min", *patch.TimeMin)
	}
	if patch.Price != nil {
		ub = ub.Set("price", *patch.Price)
	}
	if patch.Link != nil {
		ub = ub.Set("link", *patch.Link)
	}

	query, args, err := ub.Where(sq.Eq{"user_id": userID, "id": id}).ToSql()
	if err != nil {
		return types.Recipe{}, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return types.Recipe{}, err
	}

	if patch.TagIDs != nil {
		if err := replaceLinks(ctx, tx, tagDescriptor, userID, id, *patch.TagIDs); err != nil {
			return types.Recipe{}, err
		}
	}
	if patch.IngredientIDs != nil {
		if err := replaceLinks(ctx, tx, ingredientDescriptor, userID, id, *patch.IngredientIDs); err != nil {
			return types.Recipe{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Recipe{}, err
	}

	return r.Get(ctx, userID, id)
}

// Delete removes one of the user's recipes. Association rows go with it
// via the cascade on the join tables.
func (r *RecipeRepository) Delete(ctx context.Context, userID, id int64) error {
	const query = `DELETE FROM recipes WHERE user_id = $1 AND id = $2`
	result, err := r.db.ExecContext(ctx, query, userID, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetImagePath records the storage key of the recipe's image.
func (r *RecipeRepository) SetImagePath(ctx context.Context, userID, id int64, path string) error {
	const query = `UPDATE recipes SET image_path = $1, updated_at = $2 WHERE user_id = $3 AND id = $4`
	result, err := r.db.ExecContext(ctx, query, path, time.Now(), userID, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// replaceLinks swaps the recipe's association set for one attribute kind.
// Every requested ID must resolve within the owner's scope. The join table
// primary key plus ON CONFLICT DO NOTHING makes repeated links idempotent.
func replaceLinks(ctx context.Context, tx *sql.Tx, desc attributeDescriptor, userID, recipeID int64, ids []int64) error {
	clear := fmt.Sprintf(`DELETE FROM %s WHERE recipe_id = $1`, desc.joinTable)
	if _, err := tx.ExecContext(ctx, clear, recipeID); err != nil {
		return err
	}

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	resolve := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE user_id = $1 AND id = ANY($2)`, desc.table)
	var resolved int
	if err := tx.QueryRowContext(ctx, resolve, userID, pq.Array(ids)).Scan(&resolved); err != nil {
		return err
	}
	if resolved != len(ids) {
		return ErrUnknownAttribute
	}

	link := fmt.Sprintf(`
		INSERT INTO %s (recipe_id, %s)
		SELECT $1, id FROM %s WHERE user_id = $2 AND id = ANY($3)
		ON CONFLICT DO NOTHING`, desc.joinTable, desc.joinColumn, desc.table)
	if _, err := tx.ExecContext(ctx, link, recipeID, userID, pq.Array(ids)); err != nil {
		return err
	}
	return nil
}

// loadRelations fills Tags and Ingredients for the given recipes in two
// queries regardless of result size.
func (r *RecipeRepository) loadRelations(ctx context.Context, recipes []types.Recipe) error {
	if len(recipes) == 0 {
		return nil
	}

	index := make(map[int64]*types.Recipe, len(recipes))
	ids := make([]int64, 0, len(recipes))
	for i := range recipes {
		recipes[i].Tags = []types.Tag{}
		recipes[i].Ingredients = []types.Ingredient{}
		index[recipes[i].ID] = &recipes[i]
		ids = append(ids, recipes[i].ID)
	}

	const tagQuery = `
		SELECT rt.recipe_id, t.id, t.user_id, t.name
		FROM recipe_tags rt
		JOIN tags t ON t.id = rt.tag_id
		WHERE rt.recipe_id = ANY($1)
		ORDER BY t.name DESC, t.id DESC`
	rows, err := r.db.QueryContext(ctx, tagQuery, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var recipeID int64
		var tag types.Tag
		if err := rows.Scan(&recipeID, &tag.ID, &tag.UserID, &tag.Name); err != nil {
			return err
		}
		if recipe, ok := index[recipeID]; ok {
			recipe.Tags = append(recipe.Tags, tag)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	const ingredientQuery = `
		SELECT ri.recipe_id, i.id, i.user_id, i.name
		FROM recipe_ingredients ri
		JOIN ingredients i ON i.id = ri.ingredient_id
		WHERE ri.recipe_id = ANY($1)
		ORDER BY i.name DESC, i.id DESC`
	ingredientRows, err := r.db.QueryContext(ctx, ingredientQuery, pq.Array(ids))
	if err != nil {
		return err
	}
	defer ingredientRows.Close()
	for ingredientRows.Next() {
		var recipeID int64
		var ingredient types.Ingredient
		if err := ingredientRows.Scan(&recipeID, &ingredient.ID, &ingredient.UserID, &ingredient.Name); err != nil {
			return err
		}
		if recipe, ok := index[recipeID]; ok {
			recipe.Ingredients = append(recipe.Ingredients, ingredient)
		}
	}
	return ingredientRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (types.Recipe, error) {
	var recipe types.Recipe
	err := row.Scan(
		&recipe.ID,
		&recipe.UserID,
		&recipe.Title,
		&recipe.TimeMin,
		&recipe.Price,
		&recipe.Link,
		&recipe.ImagePath,
		&recipe.CreatedAt,
		&recipe.UpdatedAt,
	)
	if err != nil {
		return types.Recipe{}, err
	}
	return recipe, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
